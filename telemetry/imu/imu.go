// Package imu provides the g-force path: throttled accelerometer reads,
// a gravity estimate learned while the car stands still, and publication
// into the Signal Cache.
package imu

import (
	"io"
	"log/slog"
	"math"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

// Accelerometer is the sensor surface the IMU path needs.
type Accelerometer interface {
	// ReadAcceleration returns the acceleration per axis in micro-g.
	ReadAcceleration() (x, y, z int32, err error)
}

// Config configures a Sensor.
type Config struct {
	Device Accelerometer
	Cache  *signal.Cache
	Logger *slog.Logger
	// IntervalMs is the minimum time between device reads. Defaults to 10.
	IntervalMs uint32
	// GravityAlpha is the low-pass coefficient for the gravity estimate.
	// Defaults to 0.02.
	GravityAlpha float32
	// RestToleranceG bounds how far the measured magnitude may stray from
	// 1 g for a sample to count as at rest. Defaults to 0.05.
	RestToleranceG float32
}

// Sensor wraps an accelerometer with throttling and caching. Reads inside
// the interval return the cached values.
type Sensor struct {
	dev   Accelerometer
	cache *signal.Cache
	log   *slog.Logger

	raw           [3]float32 // last read, g
	gravity       [3]float32 // low-passed gravity estimate, g
	lastReadMs    uint32
	minIntervalMs uint32
	alpha         float32
	restTol       float32
	hasValidCache bool

	errors   uint32
	reported bool
}

// New returns a Sensor.
func New(cfg Config) *Sensor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	if cfg.IntervalMs == 0 {
		cfg.IntervalMs = 10
	}
	if cfg.GravityAlpha == 0 {
		cfg.GravityAlpha = 0.02
	}
	if cfg.RestToleranceG == 0 {
		cfg.RestToleranceG = 0.05
	}
	return &Sensor{
		dev:           cfg.Device,
		cache:         cfg.Cache,
		log:           logger,
		minIntervalMs: cfg.IntervalMs,
		alpha:         cfg.GravityAlpha,
		restTol:       cfg.RestToleranceG,
	}
}

// ReadMeasurements returns raw and gravity-compensated acceleration in g,
// whether the values came from cache, and any device error. On error the
// cached values are returned.
func (s *Sensor) ReadMeasurements(nowMs uint32) (raw, comp [3]float32, isCached bool, err error) {
	if s.hasValidCache && nowMs-s.lastReadMs < s.minIntervalMs {
		return s.raw, s.compensated(), true, nil
	}
	x, y, z, err := s.dev.ReadAcceleration()
	if err != nil {
		return s.raw, s.compensated(), s.hasValidCache, err
	}
	s.raw = [3]float32{float32(x) / 1e6, float32(y) / 1e6, float32(z) / 1e6}
	switch {
	case !s.hasValidCache:
		s.gravity = s.raw
	case s.atRest():
		for i := range s.gravity {
			s.gravity[i] += s.alpha * (s.raw[i] - s.gravity[i])
		}
	}
	s.lastReadMs = nowMs
	s.hasValidCache = true
	return s.raw, s.compensated(), false, nil
}

// atRest reports whether the last sample can only be gravity: the total is
// within tolerance of 1 g and the cache shows the car stopped. Cornering or
// braking load never feeds the estimate, however long it is held.
func (s *Sensor) atRest() bool {
	r := s.raw
	mag := float32(math.Sqrt(float64(r[0]*r[0] + r[1]*r[1] + r[2]*r[2])))
	if mag < 1-s.restTol || mag > 1+s.restTol {
		return false
	}
	if s.cache == nil {
		return true
	}
	snap, ok := s.cache.Load()
	return ok && snap.Speed == 0
}

func (s *Sensor) compensated() [3]float32 {
	var c [3]float32
	for i := range c {
		c[i] = s.raw[i] - s.gravity[i]
	}
	return c
}

// Tick reads the sensor if due and publishes a fresh sample to the cache.
// Errors are counted; the first of a run is logged.
func (s *Sensor) Tick(nowMs uint32) {
	if s.dev == nil {
		return
	}
	raw, comp, cached, err := s.ReadMeasurements(nowMs)
	if err != nil {
		s.errors++
		if !s.reported {
			s.reported = true
			s.log.Warn("imu:read-failed", slog.String("err", err.Error()))
		}
		return
	}
	s.reported = false
	if cached || s.cache == nil {
		return
	}
	w := s.cache.Begin()
	w.AccelRaw = raw
	w.AccelComp = comp
	s.cache.Commit(signal.GroupMotion, nowMs)
}

// Errors returns the read error count.
func (s *Sensor) Errors() uint32 { return s.errors }
