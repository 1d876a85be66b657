// Package canbus is the Bus Ingest component. It receives CAN frames from
// the controller, decodes the known IDs into the Signal Cache, derives
// engine_running and connected, and hands steering-wheel frames to
// control-plane subscribers.
//
// The interrupt half (OnInterrupt) only touches the frame queue. All decoding
// happens in Poll on the main loop, so frames are applied to the cache in
// arrival order and frame N is visible before frame N+1 is decoded.
package canbus

import (
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/harveysanders/miatadash/telemetry/signal"
)

const (
	// InitAttempts is how many times Start tries to bring up the controller.
	InitAttempts = 3
	// InitBackoff is the pause between attempts.
	InitBackoff = 100 * time.Millisecond
	// ConnectedTimeoutMs is how long the bus may stay silent before
	// connected goes false.
	ConnectedTimeoutMs = 500

	runningAboveRPM  = 400
	runningAboveMs   = 200
	stoppedBelowRPM  = 200
	stoppedBelowMs   = 500
	maxSubscriptions = 4
)

// ErrDegraded is returned by Start when the controller never initialized.
var ErrDegraded = errors.New("canbus: controller unavailable, running degraded")

// Controller is the CAN controller driver the ingest consumes.
type Controller interface {
	// Begin configures the controller for 500 kbit/s operation.
	Begin() error
	// Received reports whether a frame is waiting in hardware.
	Received() bool
	// Rx reads the next frame from hardware.
	Rx() (Frame, error)
}

// Handler receives control-plane frames. data aliases the ingest's frame
// buffer and is only valid for the duration of the call.
type Handler func(id uint32, data []byte, nowMs uint32)

// Config configures an Ingest.
type Config struct {
	Controller Controller
	Cache      *signal.Cache
	Logger     *slog.Logger
	// Table overrides DefaultTable.
	Table []Decoder
	// ReadInISR drains the controller from OnInterrupt instead of from Poll.
	ReadInISR bool
	// Sleep is used for the init backoff. Defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Stats are the ingest counters.
type Stats struct {
	Frames        uint32 // frames decoded
	Unknown       uint32 // frames with IDs not in the table
	Invalid       uint32 // frames rejected for length or checksum
	Overflows     uint32 // frames dropped by the interrupt queue
	RxErrors      uint32 // controller read errors
	LastUnknownID uint32
}

type subscription struct {
	id uint32
	fn Handler
}

// Ingest is the Bus Ingest component.
type Ingest struct {
	cfg   Config
	log   *slog.Logger
	queue Queue
	table []Decoder
	errs  []uint32 // per-table-entry error counters

	pending  atomic.Bool
	rxErrors atomic.Uint32

	subs  [maxSubscriptions]subscription
	nsubs int

	degraded bool
	stats    Stats

	lastFrameMs uint32
	seenFrame   bool

	aboveSince, belowSince uint32
	above, below           bool
	// resume is set when the bus dropped while the engine was running; the
	// first engine frame after reconnect skips the start hysteresis.
	resume bool
}

// New returns an Ingest. Call Start before Poll.
func New(cfg Config) *Ingest {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	table := cfg.Table
	if table == nil {
		table = DefaultTable
	}
	return &Ingest{
		cfg:   cfg,
		log:   logger,
		table: table,
		errs:  make([]uint32, len(table)),
	}
}

// Start initializes the controller. After InitAttempts failures the ingest
// enters degraded mode: Poll keeps running the connected timeout so the
// renderers see connected=false, and Start returns ErrDegraded.
func (i *Ingest) Start() error {
	var err error
	for attempt := 1; attempt <= InitAttempts; attempt++ {
		if i.cfg.Controller == nil {
			err = errors.New("no controller")
			break
		}
		err = i.cfg.Controller.Begin()
		if err == nil {
			i.degraded = false
			i.log.Info("canbus:ready", slog.Int("attempt", attempt))
			return nil
		}
		i.log.Warn("canbus:init-failed", slog.Int("attempt", attempt), slog.String("err", err.Error()))
		if attempt < InitAttempts {
			i.cfg.Sleep(InitBackoff)
		}
	}
	i.degraded = true
	i.log.Error("canbus:degraded", slog.String("err", err.Error()))
	return ErrDegraded
}

// Degraded reports whether the controller failed to initialize.
func (i *Ingest) Degraded() bool { return i.degraded }

// OnInterrupt is the controller INT handler. It marks frames pending and,
// with ReadInISR, moves them from hardware into the queue.
func (i *Ingest) OnInterrupt() {
	i.pending.Store(true)
	if i.cfg.ReadInISR {
		i.drain()
	}
}

// Enqueue pushes a frame as if the controller had received it. Used by
// simulated controllers and replay.
func (i *Ingest) Enqueue(f Frame) {
	i.queue.Push(&f)
}

func (i *Ingest) drain() {
	if i.degraded || i.cfg.Controller == nil {
		return
	}
	for n := 0; n < QueueLen && i.cfg.Controller.Received(); n++ {
		f, err := i.cfg.Controller.Rx()
		if err != nil {
			i.rxErrors.Add(1)
			return
		}
		i.queue.Push(&f)
	}
}

// Subscribe registers fn for a control-plane ID. At most four
// subscriptions are kept; extra ones are ignored.
func (i *Ingest) Subscribe(id uint32, fn Handler) {
	if i.nsubs == len(i.subs) {
		i.log.Warn("canbus:subscribe-full", slog.Uint64("id", uint64(id)))
		return
	}
	i.subs[i.nsubs] = subscription{id: id, fn: fn}
	i.nsubs++
}

// Poll drains all pending frames into the cache and applies the connected
// timeout. It returns the number of frames handled.
func (i *Ingest) Poll(nowMs uint32) int {
	if i.pending.Swap(false) && !i.cfg.ReadInISR {
		i.drain()
	}
	var f Frame
	n := 0
	for i.queue.Pop(&f) {
		i.handle(&f, nowMs)
		n++
	}
	i.checkTimeout(nowMs)
	return n
}

func (i *Ingest) lookup(id uint32) int {
	for k := range i.table {
		if i.table[k].ID == id {
			return k
		}
	}
	return -1
}

func (i *Ingest) handle(f *Frame, nowMs uint32) {
	k := i.lookup(f.ID)
	if k < 0 {
		i.stats.Unknown++
		i.stats.LastUnknownID = f.ID
		return
	}
	dec := &i.table[k]
	if f.Len > 8 || f.Len < dec.MinLen {
		i.errs[k]++
		i.stats.Invalid++
		return
	}
	d := f.Payload()
	if dec.Valid != nil && !dec.Valid(d) {
		i.errs[k]++
		i.stats.Invalid++
		return
	}
	i.stats.Frames++

	s := i.cache().Begin()
	groups := dec.Groups
	i.lastFrameMs = nowMs
	i.seenFrame = true
	if !s.Connected {
		s.Connected = true
		groups |= signal.GroupStatus
	}

	if dec.Control {
		if groups != 0 {
			i.cache().Commit(groups, nowMs)
		}
		for j := 0; j < i.nsubs; j++ {
			if i.subs[j].id == f.ID {
				i.subs[j].fn(f.ID, d, nowMs)
			}
		}
		return
	}

	dec.Decode(d, s)
	if dec.Groups&signal.GroupEngine != 0 && i.updateRunning(s, nowMs) {
		groups |= signal.GroupStatus
	}
	i.cache().Commit(groups, nowMs)
}

// updateRunning applies the engine_running hysteresis to the current rpm
// and reports whether the flag changed.
func (i *Ingest) updateRunning(s *signal.Snapshot, nowMs uint32) bool {
	if i.resume {
		i.resume = false
		if s.RPM > runningAboveRPM && !s.EngineRunning {
			i.above, i.aboveSince = true, nowMs
			s.EngineRunning = true
			return true
		}
	}
	if s.RPM > runningAboveRPM {
		if !i.above {
			i.above, i.aboveSince = true, nowMs
		}
	} else {
		i.above = false
	}
	if s.RPM < stoppedBelowRPM {
		if !i.below {
			i.below, i.belowSince = true, nowMs
		}
	} else {
		i.below = false
	}

	switch {
	case !s.EngineRunning && i.above && nowMs-i.aboveSince >= runningAboveMs:
		s.EngineRunning = true
		return true
	case s.EngineRunning && i.below && nowMs-i.belowSince >= stoppedBelowMs:
		s.EngineRunning = false
		return true
	}
	return false
}

// checkTimeout drops connected after ConnectedTimeoutMs of silence. With
// no evidence of the engine either, engine_running is cleared too.
func (i *Ingest) checkTimeout(nowMs uint32) {
	s := i.cache().Begin()
	if !s.Connected {
		return
	}
	if i.seenFrame && nowMs-i.lastFrameMs <= ConnectedTimeoutMs {
		return
	}
	s.Connected = false
	i.resume = s.EngineRunning
	s.EngineRunning = false
	i.above, i.below = false, false
	i.cache().Commit(signal.GroupStatus, nowMs)
	i.log.Warn("canbus:disconnected", slog.Uint64("silentMs", uint64(nowMs-i.lastFrameMs)))
}

func (i *Ingest) cache() *signal.Cache {
	if i.cfg.Cache == nil {
		i.cfg.Cache = new(signal.Cache)
	}
	return i.cfg.Cache
}

// Stats returns a copy of the counters.
func (i *Ingest) Stats() Stats {
	st := i.stats
	st.Overflows = i.queue.Overflows()
	st.RxErrors = i.rxErrors.Load()
	return st
}

// Errors returns the error count for one CAN ID.
func (i *Ingest) Errors(id uint32) uint32 {
	if k := i.lookup(id); k >= 0 {
		return i.errs[k]
	}
	return 0
}
