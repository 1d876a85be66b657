// Package signal holds the Signal Cache: the single shared snapshot of the
// latest decoded vehicle signals.
//
// The cache has exactly one writer (Bus Ingest's deferred decoder, plus the
// IMU and GPS collaborators that run on the same main loop) and any number
// of readers. A single sequence word is bumped before and after each group
// update; readers retry while the word is odd or changed under them. The
// payload lives in atomic words so readers never observe a torn value.
package signal

import (
	"math"
	"runtime"
	"sync/atomic"
)

// Groups is a set of field groups. Each group carries its own update stamp.
type Groups uint16

const (
	GroupEngine   Groups = 1 << iota // rpm, throttle
	GroupVehicle                     // speed, gear, brake
	GroupTemps                       // coolant, oil temp
	GroupFluids                      // oil pressure, fuel, voltage
	GroupTPMS                        // tire pressure and temperature
	GroupWarnings                    // warning lamps
	GroupMotion                      // accelerometer
	GroupPosition                    // GPS fix
	GroupStatus                      // engine_running, connected
)

// NumGroups is the number of field groups.
const NumGroups = 9

// MaxReadRetries bounds the reader loop in Load.
const MaxReadRetries = 8

// Warnings is the warning lamp bitset.
type Warnings uint8

const (
	WarnCheckEngine Warnings = 1 << iota
	WarnABS
	WarnOil
	WarnBattery
)

// Has reports whether all bits in w2 are set.
func (w Warnings) Has(w2 Warnings) bool { return w&w2 == w2 }

// Tire corners, in TPMS frame order.
const (
	FrontLeft = iota
	FrontRight
	RearLeft
	RearRight
)

// Snapshot is a copy of the cache at one point in time.
type Snapshot struct {
	RPM         uint16 // rev/min
	Speed       uint16 // km/h
	Gear        int8   // -1 reverse, 0 neutral, 1-6
	Throttle    uint8  // percent
	Brake       uint8  // percent
	Coolant     int16  // °C
	OilTemp     int16  // °C
	OilPressure uint16 // kPa x10
	Fuel        uint16 // percent
	Voltage     uint16 // volts x100

	TirePressure [4]uint16 // kPa x10
	TireTemp     [4]int16  // °C

	Warnings Warnings

	AccelRaw  [3]float32 // g
	AccelComp [3]float32 // g, gravity removed

	Lat, Lon int32 // micro-degrees
	Fix      bool

	EngineRunning bool
	Connected     bool

	// Updated holds the last update time in ms for each group, indexed by
	// the group's bit position.
	Updated [NumGroups]uint32
}

// Stamp returns the update time of the lowest group in g.
func (s *Snapshot) Stamp(g Groups) uint32 {
	for i := 0; i < NumGroups; i++ {
		if g&(1<<i) != 0 {
			return s.Updated[i]
		}
	}
	return 0
}

// Reader yields snapshots. *Cache implements it; so does the demo overlay,
// which lets renderers run on synthetic data without knowing it.
type Reader interface {
	Load() (Snapshot, bool)
}

// word layout of the packed payload
const (
	wEngine    = iota // rpm | speed<<16
	wDrive            // gear | throttle<<8 | brake<<16 | warnings<<24
	wTemps            // coolant | oilTemp<<16
	wFluids           // oilPressure | fuel<<16
	wElec             // voltage | flags<<16
	wTireP01          // pressure FL | FR<<16
	wTireP23          // pressure RL | RR<<16
	wTireT01          // temp FL | FR<<16
	wTireT23          // temp RL | RR<<16
	wAccelRaw         // 3 words
	wAccelComp = wAccelRaw + 3
	wLat       = wAccelComp + 3
	wLon       = wLat + 1
	wStamps    = wLon + 1
	numWords   = wStamps + NumGroups
)

const (
	flagRunning = 1 << iota
	flagConnected
	flagFix
)

// Cache is the seqlock-guarded signal snapshot. The zero value is ready to
// use. Update must only be called from one goroutine.
type Cache struct {
	seq   atomic.Uint32
	words [numWords]atomic.Uint32

	// w is the writer's private master copy.
	w Snapshot
}

// Update applies fn to the writer's copy, stamps every group in g with
// nowMs and publishes the result. Readers see either all of fn's changes
// or none of them.
func (c *Cache) Update(g Groups, nowMs uint32, fn func(s *Snapshot)) {
	if fn != nil {
		fn(&c.w)
	}
	c.Commit(g, nowMs)
}

// Begin returns the writer's private copy. Changes made through it become
// visible to readers at the next Commit. Readers must use Load.
func (c *Cache) Begin() *Snapshot { return &c.w }

// Commit stamps every group in g with nowMs and publishes the writer's
// copy.
func (c *Cache) Commit(g Groups, nowMs uint32) {
	for i := 0; i < NumGroups; i++ {
		if g&(1<<i) != 0 {
			c.w.Updated[i] = nowMs
		}
	}
	c.seq.Add(1)
	c.pack(&c.w)
	c.seq.Add(1)
}

// Seq returns the current sequence word. It changes on every update.
func (c *Cache) Seq() uint32 { return c.seq.Load() }

// Load returns a consistent snapshot. ok is false if the writer kept the
// cache busy for MaxReadRetries attempts; callers keep their previous
// snapshot in that case.
func (c *Cache) Load() (s Snapshot, ok bool) {
	for i := 0; i < MaxReadRetries; i++ {
		pre := c.seq.Load()
		if pre&1 != 0 {
			runtime.Gosched()
			continue
		}
		c.unpack(&s)
		if c.seq.Load() == pre {
			return s, true
		}
	}
	return Snapshot{}, false
}

func (c *Cache) pack(s *Snapshot) {
	w := &c.words
	w[wEngine].Store(uint32(s.RPM) | uint32(s.Speed)<<16)
	w[wDrive].Store(uint32(uint8(s.Gear)) | uint32(s.Throttle)<<8 | uint32(s.Brake)<<16 | uint32(s.Warnings)<<24)
	w[wTemps].Store(uint32(uint16(s.Coolant)) | uint32(uint16(s.OilTemp))<<16)
	w[wFluids].Store(uint32(s.OilPressure) | uint32(s.Fuel)<<16)
	var flags uint32
	if s.EngineRunning {
		flags |= flagRunning
	}
	if s.Connected {
		flags |= flagConnected
	}
	if s.Fix {
		flags |= flagFix
	}
	w[wElec].Store(uint32(s.Voltage) | flags<<16)
	w[wTireP01].Store(uint32(s.TirePressure[0]) | uint32(s.TirePressure[1])<<16)
	w[wTireP23].Store(uint32(s.TirePressure[2]) | uint32(s.TirePressure[3])<<16)
	w[wTireT01].Store(uint32(uint16(s.TireTemp[0])) | uint32(uint16(s.TireTemp[1]))<<16)
	w[wTireT23].Store(uint32(uint16(s.TireTemp[2])) | uint32(uint16(s.TireTemp[3]))<<16)
	for i := 0; i < 3; i++ {
		w[wAccelRaw+i].Store(math.Float32bits(s.AccelRaw[i]))
		w[wAccelComp+i].Store(math.Float32bits(s.AccelComp[i]))
	}
	w[wLat].Store(uint32(s.Lat))
	w[wLon].Store(uint32(s.Lon))
	for i := 0; i < NumGroups; i++ {
		w[wStamps+i].Store(s.Updated[i])
	}
}

func (c *Cache) unpack(s *Snapshot) {
	w := &c.words
	v := w[wEngine].Load()
	s.RPM, s.Speed = uint16(v), uint16(v>>16)
	v = w[wDrive].Load()
	s.Gear = int8(uint8(v))
	s.Throttle = uint8(v >> 8)
	s.Brake = uint8(v >> 16)
	s.Warnings = Warnings(v >> 24)
	v = w[wTemps].Load()
	s.Coolant, s.OilTemp = int16(uint16(v)), int16(uint16(v>>16))
	v = w[wFluids].Load()
	s.OilPressure, s.Fuel = uint16(v), uint16(v>>16)
	v = w[wElec].Load()
	s.Voltage = uint16(v)
	flags := v >> 16
	s.EngineRunning = flags&flagRunning != 0
	s.Connected = flags&flagConnected != 0
	s.Fix = flags&flagFix != 0
	v = w[wTireP01].Load()
	s.TirePressure[0], s.TirePressure[1] = uint16(v), uint16(v>>16)
	v = w[wTireP23].Load()
	s.TirePressure[2], s.TirePressure[3] = uint16(v), uint16(v>>16)
	v = w[wTireT01].Load()
	s.TireTemp[0], s.TireTemp[1] = int16(uint16(v)), int16(uint16(v>>16))
	v = w[wTireT23].Load()
	s.TireTemp[2], s.TireTemp[3] = int16(uint16(v)), int16(uint16(v>>16))
	for i := 0; i < 3; i++ {
		s.AccelRaw[i] = math.Float32frombits(w[wAccelRaw+i].Load())
		s.AccelComp[i] = math.Float32frombits(w[wAccelComp+i].Load())
	}
	s.Lat = int32(w[wLat].Load())
	s.Lon = int32(w[wLon].Load())
	for i := 0; i < NumGroups; i++ {
		s.Updated[i] = w[wStamps+i].Load()
	}
}

// KPaToPSI converts a kPa x10 reading to psi x10.
func KPaToPSI(kpa10 uint16) uint16 {
	return uint16((uint32(kpa10)*1000 + 3447) / 6895)
}

// PSIToKPa converts psi x10 to kPa x10.
func PSIToKPa(psi10 uint16) uint16 {
	return uint16((uint32(psi10)*6895 + 500) / 1000)
}
