package settings

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"tinygo.org/x/tinyfs"

	"github.com/harveysanders/miatadash/telemetry/leds"
)

// QuietMs is how long settings must stay unchanged before they are
// written to flash.
const QuietMs = 2000

// Manager owns the live settings. Readers call Get, which is lock free;
// the dashboard mutates through Mutate, which publishes a fresh copy.
//
// Two erase blocks hold the record. A commit writes the new record into
// the empty block, verifies it, then erases the old one, so a power cut at
// any point leaves at least one intact record.
type Manager struct {
	dev tinyfs.BlockDevice
	log *slog.Logger

	cur atomic.Pointer[Settings]

	gen      uint32
	slot     int // block holding the live record, -1 if none
	dirty    bool
	lastMut  uint32
	buf      []byte
	commits  uint32
	failures uint32
}

// Config configures a Manager.
type Config struct {
	// Device is the flash region reserved for settings; it needs at least
	// two erase blocks. Nil keeps settings in memory only.
	Device tinyfs.BlockDevice
	Logger *slog.Logger
}

// Open loads the newest valid record, or defaults. It never fails: a
// missing or corrupt record is reported with one log line and defaults are
// used.
func Open(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)}))
	}
	m := &Manager{dev: cfg.Device, log: logger, slot: -1}
	s := m.load()
	m.cur.Store(&s)
	return m
}

func (m *Manager) load() Settings {
	if m.dev == nil {
		return Defaults()
	}
	wbs := int(m.dev.WriteBlockSize())
	if wbs < RecordSize {
		wbs = RecordSize
	}
	m.buf = make([]byte, (RecordSize+wbs-1)/wbs*wbs)

	var (
		best    Settings
		found   bool
		lastErr error
	)
	for slot := 0; slot < 2; slot++ {
		raw := m.buf[:RecordSize]
		if _, err := m.dev.ReadAt(raw, m.offset(slot)); err != nil {
			lastErr = errors.New("read:" + err.Error())
			continue
		}
		if blank(raw) {
			continue
		}
		s, gen, err := Decode(raw)
		if err != nil {
			lastErr = err
			continue
		}
		if !found || int32(gen-m.gen) > 0 {
			best, found = s, true
			m.gen, m.slot = gen, slot
		}
	}
	switch {
	case found:
		m.log.Info("settings:loaded", slog.Uint64("generation", uint64(m.gen)), slog.Int("slot", m.slot))
		return best
	case lastErr != nil:
		m.log.Error("settings:invalid-record", slog.String("err", lastErr.Error()))
	default:
		m.log.Info("settings:no-record")
	}
	return Defaults()
}

func blank(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return true
}

func (m *Manager) offset(slot int) int64 {
	return int64(slot) * m.dev.EraseBlockSize()
}

// Get returns the published settings. The pointee must not be modified.
func (m *Manager) Get() *Settings { return m.cur.Load() }

// LEDParams implements leds.ParamsSource.
func (m *Manager) LEDParams() leds.Params { return m.Get().LEDParams() }

// Mutate applies fn to a private copy and publishes it if anything
// changed. It reports whether the settings changed.
func (m *Manager) Mutate(nowMs uint32, fn func(s *Settings)) bool {
	old := m.cur.Load()
	next := *old
	fn(&next)
	next.Sanitize()
	if next == *old {
		return false
	}
	m.cur.Store(&next)
	m.dirty = true
	m.lastMut = nowMs
	return true
}

// Pending reports whether a change is waiting to be committed.
func (m *Manager) Pending() bool { return m.dirty }

// Tick commits pending changes once QuietMs have passed since the last
// mutation. It reports whether a commit happened.
func (m *Manager) Tick(nowMs uint32) bool {
	if !m.dirty || nowMs-m.lastMut < QuietMs {
		return false
	}
	if err := m.Flush(); err != nil {
		// Keep dirty and retry after another quiet window.
		m.lastMut = nowMs
		return false
	}
	return true
}

// Flush commits the current settings immediately.
func (m *Manager) Flush() error {
	if m.dev == nil {
		m.dirty = false
		return nil
	}
	s := m.cur.Load()
	target := 0
	if m.slot == 0 {
		target = 1
	}
	rec := Encode(*s, m.gen+1)
	for i := range m.buf {
		m.buf[i] = 0xFF
	}
	copy(m.buf, rec[:])

	if err := m.commit(target, rec[:]); err != nil {
		m.failures++
		m.log.Error("settings:commit-failed", slog.Int("slot", target), slog.String("err", err.Error()))
		return err
	}
	if m.slot >= 0 {
		if err := m.dev.EraseBlocks(int64(m.slot), 1); err != nil {
			// Both records stay valid; the newer generation wins at load.
			m.log.Warn("settings:erase-old-failed", slog.String("err", err.Error()))
		}
	}
	m.gen++
	m.slot = target
	m.dirty = false
	m.commits++
	m.log.Info("settings:committed", slog.Uint64("generation", uint64(m.gen)))
	return nil
}

func (m *Manager) commit(target int, rec []byte) error {
	if err := m.dev.EraseBlocks(int64(target), 1); err != nil {
		return errors.New("erase:" + err.Error())
	}
	if _, err := m.dev.WriteAt(m.buf, m.offset(target)); err != nil {
		return errors.New("write:" + err.Error())
	}
	check := make([]byte, RecordSize)
	if _, err := m.dev.ReadAt(check, m.offset(target)); err != nil {
		return errors.New("verify:" + err.Error())
	}
	if !bytes.Equal(check, rec) {
		return errors.New("verify: readback mismatch")
	}
	return nil
}

// Commits returns the number of successful and failed commits.
func (m *Manager) Commits() (ok, failed uint32) { return m.commits, m.failures }
