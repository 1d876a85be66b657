package settings

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/harveysanders/miatadash/telemetry/leds"
)

// memFlash is a NOR-flash fake: erase sets bytes to 0xFF, writes can only
// clear bits.
type memFlash struct {
	data      []byte
	block     int64
	failWrite error
	failErase error
	writes    int
}

func newMemFlash(blocks int) *memFlash {
	f := &memFlash{data: make([]byte, int64(blocks)*4096), block: 4096}
	for i := range f.data {
		f.data[i] = 0xFF
	}
	return f
}

func (f *memFlash) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.data[off:]), nil
}

func (f *memFlash) WriteAt(p []byte, off int64) (int, error) {
	if f.failWrite != nil {
		return 0, f.failWrite
	}
	f.writes++
	for i, b := range p {
		f.data[off+int64(i)] &= b
	}
	return len(p), nil
}

func (f *memFlash) Size() int64           { return int64(len(f.data)) }
func (f *memFlash) WriteBlockSize() int64 { return 256 }
func (f *memFlash) EraseBlockSize() int64 { return f.block }

func (f *memFlash) EraseBlocks(start, n int64) error {
	if f.failErase != nil {
		return f.failErase
	}
	for i := start * f.block; i < (start+n)*f.block; i++ {
		f.data[i] = 0xFF
	}
	return nil
}

func TestCRC16CheckValue(t *testing.T) {
	if got := CRC16([]byte("123456789")); got != 0x29B1 {
		t.Fatalf("CRC16 = %#04x, want 0x29b1", got)
	}
}

func TestRecordRoundTripAndRejects(t *testing.T) {
	s := Defaults()
	s.Brightness = 42
	s.LEDSequence = leds.CenterIn
	s.DemoMode = true
	rec := Encode(s, 7)

	got, gen, err := Decode(rec[:])
	if err != nil || gen != 7 || got != s {
		t.Fatalf("Decode = %+v gen %d err %v", got, gen, err)
	}

	tests := []struct {
		name string
		mod  func(b []byte) []byte
		want error
	}{
		{"short", func(b []byte) []byte { return b[:RecordSize-1] }, ErrShort},
		{"magic", func(b []byte) []byte { b[0] ^= 0xFF; return b }, ErrMagic},
		{"flipped payload byte", func(b []byte) []byte { b[16] ^= 0x01; return b }, ErrCRC},
		{"flipped crc", func(b []byte) []byte { b[RecordSize-1] ^= 0x80; return b }, ErrCRC},
	}
	for _, tt := range tests {
		b := rec
		_, _, err := Decode(tt.mod(b[:]))
		if !errors.Is(err, tt.want) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestAdjustClampsAndWraps(t *testing.T) {
	s := Defaults()
	for i := 0; i < 5; i++ {
		s.Adjust(IDBrightness, +1)
	}
	if s.Brightness != 100 {
		t.Fatalf("brightness = %d, want clamped 100", s.Brightness)
	}
	s.Adjust(IDLEDSequence, -1)
	if s.LEDSequence != leds.CenterIn {
		t.Fatalf("sequence wrapped to %v", s.LEDSequence)
	}
	s.Adjust(IDDemoMode, 1)
	if !s.DemoMode {
		t.Fatal("demo not toggled")
	}
	s.Adjust(IDShiftRPM, 100)
	if s.ShiftRPM > s.RedlineRPM {
		t.Fatalf("shift %d above redline %d", s.ShiftRPM, s.RedlineRPM)
	}
}

func TestAppendValue(t *testing.T) {
	s := Defaults()
	tests := []struct {
		id   ID
		want string
	}{
		{IDBrightness, "80%"},
		{IDTireLow, "28.0 psi"},
		{IDUnits, "mph"},
		{IDLEDSequence, "center-out"},
		{IDShiftRPM, "6500"},
	}
	for _, tt := range tests {
		if got := string(s.AppendValue(nil, tt.id)); got != tt.want {
			t.Errorf("%v = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestMutateCommitsAfterQuietWindow(t *testing.T) {
	flash := newMemFlash(2)
	m := Open(Config{Device: flash})
	if *m.Get() != Defaults() {
		t.Fatalf("blank flash loaded %+v", *m.Get())
	}
	before := m.Get()

	m.Mutate(1000, func(s *Settings) { s.Brightness = 90 })
	if before.Brightness != 80 {
		t.Fatal("published copy was modified in place")
	}
	m.Mutate(1500, func(s *Settings) { s.Brightness = 100 })

	if m.Tick(3000) {
		t.Fatal("committed before the window closed")
	}
	if !m.Tick(3500) {
		t.Fatal("no commit after 2 s of quiet")
	}
	if m.Pending() {
		t.Fatal("still pending after commit")
	}

	// Power cycle.
	m2 := Open(Config{Device: flash})
	if got := m2.Get().Brightness; got != 100 {
		t.Fatalf("after reboot brightness = %d, want 100", got)
	}
}

func TestMutateNoChangeIsNotDirty(t *testing.T) {
	m := Open(Config{})
	if m.Mutate(0, func(s *Settings) { s.Brightness = 80 }) {
		t.Fatal("identical value reported as a change")
	}
	if m.Pending() {
		t.Fatal("pending without change")
	}
}

func TestAlternatingSlotsKeepOneRecord(t *testing.T) {
	flash := newMemFlash(2)
	m := Open(Config{Device: flash})
	for i := 0; i < 5; i++ {
		m.Mutate(uint32(i*10000), func(s *Settings) { s.CoolantWarn = int16(100 + i) })
		if err := m.Flush(); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
		valid := 0
		for slot := int64(0); slot < 2; slot++ {
			if _, _, err := Decode(flash.data[slot*4096:]); err == nil {
				valid++
			}
		}
		if valid != 1 {
			t.Fatalf("after commit %d: %d valid records", i, valid)
		}
	}
	if got := Open(Config{Device: flash}).Get().CoolantWarn; got != 104 {
		t.Fatalf("reloaded coolant warn %d", got)
	}
}

func TestTornWriteKeepsPreviousRecord(t *testing.T) {
	flash := newMemFlash(2)
	m := Open(Config{Device: flash})
	m.Mutate(0, func(s *Settings) { s.Brightness = 55 })
	if err := m.Flush(); err != nil {
		t.Fatal(err)
	}

	flash.failWrite = errors.New("brownout")
	m.Mutate(10, func(s *Settings) { s.Brightness = 60 })
	if m.Tick(2010) {
		t.Fatal("commit reported success on write failure")
	}
	if !m.Pending() {
		t.Fatal("failed commit cleared pending")
	}
	if _, failed := m.Commits(); failed != 1 {
		t.Fatalf("failed commits = %d", failed)
	}

	if got := Open(Config{Device: flash}).Get().Brightness; got != 55 {
		t.Fatalf("reloaded brightness %d, want previous 55", got)
	}
}

func TestCorruptRecordLoadsDefaultsWithOneLine(t *testing.T) {
	flash := newMemFlash(2)
	m := Open(Config{Device: flash})
	m.Mutate(0, func(s *Settings) { s.Brightness = 30 })
	if err := m.Flush(); err != nil {
		t.Fatal(err)
	}
	// Flip one byte of the stored record.
	var off int64
	if _, _, err := Decode(flash.data[:RecordSize]); err != nil {
		off = 4096
	}
	flash.data[off+12] ^= 0x40

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	m2 := Open(Config{Device: flash, Logger: logger})
	if *m2.Get() != Defaults() {
		t.Fatalf("corrupt record loaded %+v", *m2.Get())
	}
	lines := strings.Count(logs.String(), "\n")
	if lines != 1 || !strings.Contains(logs.String(), "settings:invalid-record") {
		t.Fatalf("diagnostics = %q", logs.String())
	}

	// Still fully usable.
	m2.Mutate(0, func(s *Settings) { s.Brightness = 70 })
	if err := m2.Flush(); err != nil {
		t.Fatalf("Flush after corrupt boot: %v", err)
	}
	if got := Open(Config{Device: flash}).Get().Brightness; got != 70 {
		t.Fatalf("brightness %d", got)
	}
}
