package inspect

import (
	"errors"
	"strings"
	"testing"

	"github.com/harveysanders/miatadash/telemetry/sdlog"
	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemetry/signal"
)

func TestReadImageDefaults(t *testing.T) {
	slots, err := ReadImage(DefaultImage(BlockSize, 2), BlockSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots", len(slots))
	}
	if slots[0].State != Valid || slots[0].Generation != 1 || slots[0].Settings != settings.Defaults() {
		t.Fatalf("slot 0: %+v", slots[0])
	}
	if slots[1].State != Blank || slots[1].Offset != BlockSize {
		t.Fatalf("slot 1: %+v", slots[1])
	}
	if Active(slots) != 0 {
		t.Fatalf("active %d", Active(slots))
	}
}

func TestReadImageNewestAndCorrupt(t *testing.T) {
	img := DefaultImage(BlockSize, 2)
	s := settings.Defaults()
	s.Brightness = 40
	rec := settings.Encode(s, 2)
	copy(img[BlockSize:], rec[:])

	slots, _ := ReadImage(img, BlockSize)
	if a := Active(slots); a != 1 || slots[a].Settings.Brightness != 40 {
		t.Fatalf("active %d", a)
	}

	img[BlockSize+17] ^= 0xFF
	slots, _ = ReadImage(img, BlockSize)
	if slots[1].State != Invalid || !errors.Is(slots[1].Err, settings.ErrCRC) {
		t.Fatalf("slot 1: %v %v", slots[1].State, slots[1].Err)
	}
	if Active(slots) != 0 {
		t.Fatal("corrupt slot selected")
	}
}

func TestReadImageBareRecord(t *testing.T) {
	rec := settings.Encode(settings.Defaults(), 7)
	slots, err := ReadImage(rec[:], BlockSize)
	if err != nil || len(slots) != 1 || slots[0].Generation != 7 {
		t.Fatalf("slots %+v err %v", slots, err)
	}
	if _, err := ReadImage(rec[:10], BlockSize); err != ErrEmptyImage {
		t.Fatalf("short image: %v", err)
	}
}

func TestActiveWrapsGeneration(t *testing.T) {
	slots := []Slot{
		{State: Valid, Generation: 0xFFFFFFFF},
		{State: Valid, Generation: 1},
	}
	if Active(slots) != 1 {
		t.Fatal("wrapped generation not newest")
	}
}

func TestSummarizeFirmwareLog(t *testing.T) {
	b := sdlog.AppendHeader(nil)
	var snap signal.Snapshot
	for i := 0; i < 3; i++ {
		snap.RPM = uint16(3000 + 1000*i)
		snap.Speed = uint16(50 + i)
		b = sdlog.AppendRow(b, uint32(1000+100*i), &snap)
	}
	b = append(b, "garbage,row\n"...)

	sum, err := Summarize(strings.NewReader(string(b)))
	if err != nil {
		t.Fatal(err)
	}
	if sum.Rows != 3 || sum.Bad != 1 {
		t.Fatalf("rows %d bad %d", sum.Rows, sum.Bad)
	}
	if sum.DurationMs() != 200 {
		t.Fatalf("duration %d", sum.DurationMs())
	}
	rpm := sum.Columns[1]
	if rpm.Name != "rpm" || rpm.Min != 3000 || rpm.Max != 5000 || rpm.Mean() != 4000 {
		t.Fatalf("rpm %+v mean %v", rpm, rpm.Mean())
	}
	lat := sum.Columns[len(sum.Columns)-2]
	if lat.Name != "lat" || lat.Count != 0 {
		t.Fatalf("lat counted without a fix: %+v", lat)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	if _, err := Summarize(strings.NewReader("")); err != ErrNoHeader {
		t.Fatalf("err %v", err)
	}
}
