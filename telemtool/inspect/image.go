// Package inspect reads the artifacts the firmware leaves behind: settings
// flash images and SD log files.
package inspect

import (
	"errors"

	"github.com/harveysanders/miatadash/telemetry/settings"
)

// BlockSize is the flash erase block each settings slot occupies.
const BlockSize = 4096

// SlotState describes what a slot holds.
type SlotState uint8

const (
	Blank SlotState = iota
	Valid
	Invalid
)

func (s SlotState) String() string {
	switch s {
	case Blank:
		return "blank"
	case Valid:
		return "valid"
	}
	return "invalid"
}

// Slot is one decoded settings slot.
type Slot struct {
	Index      int
	Offset     int
	State      SlotState
	Generation uint32
	Settings   settings.Settings
	Err        error
}

// ErrEmptyImage is returned for an image too short to hold a record.
var ErrEmptyImage = errors.New("inspect: image shorter than one record")

// ReadImage splits a flash dump into slots of block bytes and decodes each.
// A dump shorter than one block is treated as a single bare record.
func ReadImage(img []byte, block int) ([]Slot, error) {
	if len(img) < settings.RecordSize {
		return nil, ErrEmptyImage
	}
	if block <= 0 || len(img) < block {
		block = len(img)
	}
	var slots []Slot
	for off := 0; off+settings.RecordSize <= len(img); off += block {
		rec := img[off : off+settings.RecordSize]
		sl := Slot{Index: len(slots), Offset: off}
		if blank(rec) {
			sl.State = Blank
		} else if s, gen, err := settings.Decode(rec); err != nil {
			sl.State, sl.Err = Invalid, err
		} else {
			sl.State, sl.Generation, sl.Settings = Valid, gen, s
		}
		slots = append(slots, sl)
	}
	return slots, nil
}

// Active returns the index of the slot the firmware would load: the valid
// one with the newest generation, compared with wraparound. It returns -1
// when none is valid.
func Active(slots []Slot) int {
	best := -1
	for i, sl := range slots {
		if sl.State != Valid {
			continue
		}
		if best < 0 || int32(sl.Generation-slots[best].Generation) > 0 {
			best = i
		}
	}
	return best
}

// DefaultImage returns an erased image of n slots with a factory record in
// slot 0.
func DefaultImage(block, n int) []byte {
	img := make([]byte, block*n)
	for i := range img {
		img[i] = 0xFF
	}
	rec := settings.Encode(settings.Defaults(), 1)
	copy(img, rec[:])
	return img
}

func blank(b []byte) bool {
	for _, c := range b {
		if c != 0xFF {
			return false
		}
	}
	return true
}
