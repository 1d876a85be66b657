package lcd

import (
	"errors"
	"time"
)

// Command is one controller command with its parameters and the delay to
// observe after it.
type Command struct {
	Cmd   byte
	Data  []byte
	Delay time.Duration
}

// InitTable is an opaque vendor init sequence.
type InitTable []Command

// Revision identifies a panel hardware revision.
type Revision uint8

const (
	RevUnknown Revision = iota
	RevA
	RevB
)

// CommandWriter sends raw controller commands.
type CommandWriter interface {
	Command(cmd byte, data []byte) error
}

// Prober reads the controller ID used to pick an init table.
type Prober interface {
	ReadID() (uint32, error)
}

// Panel controller IDs seen in the field.
const (
	idRevA = 0x00855201
	idRevB = 0x00855202
)

// Probe maps the controller ID to a revision. Unknown IDs and read errors
// fall back to RevA, which every shipped panel accepts.
func Probe(p Prober) Revision {
	if p == nil {
		return RevA
	}
	id, err := p.ReadID()
	if err != nil {
		return RevA
	}
	switch id {
	case idRevB:
		return RevB
	default:
		return RevA
	}
}

var tables = map[Revision]InitTable{
	RevA: {
		{Cmd: 0x01, Delay: 120 * time.Millisecond},
		{Cmd: 0x11, Delay: 120 * time.Millisecond},
		{Cmd: 0xFE, Data: []byte{0xEF}},
		{Cmd: 0xEB, Data: []byte{0x14}},
		{Cmd: 0x84, Data: []byte{0x40}},
		{Cmd: 0x88, Data: []byte{0x0A}},
		{Cmd: 0x36, Data: []byte{0x48}},
		{Cmd: 0x3A, Data: []byte{0x05}},
		{Cmd: 0xC3, Data: []byte{0x13}},
		{Cmd: 0xC4, Data: []byte{0x13}},
		{Cmd: 0xC9, Data: []byte{0x22}},
		{Cmd: 0xF0, Data: []byte{0x45, 0x09, 0x08, 0x08, 0x26, 0x2A}},
		{Cmd: 0xF1, Data: []byte{0x43, 0x70, 0x72, 0x36, 0x37, 0x6F}},
		{Cmd: 0x35},
		{Cmd: 0x21},
		{Cmd: 0x29, Delay: 20 * time.Millisecond},
	},
	RevB: {
		{Cmd: 0x01, Delay: 120 * time.Millisecond},
		{Cmd: 0x11, Delay: 120 * time.Millisecond},
		{Cmd: 0xF0, Data: []byte{0x28}},
		{Cmd: 0xF2, Data: []byte{0x28}},
		{Cmd: 0x73, Data: []byte{0xF0}},
		{Cmd: 0x7C, Data: []byte{0xD1}},
		{Cmd: 0x83, Data: []byte{0xE0}},
		{Cmd: 0x84, Data: []byte{0x61}},
		{Cmd: 0xF2, Data: []byte{0x82}},
		{Cmd: 0xF0, Data: []byte{0x00}},
		{Cmd: 0x36, Data: []byte{0x00}},
		{Cmd: 0x3A, Data: []byte{0x05}},
		{Cmd: 0x21},
		{Cmd: 0x29, Delay: 20 * time.Millisecond},
	},
}

// Table returns the init table for rev.
func Table(rev Revision) InitTable {
	if t, ok := tables[rev]; ok {
		return t
	}
	return tables[RevA]
}

// Run sends every command in t. sleep defaults to time.Sleep.
func Run(w CommandWriter, t InitTable, sleep func(time.Duration)) error {
	if sleep == nil {
		sleep = time.Sleep
	}
	for _, c := range t {
		if err := w.Command(c.Cmd, c.Data); err != nil {
			return errors.New("lcd init: " + err.Error())
		}
		if c.Delay > 0 {
			sleep(c.Delay)
		}
	}
	return nil
}
