package inspect

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strconv"
)

// Column holds the statistics of one numeric log column. Empty cells, such
// as position before a GPS fix, are not counted.
type Column struct {
	Name     string
	Count    int
	Min, Max float64
	sum      float64
}

// Mean returns the average of the counted cells.
func (c *Column) Mean() float64 {
	if c.Count == 0 {
		return 0
	}
	return c.sum / float64(c.Count)
}

func (c *Column) add(v float64) {
	if c.Count == 0 {
		c.Min, c.Max = v, v
	}
	c.Min = math.Min(c.Min, v)
	c.Max = math.Max(c.Max, v)
	c.sum += v
	c.Count++
}

// Summary describes one log file.
type Summary struct {
	Rows int
	// Bad counts rows skipped for a wrong field count or a non-numeric cell.
	Bad        int
	FirstMs    uint64
	LastMs     uint64
	Columns    []Column
	tsColumn   int
	haveFirstT bool
}

// DurationMs is the span between the first and last timestamps.
func (s *Summary) DurationMs() uint64 { return s.LastMs - s.FirstMs }

// ErrNoHeader is returned for an empty file.
var ErrNoHeader = errors.New("inspect: log has no header")

// Summarize reads a log written by the firmware and aggregates every
// column. The header names the columns, so older schemas still summarize.
func Summarize(r io.Reader) (Summary, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	head, err := cr.Read()
	if err == io.EOF {
		return Summary{}, ErrNoHeader
	}
	if err != nil {
		return Summary{}, errors.New("header:" + err.Error())
	}
	sum := Summary{Columns: make([]Column, len(head)), tsColumn: -1}
	for i, name := range head {
		sum.Columns[i].Name = name
		if name == "timestamp_ms" {
			sum.tsColumn = i
		}
	}

	vals := make([]float64, len(head))
	present := make([]bool, len(head))
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				sum.Bad++
				continue
			}
			return sum, errors.New("read:" + err.Error())
		}
		if !parseRow(rec, vals, present) {
			sum.Bad++
			continue
		}
		for i := range vals {
			if present[i] {
				sum.Columns[i].add(vals[i])
			}
		}
		if sum.tsColumn >= 0 && present[sum.tsColumn] {
			t := uint64(vals[sum.tsColumn])
			if !sum.haveFirstT {
				sum.FirstMs, sum.haveFirstT = t, true
			}
			sum.LastMs = t
		}
		sum.Rows++
	}
	return sum, nil
}

func parseRow(rec []string, vals []float64, present []bool) bool {
	if len(rec) != len(vals) {
		return false
	}
	for i, cell := range rec {
		if cell == "" {
			present[i] = false
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return false
		}
		vals[i], present[i] = v, true
	}
	return true
}
