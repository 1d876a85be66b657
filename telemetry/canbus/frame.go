package canbus

import (
	"encoding/binary"
	"sync/atomic"
)

// Frame is a classical CAN frame with an 11-bit identifier.
type Frame struct {
	ID   uint32
	Len  uint8
	Data [8]byte
}

// Payload returns the valid data bytes without copying.
func (f *Frame) Payload() []byte {
	n := f.Len
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// QueueLen is the capacity of the receive queue between the interrupt
// handler and the main loop. Must be a power of two.
const QueueLen = 32

// slot stores one frame as atomic words. seq is 2n+1 while entry n is
// being written and 2n+2 once it is complete.
type slot struct {
	seq atomic.Uint32
	id  atomic.Uint32
	n   atomic.Uint32
	lo  atomic.Uint32
	hi  atomic.Uint32
}

// Queue is a single-producer single-consumer frame ring. The producer is
// the interrupt handler; when the ring is full it overwrites the oldest
// entry and counts an overflow. The consumer detects overwritten slots
// through their sequence words and skips them.
type Queue struct {
	slots     [QueueLen]slot
	w         atomic.Uint32 // entries written, producer-owned
	r         atomic.Uint32 // entries consumed, consumer-owned
	overflows atomic.Uint32
}

// Push appends f, dropping the oldest entry if the ring is full.
func (q *Queue) Push(f *Frame) {
	n := q.w.Load()
	if n-q.r.Load() >= QueueLen {
		q.overflows.Add(1)
	}
	s := &q.slots[n%QueueLen]
	s.seq.Store(2*n + 1)
	s.id.Store(f.ID)
	s.n.Store(uint32(f.Len))
	s.lo.Store(binary.LittleEndian.Uint32(f.Data[0:4]))
	s.hi.Store(binary.LittleEndian.Uint32(f.Data[4:8]))
	s.seq.Store(2*n + 2)
	q.w.Store(n + 1)
}

// Pop removes the oldest intact entry into f. It returns false when the
// queue is empty.
func (q *Queue) Pop(f *Frame) bool {
	r := q.r.Load()
	for {
		w := q.w.Load()
		if r == w {
			q.r.Store(r)
			return false
		}
		if w-r > QueueLen {
			// Lapped by the producer; those entries are gone.
			r = w - QueueLen
		}
		s := &q.slots[r%QueueLen]
		pre := s.seq.Load()
		if pre != 2*r+2 {
			r++
			continue
		}
		f.ID = s.id.Load()
		f.Len = uint8(s.n.Load())
		binary.LittleEndian.PutUint32(f.Data[0:4], s.lo.Load())
		binary.LittleEndian.PutUint32(f.Data[4:8], s.hi.Load())
		if s.seq.Load() != pre {
			r++
			continue
		}
		q.r.Store(r + 1)
		return true
	}
}

// Len returns the number of entries waiting, capped at QueueLen.
func (q *Queue) Len() int {
	d := q.w.Load() - q.r.Load()
	if d > QueueLen {
		d = QueueLen
	}
	return int(d)
}

// Overflows returns how many entries were dropped because the ring was full.
func (q *Queue) Overflows() uint32 { return q.overflows.Load() }
