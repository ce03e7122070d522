package audio

import (
	"sync/atomic"
	"time"
)

// Frame is one block of interleaved samples copied off the device thread,
// stamped at capture time. A frame is always in exactly one place: the
// pool, the queue, or borrowed by the consumer.
type Frame struct {
	Samples  []float32
	Channels int
	At       time.Time
}

// FrameQueue decouples the hardware callback from the processing loop: a
// bounded FIFO fed from a pool of reusable frames, both plain buffered
// channels so every operation is a non-blocking channel op. When the
// queue is full, Push drops the frame and reports it; when the pool runs
// dry, Push falls back to a fresh allocation rather than losing audio.
// The consumer hands frames back with Recycle.
type FrameQueue struct {
	queue    chan *Frame
	pool     chan *Frame
	frameCap int

	pushed   atomic.Uint64
	dropped  atomic.Uint64
	fallback atomic.Uint64
}

// NewFrameQueue sizes both the queue and the pool to depth frames of
// frameCap samples each.
func NewFrameQueue(depth, frameCap int) *FrameQueue {
	q := &FrameQueue{
		queue:    make(chan *Frame, depth),
		pool:     make(chan *Frame, depth),
		frameCap: frameCap,
	}
	for i := 0; i < depth; i++ {
		q.pool <- &Frame{Samples: make([]float32, 0, frameCap)}
	}
	return q
}

// Push copies samples into a pooled frame and enqueues it. It is the only
// method safe to call from the device callback: it never blocks and, as
// long as the pool holds a large enough frame, never allocates. Returns
// false when the queue is full and the samples were dropped.
func (q *FrameQueue) Push(samples []float32, channels int) bool {
	var f *Frame
	select {
	case f = <-q.pool:
	default:
		// Pool drained, the consumer is behind. Allocate rather than
		// lose audio; Recycle feeds the frame back into the pool later.
		f = &Frame{}
		q.fallback.Add(1)
	}
	if cap(f.Samples) < len(samples) {
		f.Samples = make([]float32, len(samples))
	}
	f.Samples = f.Samples[:len(samples)]
	copy(f.Samples, samples)
	f.Channels = channels
	f.At = time.Now()

	select {
	case q.queue <- f:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		q.Recycle(f)
		return false
	}
}

// Pop removes the oldest frame, or reports false when the queue is empty.
func (q *FrameQueue) Pop() (*Frame, bool) {
	select {
	case f := <-q.queue:
		return f, true
	default:
		return nil, false
	}
}

// Recycle returns a drained frame to the pool. Frames beyond the pool's
// capacity are left to the garbage collector.
func (q *FrameQueue) Recycle(f *Frame) {
	if f == nil {
		return
	}
	f.Samples = f.Samples[:0]
	select {
	case q.pool <- f:
	default:
	}
}

// Depth reports how many frames currently wait in the queue.
func (q *FrameQueue) Depth() int {
	return len(q.queue)
}

// Stats returns totals since creation: frames enqueued, frames dropped on
// a full queue, and fallback allocations on an empty pool.
func (q *FrameQueue) Stats() (pushed, dropped, fallback uint64) {
	return q.pushed.Load(), q.dropped.Load(), q.fallback.Load()
}
