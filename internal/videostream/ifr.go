// Package videostream implements VS: the orchestrator
// that turns PL's schedule_* calls into decoded, optionally
// flow-interpolated, JPEG-encoded packets handed to the muxer, on a
// dedicated encode thread separate from the scheduling goroutine.
package videostream

import "sync/atomic"

// ifrPool models the IFR pool: a fixed-size set of
// preallocated GPU resource bundles, each either idle or lent to one
// in-flight queue item, with #idle + #in-flight == capacity at all
// times. Grounded on queue_spot_holder.h's RAII QueueSpotHolder:
// acquiring a spot is the only way to get one, and the returned Spot's
// Release is the only way to give it back, so "borrow for the duration
// of a QueuedFrame" is enforced by construction rather than convention.
type ifrPool struct {
	slots chan struct{}
}

func newIFRPool(capacity int) *ifrPool {
	return &ifrPool{slots: make(chan struct{}, capacity)}
}

// Spot is a scoped IFR acquisition. It must be released exactly once;
// Release is safe to call more than once or on a nil Spot (mirroring the
// RAII wrapper's defined behavior on a moved-from holder).
type Spot struct {
	pool     *ifrPool
	released int32
}

// TryAcquire takes a spot if one is free. Callers that get ok=false must
// drop the frame rather than block: VS never stalls the scheduler
// waiting for GPU resources to free up.
func (p *ifrPool) TryAcquire() (*Spot, bool) {
	select {
	case p.slots <- struct{}{}:
		return &Spot{pool: p}, true
	default:
		return nil, false
	}
}

// Release returns the spot to the pool.
func (s *Spot) Release() {
	if s == nil {
		return
	}
	if atomic.CompareAndSwapInt32(&s.released, 0, 1) {
		<-s.pool.slots
	}
}

// InUse and Capacity support the pool-conservation testable property
//: #idle + #in-flight == capacity always.
func (p *ifrPool) InUse() int    { return len(p.slots) }
func (p *ifrPool) Capacity() int { return cap(p.slots) }
