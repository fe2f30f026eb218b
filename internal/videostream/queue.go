package videostream

import (
	"sync"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// queuedFrame is one entry in the frame queue: QueuedFrame, with
// its bytes already computed (this implementation does the GPU work
// synchronously at schedule time rather than via an async fence; see
// DESIGN.md). release returns any IFR spot the frame borrowed.
type queuedFrame struct {
	kind     domain.FrameKind
	localPts time.Time
	outPts   int64
	subtitle string
	video    []byte
	audio    []byte
	release  func()
}

// frameQueue is VS's frame_queue: a FIFO in push
// order, drained by a single encode-thread goroutine, and subject to
// wholesale replacement by clear() when the player splices to a new
// playlist position. It is deliberately a plain mutex-guarded slice
// rather than a channel: clear()'s "swap the deque out from under the
// encode thread" semantics don't map cleanly onto a Go channel, which
// can't be truncated or have pending sends revoked.
type frameQueue struct {
	mu       sync.Mutex
	items    []*queuedFrame
	wake     chan struct{}
	clearCh  chan struct{}
	maxDepth int
}

func newFrameQueue(maxDepth int) *frameQueue {
	return &frameQueue{
		wake:     make(chan struct{}, 1),
		clearCh:  make(chan struct{}),
		maxDepth: maxDepth,
	}
}

func (q *frameQueue) push(f *queuedFrame) {
	q.mu.Lock()
	q.items = append(q.items, f)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.VSQueueDepth.Set(float64(depth))
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// front returns the current queue head without removing it, plus the
// channel that will be closed if clear() invalidates it before the
// caller manages to pop it.
func (q *frameQueue) front() (*queuedFrame, chan struct{}, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, q.clearCh, false
	}
	return q.items[0], q.clearCh, true
}

// popFront removes the head, but only if it is still f (i.e. clear()
// hasn't swapped the deque since front() returned f).
func (q *frameQueue) popFront(f *queuedFrame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0] != f {
		return false
	}
	q.items = q.items[1:]
	metrics.VSQueueDepth.Set(float64(len(q.items)))
	return true
}

// clear swaps out the entire deque, releasing every dropped frame's IFR
// spot out of band, and signals any encode-thread wait in progress.
func (q *frameQueue) clear() {
	q.mu.Lock()
	dropped := q.items
	q.items = nil
	oldClearCh := q.clearCh
	q.clearCh = make(chan struct{})
	metrics.VSQueueDepth.Set(0)
	q.mu.Unlock()

	close(oldClearCh)
	for _, f := range dropped {
		if f.release != nil {
			f.release()
		}
	}
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *frameQueue) cap() int { return q.maxDepth }
