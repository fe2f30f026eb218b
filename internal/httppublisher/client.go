package httppublisher

import (
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/mux"
)

// client represents one connected HTTP streaming consumer: either raw mux
// bytes or the same bytes wrapped in Metacube2 framing, depending on
// whether the request URL ended in ".metacube".
type client struct {
	mu           sync.Mutex
	queue        [][]byte
	backlogBytes int
	closed       bool
	closeCh      chan struct{}
	notify       chan struct{}

	metacube     bool
	lastProgress time.Time
}

func newClient(metacube bool) *client {
	return &client{
		closeCh:      make(chan struct{}),
		notify:       make(chan struct{}, 1),
		metacube:     metacube,
		lastProgress: time.Now(),
	}
}

// enqueue appends ch to the client's send queue, applying Metacube framing
// if this client asked for it. Returns false if the client's backlog would
// exceed maxClientBacklog, signaling the hub to drop it.
func (c *client) enqueue(ch chunk) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	data := ch.data
	if c.metacube {
		data = mux.EncodeBlock(ch.data, ch.header, ch.keyframe)
	}
	if c.backlogBytes+len(data) > maxClientBacklog {
		return false
	}
	c.queue = append(c.queue, data)
	c.backlogBytes += len(data)
	select {
	case c.notify <- struct{}{}:
	default:
	}
	return true
}

func (c *client) closeLocked() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.closeCh)
	}
	c.mu.Unlock()
}

// pump writes queued chunks to w until the client disconnects, the hub
// closes it, or it stalls for longer than stallTimeout. It is meant to run
// on the request-handling goroutine so the handler returns (and net/http
// cleans up the connection) once pump does. Returns true if it stopped
// because the client stalled out, so the caller can distinguish that from
// an ordinary client disconnect for metrics purposes.
func (c *client) pump(w io.Writer) (stalled bool) {
	flusher, canFlush := w.(http.Flusher)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		next, ok := c.dequeue()
		if ok {
			if _, err := w.Write(next); err != nil {
				return false
			}
			if canFlush {
				flusher.Flush()
			}
			c.mu.Lock()
			c.lastProgress = time.Now()
			c.mu.Unlock()
			continue
		}
		select {
		case <-c.closeCh:
			return false
		case <-c.notify:
		case <-ticker.C:
			c.mu.Lock()
			stalled := time.Since(c.lastProgress) > stallTimeout
			c.mu.Unlock()
			if stalled {
				return true
			}
		}
	}
}

func (c *client) dequeue() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	next := c.queue[0]
	c.queue = c.queue[1:]
	c.backlogBytes -= len(next)
	return next, true
}
