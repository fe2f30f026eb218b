// Package httppublisher fans the output muxer's bytes out to HTTP clients:
// a bounded, Metacube-framed broadcast with per-client backpressure, plus a
// JSON status websocket hub for the web UI.
package httppublisher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
	"github.com/prosyslab-warehouse/futatabi/internal/mux"
)

const (
	// maxClientBacklog is the per-client byte backlog cap: a
	// client that falls this far behind is disconnected rather than let the
	// queue grow unbounded.
	maxClientBacklog = 1 << 30 // 1 GiB

	// stallTimeout disconnects a client that has had nothing written to it
	// for this long while its queue is empty. It does not interrupt a
	// Write that blocks; maxClientBacklog bounds that client's memory.
	stallTimeout = 60 * time.Second
)

// chunk is one piece of mux output: either the cached init segment or a
// completed cluster, tagged with whether it contains a key frame.
type chunk struct {
	data    []byte
	header  bool
	keyframe bool
}

// Hub fans out the bytes written by one mux.Muxer to any number of HTTP
// clients, each independently choosing raw or Metacube2-framed delivery.
// Mirrors the register/unregister/broadcast channel shape of a websocket
// hub, generalized from JSON text frames to binary mux chunks.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]bool
	logger  *slog.Logger

	initSegment    []byte
	lastKeyChunk   []byte

	register   chan *client
	unregister chan *client
	publish    chan chunk
	done       chan struct{}
}

// NewHub creates a Hub. Call Run in its own goroutine before Publish is
// called.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		publish:    make(chan chunk, 64),
		done:       make(chan struct{}),
	}
}

// Run processes register/unregister/publish events until Close is called.
// It owns all hub state, so every mutation goes through these channels.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				c.closeLocked()
				delete(h.clients, c)
				metrics.HPClientsDroppedTotal.WithLabelValues("shutdown").Inc()
			}
			metrics.HPClientsConnected.Set(0)
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			if h.initSegment != nil {
				c.enqueue(chunk{data: h.initSegment, header: true})
			}
			if h.lastKeyChunk != nil {
				c.enqueue(chunk{data: h.lastKeyChunk, keyframe: true})
			}
			metrics.HPClientsConnected.Set(float64(len(h.clients)))
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closeLocked()
				metrics.HPClientsConnected.Set(float64(len(h.clients)))
			}
			h.mu.Unlock()
		case ch := <-h.publish:
			h.mu.Lock()
			if ch.header {
				h.initSegment = ch.data
			} else if ch.keyframe {
				h.lastKeyChunk = ch.data
			}
			for c := range h.clients {
				if !c.enqueue(ch) {
					delete(h.clients, c)
					c.closeLocked()
					metrics.HPClientsDroppedTotal.WithLabelValues("overflow").Inc()
					h.logger.Warn("http publisher client dropped: backlog exceeded", slog.Int("backlog_cap", maxClientBacklog))
				}
			}
			metrics.HPClientsConnected.Set(float64(len(h.clients)))
			h.mu.Unlock()
		}
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() { close(h.done) }

// WriteFunc adapts the Hub to mux.WriteFunc, so a mux.Muxer can publish
// directly into it. Never blocks the caller (the encode thread): the
// channel send only blocks if Run's select loop is itself backed up, which
// only happens under extreme load, at which point a dropped frame is the
// lesser failure.
//
// A mux.Muxer always emits its init segment as the very first chunk
// (mux.Muxer.ensureInit), so the first chunk this func ever sees is treated
// as the header and cached for clients that register afterward.
func (h *Hub) WriteFunc() mux.WriteFunc {
	sawInit := false
	return func(data []byte, keyframe bool) {
		c := chunk{data: data, keyframe: keyframe, header: !sawInit}
		sawInit = true
		select {
		case h.publish <- c:
		default:
			h.logger.Warn("http publisher publish channel full, dropping chunk")
		}
	}
}

// ClientCount reports the number of currently connected HTTP clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
