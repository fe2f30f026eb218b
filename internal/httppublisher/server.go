package httppublisher

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// queueStatusRPS and queueStatusBurst bound how often /queue_status can be
// hit, by all callers together: one limiter serves every client.
// /ws/status is not rate limited, and the streaming feeds themselves
// (/multicam.mp4, /feeds/<n>) are long-lived connections governed by the
// hub's own backlog cap, not this limiter.
const (
	queueStatusRPS   = 20
	queueStatusBurst = 40
)

// QueueStatus is the JSON body served at /queue_status: the video
// stream's current backpressure state plus the disk-space estimator's
// free-bytes and bitrate snapshot.
type QueueStatus struct {
	QueueDepth        int     `json:"queue_depth"`
	MaxQueueDepth     int     `json:"max_queue_depth"`
	DiskFreeBytes     int64   `json:"disk_free_bytes"`
	BitrateBytesPerSec float64 `json:"bitrate_bytes_per_sec"`
}

// FeedHub looks up the per-stream Hub publishing /feeds/<n>, or the main
// Hub publishing the combined /multicam.mp4 output. A nil, false return
// means the index is out of range.
type FeedHub func(streamIdx int) (*Hub, bool)

// QueueStatusFunc reports the video stream's live queue depth.
type QueueStatusFunc func() QueueStatus

// Server wires the HTTP surface: the main multicam feed, per-camera feeds,
// Prometheus metrics, queue status, and a JSON status websocket, matching
// endpoint list plus the additive /ws/status surface.
type Server struct {
	Main        *Hub
	Feed        FeedHub
	QueueStatus QueueStatusFunc
	Logger      *slog.Logger

	wsMu      sync.Mutex
	wsClients map[*websocket.Conn]bool
}

// NewServer builds an http.Handler implementing the publisher's routes.
func NewServer(main *Hub, feed FeedHub, queueStatus QueueStatusFunc, logger *slog.Logger) *Server {
	return &Server{
		Main:        main,
		Feed:        feed,
		QueueStatus: queueStatus,
		Logger:      logger,
		wsClients:   make(map[*websocket.Conn]bool),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/multicam.mp4", s.serveHub(s.Main))
	mux.HandleFunc("/multicam.metacube", s.serveHub(s.Main))
	mux.HandleFunc("/feeds/", s.handleFeed)
	mux.Handle("/queue_status", rateLimitMiddleware(queueStatusRPS, queueStatusBurst, http.HandlerFunc(s.handleQueueStatus)))
	mux.HandleFunc("/ws/status", s.handleWSStatus)
	mux.Handle("/metrics", promhttp.Handler())
	return otelhttp.NewHandler(mux, "futatabi-http")
}

// rateLimitMiddleware applies a per-handler token-bucket limiter, rejecting
// excess callers with 429 rather than letting a status-polling client starve
// the player loop or the video stream's encode goroutine of CPU.
func rateLimitMiddleware(rps float64, burst int, next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// serveHub streams hub's bytes to the requester. Whether the client wants
// Metacube2 framing is decided purely by the request path: any path ending
// in ".metacube" gets framed blocks, everything else gets raw mux bytes
// ("choose framing" rule).
func (s *Server) serveHub(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if hub == nil {
			http.NotFound(w, r)
			return
		}
		metacube := strings.HasSuffix(r.URL.Path, ".metacube")
		if metacube {
			w.Header().Set("Content-Type", "application/octet-stream")
		} else {
			w.Header().Set("Content-Type", "video/x-matroska")
		}
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}

		c := newClient(metacube)
		hub.register <- c
		stalled := c.pump(w)
		hub.unregister <- c
		if stalled {
			metrics.HPClientsDroppedTotal.WithLabelValues("timeout").Inc()
			s.Logger.Warn("http publisher client timed out", slog.Duration("stall_timeout", stallTimeout))
		}
	}
}

// handleFeed serves /feeds/<n>, the single-camera equivalent of
// /multicam.mp4, optionally Metacube-framed via a ".metacube" suffix.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/feeds/")
	rest = strings.TrimSuffix(rest, ".metacube")
	idx, err := strconv.Atoi(rest)
	if err != nil {
		http.Error(w, "invalid feed index", http.StatusBadRequest)
		return
	}
	hub, ok := s.Feed(idx)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveHub(hub)(w, r)
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	var status QueueStatus
	if s.QueueStatus != nil {
		status = s.QueueStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWSStatus upgrades to a websocket pushing QueueStatus snapshots; it
// is an additive surface (not in endpoint list) for a richer web
// UI than raw polling of /queue_status, pushing JSON snapshots over a
// long-lived connection the same way a session-state websocket hub does.
func (s *Server) handleWSStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.wsMu.Lock()
	s.wsClients[conn] = true
	s.wsMu.Unlock()
	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		_ = conn.Close()
	}()

	if s.QueueStatus != nil {
		_ = conn.WriteJSON(s.QueueStatus())
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// BroadcastStatus pushes status to every connected /ws/status client.
func (s *Server) BroadcastStatus(status QueueStatus) {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	for conn := range s.wsClients {
		_ = conn.WriteJSON(status)
	}
}
