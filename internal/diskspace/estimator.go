// Package diskspace polls free bytes on the working directory's filesystem
// and maintains an EMA-smoothed estimate of ingest bitrate, for upstream UI
// and metrics (disk-space estimator, 3% of the implementation
// budget).
package diskspace

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

const (
	// emaAlpha is the bitrate smoothing constant.
	emaAlpha = 0.3
	// minRecalcInterval bounds how often the EMA recalculates, avoiding
	// thrashing on back-to-back ingest bursts.
	minRecalcInterval = 500 * time.Millisecond
)

// Estimator periodically checks free disk space on Dir and maintains a
// sliding bitrate estimate fed by ReportBytes calls from the ingest path.
type Estimator struct {
	Dir      string
	Interval time.Duration
	Logger   *slog.Logger

	mu                   sync.Mutex
	lastUpdateTime       time.Time
	bytesSinceLastUpdate int64
	effectiveBytesPerSec float64
	lastFreeBytes        int64
}

// New creates an Estimator polling dir every interval (defaulting to 30s if
// interval <= 0).
func New(dir string, interval time.Duration, logger *slog.Logger) *Estimator {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Estimator{Dir: dir, Interval: interval, Logger: logger}
}

// ReportBytes records n freshly ingested bytes, feeding the EMA bitrate
// estimate. Safe to call from any ingest goroutine.
func (e *Estimator) ReportBytes(n int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastUpdateTime.IsZero() {
		e.lastUpdateTime = time.Now()
	}
	e.bytesSinceLastUpdate += n
	e.adjustLocked(time.Now())
}

func (e *Estimator) adjustLocked(now time.Time) {
	elapsed := now.Sub(e.lastUpdateTime).Seconds()
	if elapsed < minRecalcInterval.Seconds() {
		return
	}
	instantRate := float64(e.bytesSinceLastUpdate) / elapsed
	if e.effectiveBytesPerSec <= 0 {
		e.effectiveBytesPerSec = instantRate
	} else {
		e.effectiveBytesPerSec = (1-emaAlpha)*e.effectiveBytesPerSec + emaAlpha*instantRate
	}
	e.bytesSinceLastUpdate = 0
	e.lastUpdateTime = now
	metrics.DiskEstimatedBitrateBps.Set(e.effectiveBytesPerSec)
}

// EstimatedBitrateBytesPerSec returns the current EMA-smoothed ingest
// bitrate.
func (e *Estimator) EstimatedBitrateBytesPerSec() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.effectiveBytesPerSec
}

// FreeBytes returns the most recently polled free-byte count.
func (e *Estimator) FreeBytes() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFreeBytes
}

// Run polls free disk space on Dir every Interval until ctx is cancelled,
// updating the exported gauge. It also periodically reconciles the bitrate
// EMA so a quiet period (no ReportBytes calls) still decays toward zero
// rather than holding the last burst's rate forever.
func (e *Estimator) Run(ctx context.Context) {
	ticker := time.NewTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			free, err := diskFreeBytes(e.Dir)
			if err != nil {
				e.Logger.Warn("diskspace: failed to check disk space",
					slog.String("path", e.Dir),
					slog.String("error", err.Error()),
				)
				continue
			}
			e.mu.Lock()
			e.lastFreeBytes = free
			e.adjustLocked(time.Now())
			e.mu.Unlock()
			metrics.DiskFreeBytes.Set(float64(free))
		}
	}
}
