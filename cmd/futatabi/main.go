// Command futatabi runs the multi-camera instant-replay server: it
// serves the frame store, GPU interpolation pipeline, player and
// Metacube/Matroska-muxed HTTP output. Raw MJPEG
// ingest and the GUI that drives clip editing are external collaborators
// and are not started here; this binary exposes the core's
// HTTP surface and drives the player against whatever has already been
// appended to the frame store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prosyslab-warehouse/futatabi/internal/app"
	"github.com/prosyslab-warehouse/futatabi/internal/catalog"
	"github.com/prosyslab-warehouse/futatabi/internal/decodecache"
	"github.com/prosyslab-warehouse/futatabi/internal/diskspace"
	"github.com/prosyslab-warehouse/futatabi/internal/domain"
	"github.com/prosyslab-warehouse/futatabi/internal/framereader"
	"github.com/prosyslab-warehouse/futatabi/internal/framestore"
	"github.com/prosyslab-warehouse/futatabi/internal/gpu"
	"github.com/prosyslab-warehouse/futatabi/internal/httppublisher"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
	"github.com/prosyslab-warehouse/futatabi/internal/mux"
	"github.com/prosyslab-warehouse/futatabi/internal/player"
	"github.com/prosyslab-warehouse/futatabi/internal/telemetry"
	"github.com/prosyslab-warehouse/futatabi/internal/videostream"
)

// decodeCacheByteBudget is the decode cache's soft byte budget.
// The source's default is a fraction of available GPU memory; absent a
// GL-memory query in this environment, a fixed 2 GiB stands in.
const decodeCacheByteBudget = 2 << 30

func main() {
	cfg, err := app.ParseFlags("futatabi", os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "futatabi:", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "futatabi:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	if cfg.OTelEndpoint != "" {
		_ = os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTelEndpoint)
	}
	shutdownTracer, err := telemetry.Init(context.Background(), "futatabi")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.Int("width", cfg.Width),
		slog.Int("height", cfg.Height),
		slog.Float64("fps", cfg.FPS()),
		slog.Int("interpolationQuality", cfg.InterpolationQuality),
		slog.String("workingDirectory", cfg.WorkingDirectory),
		slog.Int("httpPort", cfg.HTTPPort),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(rootCtx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg app.Config, logger *slog.Logger) error {
	framesDir := filepath.Join(cfg.WorkingDirectory, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return fmt.Errorf("%w: create frames dir: %v", domain.ErrFatalInit, err)
	}

	catalogPath := filepath.Join(cfg.WorkingDirectory, "futatabi.db")
	cat, err := catalog.Open(ctx, catalogPath)
	if err != nil {
		return fmt.Errorf("%w: open catalog: %v", domain.ErrFatalInit, err)
	}
	defer cat.Close()

	fs, err := framestore.Open(ctx, cfg.WorkingDirectory, cat, logger)
	if err != nil {
		return fmt.Errorf("%w: open frame store: %v", domain.ErrFatalInit, err)
	}
	defer fs.Close()

	reader := framereader.New(fs.Dir(), fs.Filename)
	defer reader.Close()

	cache := decodecache.New(reader, decodecache.SoftwareDecoder{}, decodeCacheByteBudget)

	pipeline, err := gpu.NewPipeline(cfg.Width, cfg.Height)
	if err != nil {
		return fmt.Errorf("%w: open GPU pipeline: %v", domain.ErrFatalInit, err)
	}
	defer pipeline.Close()

	hub := httppublisher.NewHub(logger)
	go hub.Run()
	defer hub.Close()

	muxer := mux.New(uint32(cfg.Width), uint32(cfg.Height), true, true, hub.WriteFunc())

	quality := gpu.Quality(cfg.InterpolationQuality)
	vs := videostream.New(reader, cache, pipeline, muxer, quality, logger)

	pl := player.New(fs, vs, cfg.FPS(), logger)

	estimator := diskspace.New(framesDir, 10*time.Second, logger)

	httpServer, publisher := buildHTTPServer(cfg, hub, vs, estimator, logger)

	pl.OnProgress(func(progress domain.Progress, remaining domain.TimeRemaining) {
		_ = progress
		_ = remaining
		publisher.BroadcastStatus(httppublisher.QueueStatus{
			QueueDepth:         vs.QueueDepth(),
			MaxQueueDepth:      vs.MaxQueueDepth(),
			DiskFreeBytes:      estimator.FreeBytes(),
			BitrateBytesPerSec: estimator.EstimatedBitrateBytesPerSec(),
		})
	})

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return vs.Run(gctx)
	})

	group.Go(func() error {
		estimator.Run(gctx)
		return nil
	})

	group.Go(func() error {
		return runPlayerLoop(gctx, pl, cfg.FPS(), logger)
	})

	group.Go(func() error {
		return serveHTTP(gctx, httpServer, logger)
	})

	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		group.Go(func() error {
			return serveHTTP(gctx, metricsServer, logger)
		})
	}

	group.Go(func() error {
		<-gctx.Done()
		cache.Prune()
		return nil
	})

	return group.Wait()
}

// runPlayerLoop drives Player.Step at the configured output frame rate.
// The player itself decides what to schedule each tick (original,
// interpolated, faded, refresh or silence); this loop only supplies the
// wall-clock cadence, matching the source's single player thread.
func runPlayerLoop(ctx context.Context, pl *player.Player, fps float64, logger *slog.Logger) error {
	if fps <= 0 {
		fps = 60
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := pl.Step(ctx, now); err != nil {
				logger.Warn("player step failed", slog.String("error", err.Error()))
			}
		}
	}
}

// buildHTTPServer wires the HTTP publisher's routes plus /queue_status
// backed by the live VS queue depth and the disk-space estimator.
func buildHTTPServer(cfg app.Config, hub *httppublisher.Hub, vs *videostream.VS, estimator *diskspace.Estimator, logger *slog.Logger) (*http.Server, *httppublisher.Server) {
	feedHub := func(streamIdx int) (*httppublisher.Hub, bool) {
		// Per-camera raw feeds are not wired: the core only encodes the
		// player's single chosen output, not a parallel
		// passthrough mux per camera. See DESIGN.md.
		_ = streamIdx
		return nil, false
	}
	queueStatus := func() httppublisher.QueueStatus {
		return httppublisher.QueueStatus{
			QueueDepth:         vs.QueueDepth(),
			MaxQueueDepth:      vs.MaxQueueDepth(),
			DiskFreeBytes:      estimator.FreeBytes(),
			BitrateBytesPerSec: estimator.EstimatedBitrateBytesPerSec(),
		}
	}

	publisher := httppublisher.NewServer(hub, feedHub, queueStatus, logger)

	return &http.Server{
		Addr:    httpAddr(cfg.HTTPPort),
		Handler: publisher.Handler(),
	}, publisher
}

func httpAddr(port int) string { return fmt.Sprintf(":%d", port) }

func serveHTTP(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
