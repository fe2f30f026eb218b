// Package metrics collects every Prometheus metric exposed by the core.
// Grouped by component so a single Register call wires the whole registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// Frame store
	FramesAppendedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "frames_appended_total",
		Help:      "Total frames appended to the frame store, by stream.",
	}, []string{"stream"})

	FrameFilesSealedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "frame_files_sealed_total",
		Help:      "Total frame files sealed (reached FramesPerFile).",
	})

	CatalogCorruptionWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "catalog_corruption_warnings_total",
		Help:      "Total warnings emitted while resync-scanning a frame file.",
	})

	// Frame reader
	FrameReaderOpensTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "frame_reader_opens_total",
		Help:      "Total file opens performed by frame readers.",
	})

	FrameReaderBytesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "frame_reader_bytes_read_total",
		Help:      "Total bytes read by frame readers.",
	})

	FrameReaderReadLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "futatabi",
		Name:      "frame_reader_read_latency_seconds",
		Help:      "Latency of a single frame reader read.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	// Decode cache
	DecodeCacheSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "decode_cache_size_bytes",
		Help:      "Current memory usage of the decode cache.",
	})

	DecodeCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "decode_cache_entries",
		Help:      "Number of decoded frames currently cached.",
	})

	DecodeCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "decode_cache_hits_total",
		Help:      "Total decode cache hits.",
	})

	DecodeCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "decode_cache_misses_total",
		Help:      "Total decode cache misses.",
	})

	DecodeCacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "decode_cache_evictions_total",
		Help:      "Total decode cache evictions.",
	})

	DecodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "decode_failures_total",
		Help:      "Total JPEG decode failures that fell back to a black frame.",
	})

	// GPU texture pool
	TexturePoolAllocationsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "texture_pool_allocations_total",
		Help:      "Total new GPU objects created by the texture pool.",
	})

	TexturePoolInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "texture_pool_in_use",
		Help:      "Number of GPU objects currently checked out of the pool.",
	})

	// Optical flow / interpolation
	FlowComputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "futatabi",
		Name:      "flow_compute_duration_seconds",
		Help:      "Duration of a full DIS optical-flow computation.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2},
	})

	InterpolateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "futatabi",
		Name:      "interpolate_duration_seconds",
		Help:      "Duration of splat+hole-fill+blend interpolation.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2},
	})

	// Video stream / encode pipeline
	VSQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "video_stream_queue_depth",
		Help:      "Current number of queued output frames awaiting encode.",
	})

	VSFramesDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "video_stream_frames_dropped_total",
		Help:      "Total frames dropped due to IFR pool exhaustion.",
	})

	VSEncodeWaitSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "futatabi",
		Name:      "video_stream_encode_wait_seconds",
		Help:      "Time the encode thread spent parked waiting for a queued frame's scheduled wall-clock time before emitting it.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	VSFramesEncodedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "video_stream_frames_encoded_total",
		Help:      "Total frames handed to the muxer, by kind (original, faded, interpolated, faded_interpolated, refresh, silence).",
	}, []string{"kind"})

	// Player
	PlayerSnapsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "player_snaps_total",
		Help:      "Total times the player snapped to an original frame.",
	})

	PlayerSplicesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "player_splices_total",
		Help:      "Total splice_play calls applied to the playlist.",
	})

	// HTTP publisher
	HPClientsConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "http_publisher_clients_connected",
		Help:      "Currently connected HTTP publisher clients.",
	})

	HPClientBacklogBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "http_publisher_backlog_bytes_total",
		Help:      "Sum of pending backlog bytes across all connected clients.",
	})

	HPClientsDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "http_publisher_clients_dropped_total",
		Help:      "Total clients disconnected, by reason (overflow, timeout, shutdown).",
	}, []string{"reason"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "futatabi",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, route and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "futatabi",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
	})

	// Disk-space estimator
	DiskFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "disk_free_bytes",
		Help:      "Last polled free bytes on the working directory's filesystem.",
	})

	DiskEstimatedBitrateBps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "futatabi",
		Name:      "disk_estimated_bitrate_bytes_per_second",
		Help:      "Sliding-window estimate of ingest bitrate across all streams.",
	})
)

// Register wires every collector into reg. Call once at startup.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		FramesAppendedTotal,
		FrameFilesSealedTotal,
		CatalogCorruptionWarningsTotal,
		FrameReaderOpensTotal,
		FrameReaderBytesRead,
		FrameReaderReadLatency,
		DecodeCacheSizeBytes,
		DecodeCacheEntries,
		DecodeCacheHitsTotal,
		DecodeCacheMissesTotal,
		DecodeCacheEvictionsTotal,
		DecodeFailuresTotal,
		TexturePoolAllocationsTotal,
		TexturePoolInUse,
		FlowComputeDuration,
		InterpolateDuration,
		VSQueueDepth,
		VSFramesDroppedTotal,
		VSEncodeWaitSeconds,
		VSFramesEncodedTotal,
		PlayerSnapsTotal,
		PlayerSplicesTotal,
		HPClientsConnected,
		HPClientBacklogBytes,
		HPClientsDroppedTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DiskFreeBytes,
		DiskEstimatedBitrateBps,
	)
}
