package videostream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
	"github.com/prosyslab-warehouse/futatabi/internal/domain/ports"
	"github.com/prosyslab-warehouse/futatabi/internal/gpu"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

const (
	// ifrPoolCapacity mirrors the source's fixed IFR pool size.
	ifrPoolCapacity = 15

	// defaultMaxQueueDepth bounds frame_queue for PL's backpressure check
	// (QueueDepth() < MaxQueueDepth()), independent of the IFR pool.
	defaultMaxQueueDepth = 64

	sampleRateHz    = 48000
	audioChannels   = 2
	bytesPerSample  = 4 // s32le
	jpegQuality     = 90
	chromaSubsample = gpu.Chroma422
)

// Muxer is VS's narrow view of internal/mux.Muxer: the three packet
// writers the encode thread calls, never anything about EBML framing.
type Muxer interface {
	WriteVideoPacket(pts int64, jpegData []byte) error
	WriteAudioPacket(pts int64, pcm []byte) error
	WriteSubtitlePacket(pts int64, text string) error
}

// VS implements ports.VideoStream. Schedule* calls do the
// frame-store read, GPU upload/flow/interpolate/encode work synchronously
// (see DESIGN.md for why this implementation has no async GPU fence) and
// push a ready-to-emit queuedFrame; a separate encode-thread goroutine
// paces emission to wall-clock localPts and writes to the muxer, so a
// slow or blocked muxer write never stalls the scheduler.
type VS struct {
	reader  ports.FrameReader
	cache   ports.DecodeCache
	gpu     gpu.Pipeline
	mux     Muxer
	quality gpu.Quality
	logger  *slog.Logger

	ifr   *ifrPool
	queue *frameQueue

	mu         sync.Mutex
	lastRef1   domain.FrameRef
	lastRef2   domain.FrameRef
	lastFlow   gpu.FlowField
	haveFlow   bool
	lastVideo  []byte
	lastAudio  []byte
	droppedLog bool
}

// New wires a VS instance. quality selects the DIS operating point used
// for every ScheduleInterpolated call.
func New(reader ports.FrameReader, cache ports.DecodeCache, pipeline gpu.Pipeline, mux Muxer, quality gpu.Quality, logger *slog.Logger) *VS {
	return &VS{
		reader:  reader,
		cache:   cache,
		gpu:     pipeline,
		mux:     mux,
		quality: quality,
		logger:  logger,
		ifr:     newIFRPool(ifrPoolCapacity),
		queue:   newFrameQueue(defaultMaxQueueDepth),
	}
}

// QueueDepth and MaxQueueDepth implement ports.VideoStream.
func (vs *VS) QueueDepth() int    { return vs.queue.len() }
func (vs *VS) MaxQueueDepth() int { return vs.queue.cap() }

// ClearQueue drops every pending frame, releasing their IFR spots. PL
// calls this when splicing to a new playlist position so stale,
// already-scheduled frames don't play out of order.
func (vs *VS) ClearQueue() { vs.queue.clear() }

func (vs *VS) dropBackpressure(kind domain.FrameKind) {
	metrics.VSFramesDroppedTotal.Inc()
	vs.logger.Warn("too many frames in transit; dropping one", slog.String("kind", kind.String()))
}

// ScheduleOriginal passes a stored frame through untouched: no GPU work,
// no IFR spot, so it can never be dropped by backpressure.
func (vs *VS) ScheduleOriginal(localPts time.Time, outPts int64, ref domain.FrameRef, subtitle string, includeAudio bool) error {
	video, audio, err := vs.reader.Read(context.Background(), ref, true, includeAudio)
	if err != nil {
		return fmt.Errorf("videostream: read original frame: %w", err)
	}
	vs.rememberLast(video, audio)
	vs.queue.push(&queuedFrame{kind: domain.KindOriginal, localPts: localPts, outPts: outPts, subtitle: subtitle, video: video, audio: audio})
	return nil
}

// ScheduleFaded cross-dissolves two stored frames through the GPU
// pipeline. Dropped silently if the IFR pool is exhausted.
func (vs *VS) ScheduleFaded(localPts time.Time, outPts int64, ref1, ref2 domain.FrameRef, alpha float64, subtitle string) error {
	spot, ok := vs.ifr.TryAcquire()
	if !ok {
		vs.dropBackpressure(domain.KindFaded)
		return nil
	}

	ctx := context.Background()
	f1, err := vs.cache.GetOrDecode(ctx, ref1, false)
	if err != nil {
		spot.Release()
		return fmt.Errorf("videostream: decode ref1: %w", err)
	}
	f2, err := vs.cache.GetOrDecode(ctx, ref2, false)
	if err != nil {
		f1.Release()
		spot.Release()
		return fmt.Errorf("videostream: decode ref2: %w", err)
	}

	jpegData, err := vs.blendAndEncode(ctx, f1, f2, alpha)
	f1.Release()
	f2.Release()
	if err != nil {
		spot.Release()
		return err
	}

	_, audio, err := vs.reader.Read(ctx, ref1, false, true)
	if err != nil {
		spot.Release()
		return fmt.Errorf("videostream: read audio: %w", err)
	}

	vs.rememberLast(jpegData, audio)
	vs.queue.push(&queuedFrame{
		kind: domain.KindFaded, localPts: localPts, outPts: outPts, subtitle: subtitle,
		video: jpegData, audio: audio, release: spot.Release,
	})
	return nil
}

func (vs *VS) blendAndEncode(ctx context.Context, f1, f2 ports.DecodedFrame, alpha float64) ([]byte, error) {
	t1, err := vs.gpu.Upload(ctx, f1)
	if err != nil {
		return nil, fmt.Errorf("videostream: upload ref1: %w", err)
	}
	defer vs.gpu.Release(t1)
	t2, err := vs.gpu.Upload(ctx, f2)
	if err != nil {
		return nil, fmt.Errorf("videostream: upload ref2: %w", err)
	}
	defer vs.gpu.Release(t2)

	blended, err := vs.gpu.Blend(ctx, t1, t2, alpha)
	if err != nil {
		return nil, fmt.Errorf("videostream: blend: %w", err)
	}
	defer vs.gpu.Release(blended)

	return vs.chromaEncode(ctx, blended)
}

func (vs *VS) chromaEncode(ctx context.Context, tex gpu.Texture) ([]byte, error) {
	sub, err := vs.gpu.ChromaSubsample(ctx, tex, chromaSubsample)
	if err != nil {
		return nil, fmt.Errorf("videostream: chroma subsample: %w", err)
	}
	defer vs.gpu.Release(sub)

	jpegData, err := vs.gpu.EncodeJPEG(ctx, sub, jpegQuality)
	if err != nil {
		return nil, fmt.Errorf("videostream: encode jpeg: %w", err)
	}
	return jpegData, nil
}

// ScheduleInterpolated flow-interpolates between two stored frames,
// reusing the last computed FlowField when ref1/ref2 match the previous
// call (the common case: PL schedules consecutive alphas across the same
// frame pair while a crossfade plays out). If secondary is set, the
// interpolated result is cross-dissolved again against it at fadeAlpha,
// matching a splice landing mid-fade.
func (vs *VS) ScheduleInterpolated(localPts time.Time, outPts int64, ref1, ref2 domain.FrameRef, alpha float64, secondary *domain.FrameRef, fadeAlpha float64, subtitle string, includeAudio bool) error {
	spot, ok := vs.ifr.TryAcquire()
	if !ok {
		vs.dropBackpressure(domain.KindInterpolated)
		return nil
	}

	ctx := context.Background()
	f1, err := vs.cache.GetOrDecode(ctx, ref1, false)
	if err != nil {
		spot.Release()
		return fmt.Errorf("videostream: decode ref1: %w", err)
	}
	f2, err := vs.cache.GetOrDecode(ctx, ref2, false)
	if err != nil {
		f1.Release()
		spot.Release()
		return fmt.Errorf("videostream: decode ref2: %w", err)
	}

	t1, err := vs.gpu.Upload(ctx, f1)
	f1.Release()
	if err != nil {
		f2.Release()
		spot.Release()
		return fmt.Errorf("videostream: upload ref1: %w", err)
	}
	t2, err := vs.gpu.Upload(ctx, f2)
	f2.Release()
	if err != nil {
		vs.gpu.Release(t1)
		spot.Release()
		return fmt.Errorf("videostream: upload ref2: %w", err)
	}

	// --interpolation-quality 0 means optical-flow interpolation is off
	//: fall back to a straight cross-dissolve so the core
	// still produces a frame at alpha without ever calling ComputeFlow.
	var interp gpu.Texture
	if vs.quality == 0 {
		interp, err = vs.gpu.Blend(ctx, t1, t2, alpha)
		vs.gpu.Release(t1)
		vs.gpu.Release(t2)
		if err != nil {
			spot.Release()
			return fmt.Errorf("videostream: blend (interpolation off): %w", err)
		}
	} else {
		flow, err := vs.flowFor(ctx, ref1, ref2, t1, t2)
		if err != nil {
			vs.gpu.Release(t1)
			vs.gpu.Release(t2)
			spot.Release()
			return err
		}

		interp, err = vs.gpu.Interpolate(ctx, t1, t2, flow, alpha, vs.quality.Resolve().SplatSize)
		vs.gpu.Release(t1)
		vs.gpu.Release(t2)
		if err != nil {
			spot.Release()
			return fmt.Errorf("videostream: interpolate: %w", err)
		}
	}

	result := interp
	if secondary != nil {
		f3, err := vs.cache.GetOrDecode(ctx, *secondary, false)
		if err != nil {
			vs.gpu.Release(interp)
			spot.Release()
			return fmt.Errorf("videostream: decode secondary: %w", err)
		}
		t3, err := vs.gpu.Upload(ctx, f3)
		f3.Release()
		if err != nil {
			vs.gpu.Release(interp)
			spot.Release()
			return fmt.Errorf("videostream: upload secondary: %w", err)
		}
		blended, err := vs.gpu.Blend(ctx, interp, t3, fadeAlpha)
		vs.gpu.Release(interp)
		vs.gpu.Release(t3)
		if err != nil {
			spot.Release()
			return fmt.Errorf("videostream: blend secondary: %w", err)
		}
		result = blended
	}

	jpegData, err := vs.chromaEncode(ctx, result)
	vs.gpu.Release(result)
	if err != nil {
		spot.Release()
		return err
	}

	var audio []byte
	if includeAudio {
		_, audio, err = vs.reader.Read(ctx, ref1, false, true)
		if err != nil {
			spot.Release()
			return fmt.Errorf("videostream: read audio: %w", err)
		}
	}

	kind := domain.KindInterpolated
	if secondary != nil {
		kind = domain.KindFadedInterpolated
	}
	vs.rememberLast(jpegData, audio)
	vs.queue.push(&queuedFrame{
		kind: kind, localPts: localPts, outPts: outPts, subtitle: subtitle,
		video: jpegData, audio: audio, release: spot.Release,
	})
	return nil
}

// flowFor returns the cached FlowField for (ref1, ref2) if the previous
// interpolated call used the same pair, computing it fresh otherwise.
func (vs *VS) flowFor(ctx context.Context, ref1, ref2 domain.FrameRef, t1, t2 gpu.Texture) (gpu.FlowField, error) {
	vs.mu.Lock()
	if vs.haveFlow && vs.lastRef1 == ref1 && vs.lastRef2 == ref2 {
		flow := vs.lastFlow
		vs.mu.Unlock()
		return flow, nil
	}
	vs.mu.Unlock()

	flow, err := vs.gpu.ComputeFlow(ctx, t1, t2, vs.quality)
	if err != nil {
		return gpu.FlowField{}, fmt.Errorf("videostream: compute flow: %w", err)
	}

	vs.mu.Lock()
	vs.lastRef1, vs.lastRef2, vs.lastFlow, vs.haveFlow = ref1, ref2, flow, true
	vs.mu.Unlock()
	return flow, nil
}

// ScheduleRefresh re-emits the most recently scheduled frame's bytes, for
// idle streams that still need a keyframe cadence.
func (vs *VS) ScheduleRefresh(localPts time.Time, outPts int64, subtitle string) error {
	vs.mu.Lock()
	video, audio := vs.lastVideo, vs.lastAudio
	vs.mu.Unlock()
	if video == nil {
		return fmt.Errorf("videostream: refresh scheduled before any frame was emitted")
	}
	vs.queue.push(&queuedFrame{kind: domain.KindRefresh, localPts: localPts, outPts: outPts, subtitle: subtitle, video: video, audio: audio})
	return nil
}

// ScheduleSilence queues lengthPts worth of zeroed PCM, for gaps between
// clips with no audio of their own.
func (vs *VS) ScheduleSilence(localPts time.Time, outPts int64, lengthPts int64) error {
	samples := lengthPts * sampleRateHz / domain.Timebase
	if samples < 0 {
		samples = 0
	}
	audio := make([]byte, samples*audioChannels*bytesPerSample)
	vs.queue.push(&queuedFrame{kind: domain.KindSilence, localPts: localPts, outPts: outPts, audio: audio})
	return nil
}

func (vs *VS) rememberLast(video, audio []byte) {
	vs.mu.Lock()
	vs.lastVideo, vs.lastAudio = video, audio
	vs.mu.Unlock()
}

// Run is the encode thread: it drains the frame queue in
// push (FIFO) order, pacing emission to wall-clock time, and writes packets
// to the muxer. It returns when ctx is cancelled.
func (vs *VS) Run(ctx context.Context) error {
	for {
		f, clearCh, ok := vs.queue.front()
		if !ok {
			select {
			case <-vs.queue.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if wait := time.Until(f.localPts); wait > 0 {
			waitStart := time.Now()
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
				metrics.VSEncodeWaitSeconds.Observe(time.Since(waitStart).Seconds())
			case <-clearCh:
				timer.Stop()
				continue
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
		} else {
			metrics.VSEncodeWaitSeconds.Observe(0)
		}

		if !vs.queue.popFront(f) {
			continue
		}
		vs.emit(f)
	}
}

// emit writes one dequeued frame's packets to the muxer and releases its
// borrowed resources. A subtitle packet is emitted one tick before the
// video/audio packet it annotates, matching the source's ordering so
// renderers see the caption before the frame it describes.
func (vs *VS) emit(f *queuedFrame) {
	defer func() {
		if f.release != nil {
			f.release()
		}
	}()

	if f.subtitle != "" {
		if err := vs.mux.WriteSubtitlePacket(f.outPts-1, f.subtitle); err != nil {
			vs.logger.Error("write subtitle packet", slog.Any("error", err))
		}
	}
	if len(f.video) > 0 {
		if err := vs.mux.WriteVideoPacket(f.outPts, f.video); err != nil {
			vs.logger.Error("write video packet", slog.Any("error", err))
		}
	}
	if len(f.audio) > 0 {
		if err := vs.mux.WriteAudioPacket(f.outPts, f.audio); err != nil {
			vs.logger.Error("write audio packet", slog.Any("error", err))
		}
	}
	metrics.VSFramesEncodedTotal.WithLabelValues(f.kind.String()).Inc()
}
