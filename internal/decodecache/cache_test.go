package decodecache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

// fakeReader serves fixed video bytes for any ref, counting how many times
// Read is called so tests can assert decode happens at most once per ref.
type fakeReader struct {
	mu    sync.Mutex
	calls int
	video []byte
	err   error
}

func (r *fakeReader) Read(ctx context.Context, ref domain.FrameRef, wantVideo, wantAudio bool) ([]byte, []byte, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.err != nil {
		return nil, nil, r.err
	}
	return r.video, nil, nil
}

func (r *fakeReader) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// slowDecoder decodes with SoftwareDecoder after an artificial delay, so
// concurrent GetOrDecode callers racing for the same ref actually overlap.
type slowDecoder struct {
	delay   time.Duration
	calls   int32
	failN   int32 // if > 0, the first failN calls fail
	software SoftwareDecoder
}

func (d *slowDecoder) Decode(ctx context.Context, video []byte) (*Frame, error) {
	n := atomic.AddInt32(&d.calls, 1)
	time.Sleep(d.delay)
	if d.failN > 0 && n <= d.failN {
		return nil, errors.New("slowDecoder: forced failure")
	}
	return d.software.Decode(ctx, video)
}

func solidJPEG(t *testing.T, w, h int, c color.YCbCr) []byte {
	t.Helper()
	img := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			yi := img.YOffset(x, y)
			ci := img.COffset(x, y)
			img.Y[yi] = c.Y
			img.Cb[ci] = c.Cb
			img.Cr[ci] = c.Cr
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode test jpeg: %v", err)
	}
	return buf.Bytes()
}

// withAPP1 splices a synthetic Exif APP1 segment right after the SOI marker
// of an otherwise valid JPEG, the way a real camera-produced MJPEG frame
// would carry one.
func withAPP1(video []byte, payload []byte) []byte {
	app1 := append([]byte{0xFF, markerAPP1, byte((len(payload) + 2) >> 8), byte((len(payload) + 2) & 0xff)}, payload...)
	out := make([]byte, 0, len(video)+len(app1))
	out = append(out, video[:2]...) // SOI
	out = append(out, app1...)
	out = append(out, video[2:]...)
	return out
}

func refN(n int64) domain.FrameRef {
	return domain.FrameRef{PTS: n, FileIdx: 0, Offset: uint64(n), VideoSize: 10}
}

func TestGetOrDecodeCacheHitIdentity(t *testing.T) {
	video := solidJPEG(t, 4, 4, color.YCbCr{Y: 10, Cb: 20, Cr: 30})
	reader := &fakeReader{video: video}
	cache := New(reader, SoftwareDecoder{}, 1<<20)

	ref := refN(1)
	first, err := cache.GetOrDecode(context.Background(), ref, false)
	if err != nil {
		t.Fatalf("first GetOrDecode: %v", err)
	}
	defer first.Release()

	second, err := cache.GetOrDecode(context.Background(), ref, false)
	if err != nil {
		t.Fatalf("second GetOrDecode: %v", err)
	}
	defer second.Release()

	if first != second {
		t.Fatalf("expected cache hit to return the identical *Frame, got distinct values")
	}
	if reader.callCount() != 1 {
		t.Fatalf("expected exactly one decode for a repeated ref, reader was read %d times", reader.callCount())
	}
	if first.Width() != 4 || first.Height() != 4 {
		t.Fatalf("unexpected frame dimensions: %dx%d", first.Width(), first.Height())
	}
}

func TestGetOrDecodeNullIfMissing(t *testing.T) {
	reader := &fakeReader{video: solidJPEG(t, 2, 2, color.YCbCr{})}
	cache := New(reader, SoftwareDecoder{}, 1<<20)

	f, err := cache.GetOrDecode(context.Background(), refN(1), true)
	if err != nil {
		t.Fatalf("GetOrDecode: %v", err)
	}
	if f != nil {
		t.Fatalf("expected nil for a miss with nullIfMissing, got %v", f)
	}
	if reader.callCount() != 0 {
		t.Fatalf("nullIfMissing must not trigger a decode, reader was read %d times", reader.callCount())
	}
}

func TestGetOrDecodeSingleflightDeduplicatesConcurrentDecodes(t *testing.T) {
	reader := &fakeReader{video: solidJPEG(t, 4, 4, color.YCbCr{Y: 5, Cb: 5, Cr: 5})}
	decoder := &slowDecoder{delay: 50 * time.Millisecond}
	cache := New(reader, decoder, 1<<20)

	ref := refN(7)
	const n = 8
	var wg sync.WaitGroup
	results := make([]*Frame, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := cache.GetOrDecode(context.Background(), ref, false)
			if f != nil {
				results[i] = f.(*Frame)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("goroutine %d: %v", i, err)
		}
	}
	for _, r := range results {
		if r != nil {
			r.Release()
		}
	}
	if got := atomic.LoadInt32(&decoder.calls); got != 1 {
		t.Fatalf("expected exactly one decode under contention, got %d", got)
	}
}

func TestGetOrDecodeFallsBackToBlackFrameOnDecodeFailure(t *testing.T) {
	reader := &fakeReader{video: []byte("not a jpeg")}
	cache := New(reader, SoftwareDecoder{}, 1<<20)

	f, err := cache.GetOrDecode(context.Background(), refN(1), false)
	if err != nil {
		t.Fatalf("GetOrDecode: %v", err)
	}
	defer f.Release()

	if f.Width() != 1 || f.Height() != 1 {
		t.Fatalf("expected the 1x1 black frame fallback, got %dx%d", f.Width(), f.Height())
	}
}

func TestPruneEvictsAtCutoffPoint(t *testing.T) {
	reader := &fakeReader{}
	// Each 8x8 frame decodes to three full-resolution 64-byte planes plus
	// 64 bytes of bookkeeping = 256 bytes; a budget of 500 holds only one,
	// so each insert evicts the entry before it while leaving the most
	// recent entry in place.
	cache := New(reader, SoftwareDecoder{}, 500)

	frameSize := solidJPEG(t, 8, 8, color.YCbCr{Y: 1, Cb: 1, Cr: 1})
	for i := int64(0); i < 5; i++ {
		reader.video = frameSize
		f, err := cache.GetOrDecode(context.Background(), refN(i), false)
		if err != nil {
			t.Fatalf("GetOrDecode(%d): %v", i, err)
		}
		f.Release()
	}

	if cache.Len() == 0 {
		t.Fatal("expected at least the most recently inserted entry to survive eviction")
	}
	if cache.BytesUsed() <= 0 {
		t.Fatal("expected some bytes still accounted for after eviction")
	}

	// The oldest ref should have been evicted; the most recent should not.
	if _, hit := cache.touch(refN(0)); hit {
		t.Error("expected the oldest entry to have been evicted under a byte-budget of 500")
	}
	if _, hit := cache.touch(refN(4)); !hit {
		t.Error("expected the most recently inserted entry to survive eviction")
	}
}

func TestExtractExifAPP1RoundTrip(t *testing.T) {
	base := solidJPEG(t, 4, 4, color.YCbCr{Y: 100, Cb: 120, Cr: 140})
	payload := []byte("Exif\x00\x00fake-tiff-bytes")
	video := withAPP1(base, payload)

	got := extractExifAPP1(video)
	if string(got) != string(payload) {
		t.Fatalf("extractExifAPP1: got %q, want %q", got, payload)
	}

	f, err := (SoftwareDecoder{}).Decode(context.Background(), video)
	if err != nil {
		t.Fatalf("Decode with APP1 present: %v", err)
	}
	defer f.Release()
	if string(f.Exif()) != string(payload) {
		t.Fatalf("decoded frame Exif: got %q, want %q", f.Exif(), payload)
	}
}

func TestExtractExifAPP1AbsentReturnsNil(t *testing.T) {
	video := solidJPEG(t, 4, 4, color.YCbCr{})
	if got := extractExifAPP1(video); got != nil {
		t.Fatalf("expected nil Exif for a plain JPEG, got %v", got)
	}
}

func TestChainDecoderFallsThroughToSoftware(t *testing.T) {
	video := solidJPEG(t, 2, 2, color.YCbCr{Y: 9, Cb: 9, Cr: 9})
	chain := ChainDecoder{Hardware: HardwareDecoder{}, Software: SoftwareDecoder{}}

	f, err := chain.Decode(context.Background(), video)
	if err != nil {
		t.Fatalf("ChainDecoder.Decode: %v", err)
	}
	defer f.Release()
	if f.Width() != 2 || f.Height() != 2 {
		t.Fatalf("unexpected dimensions from fallback decode: %dx%d", f.Width(), f.Height())
	}
}
