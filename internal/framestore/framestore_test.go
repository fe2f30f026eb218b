package framestore

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prosyslab-warehouse/futatabi/internal/catalog"
	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	cat, err := catalog.Open(context.Background(), filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	fs, err := Open(context.Background(), dir, cat, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { fs.Close() })
	return fs, dir
}

func TestAppendMonotonicPTSPerStream(t *testing.T) {
	store, _ := openTestStore(t)

	for i := 0; i < 10; i++ {
		pts := int64(i * 200000)
		if _, err := store.Append(0, pts, []byte("v"), []byte("a")); err != nil {
			t.Fatalf("Append(%d): %v", pts, err)
		}
	}

	for i := 0; i < store.StreamLen(0)-1; i++ {
		a, _ := store.FrameAt(0, i)
		b, _ := store.FrameAt(0, i+1)
		if !(a.PTS < b.PTS) {
			t.Errorf("frames[%d].pts=%d not < frames[%d].pts=%d", i, a.PTS, i+1, b.PTS)
		}
	}
}

func TestAppendRoundtripBytes(t *testing.T) {
	store, dir := openTestStore(t)

	video := []byte("fake-mjpeg-bytes-here")
	audio := []byte("fake-pcm-bytes")
	ref, err := store.Append(2, 12345, video, audio)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	filename, ok := store.filenames[ref.FileIdx]
	if !ok {
		t.Fatalf("no filename recorded for file_idx %d", ref.FileIdx)
	}
	f, err := os.Open(filepath.Join(dir, "frames", filename))
	if err != nil {
		t.Fatalf("open frame file: %v", err)
	}
	defer f.Close()

	gotVideo := make([]byte, ref.VideoSize)
	if _, err := f.ReadAt(gotVideo, int64(ref.Offset)); err != nil {
		t.Fatalf("read video at offset: %v", err)
	}
	if !bytes.Equal(gotVideo, video) {
		t.Errorf("video roundtrip: got %q, want %q", gotVideo, video)
	}

	gotAudio := make([]byte, ref.AudioSize)
	if _, err := f.ReadAt(gotAudio, int64(ref.Offset)+int64(ref.VideoSize)); err != nil {
		t.Fatalf("read audio at offset: %v", err)
	}
	if !bytes.Equal(gotAudio, audio) {
		t.Errorf("audio roundtrip: got %q, want %q", gotAudio, audio)
	}
}

func TestSurroundingBounds(t *testing.T) {
	store, _ := openTestStore(t)

	ptsList := []int64{0, 100, 200, 300, 400}
	for _, pts := range ptsList {
		if _, err := store.Append(0, pts, nil, nil); err != nil {
			t.Fatalf("Append(%d): %v", pts, err)
		}
	}

	cases := []struct {
		query       int64
		wantLower   int64
		wantUpper   int64
		wantLowerOk bool
		wantUpperOk bool
	}{
		{query: 150, wantLower: 100, wantUpper: 200, wantLowerOk: true, wantUpperOk: true},
		{query: 200, wantLower: 200, wantUpper: 200, wantLowerOk: true, wantUpperOk: true},
		{query: -10, wantLowerOk: false, wantUpper: 0, wantUpperOk: true},
		{query: 1000, wantLower: 400, wantLowerOk: true, wantUpperOk: false},
	}
	for _, tc := range cases {
		lower, upper, ok := store.Surrounding(0, tc.query)
		if !ok {
			t.Fatalf("Surrounding(%d): ok=false", tc.query)
		}
		if tc.wantLowerOk && lower.PTS != tc.wantLower {
			t.Errorf("Surrounding(%d).lower = %d, want %d", tc.query, lower.PTS, tc.wantLower)
		}
		if tc.wantUpperOk && upper.PTS != tc.wantUpper {
			t.Errorf("Surrounding(%d).upper = %d, want %d", tc.query, upper.PTS, tc.wantUpper)
		}
	}
}

func TestFirstAtOrAfterAndLastBefore(t *testing.T) {
	store, _ := openTestStore(t)
	for _, pts := range []int64{10, 20, 30} {
		if _, err := store.Append(1, pts, nil, nil); err != nil {
			t.Fatalf("Append(%d): %v", pts, err)
		}
	}

	if got, ok := store.FirstAtOrAfter(1, 15); !ok || got.PTS != 20 {
		t.Errorf("FirstAtOrAfter(15) = (%d, %v), want (20, true)", got.PTS, ok)
	}
	if got, ok := store.LastBefore(1, 25); !ok || got.PTS != 20 {
		t.Errorf("LastBefore(25) = (%d, %v), want (20, true)", got.PTS, ok)
	}
	if _, ok := store.FirstAtOrAfter(1, 1000); ok {
		t.Error("FirstAtOrAfter(1000) expected ok=false")
	}
	if _, ok := store.LastBefore(1, -1); ok {
		t.Error("LastBefore(-1) expected ok=false")
	}
}

func TestFileSealingAndReload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cat, err := catalog.Open(ctx, filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))

	store, err := Open(ctx, dir, cat, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.Append(0, int64(i*100), []byte("x"), nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := cat.Close(); err != nil {
		t.Fatalf("cat.Close: %v", err)
	}

	// Reopen against the same directory/catalog and confirm the index
	// survives without needing the resync-scan fallback.
	cat2, err := catalog.Open(ctx, filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open (reload): %v", err)
	}
	defer cat2.Close()
	store2, err := Open(ctx, dir, cat2, logger)
	if err != nil {
		t.Fatalf("Open (reload): %v", err)
	}
	defer store2.Close()

	if got := store2.StreamLen(0); got != 3 {
		t.Errorf("StreamLen after reload = %d, want 3", got)
	}
}

func TestResyncScanRecoversUncataloguedFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	cat, err := catalog.Open(ctx, filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))

	store, err := Open(ctx, dir, cat, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := store.Append(0, int64(i*100), []byte("frame"), nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	// Deliberately don't call store.Close(): it would flush the current
	// file's index to the catalog, defeating the resync-scan path this
	// test exercises. Simulate a crash by just closing the catalog.
	if err := cat.Close(); err != nil {
		t.Fatalf("cat.Close: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "frames"))
	if err != nil {
		t.Fatalf("read frames dir: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected at least one .frames file on disk")
	}

	cat2, err := catalog.Open(ctx, filepath.Join(dir, "catalog.db"))
	if err != nil {
		t.Fatalf("catalog.Open (reload): %v", err)
	}
	defer cat2.Close()
	store2, err := Open(ctx, dir, cat2, logger)
	if err != nil {
		t.Fatalf("Open (reload): %v", err)
	}
	defer store2.Close()

	if got := store2.StreamLen(0); got != 5 {
		t.Errorf("StreamLen after resync scan = %d, want 5", got)
	}
}

func TestCleanCatalogDropsUnusedRows(t *testing.T) {
	store, dir := openTestStore(t)

	for i := 0; i < domain.FramesPerFile+1; i++ {
		if _, err := store.Append(0, int64(i*100), []byte("x"), nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "frames"))
	if err != nil {
		t.Fatalf("read frames dir: %v", err)
	}
	if len(entries) < 2 {
		t.Skip("not enough sealed files to exercise CleanCatalog in this run")
	}

	used := map[string]struct{}{}
	for i, e := range entries {
		if i == 0 {
			used[e.Name()] = struct{}{}
		}
	}
	dropped, err := store.CleanCatalog(context.Background(), used)
	if err != nil {
		t.Fatalf("CleanCatalog: %v", err)
	}
	if dropped == 0 {
		t.Error("CleanCatalog: expected at least one dropped row")
	}
}
