// Package framestore implements the append-only frame index described in
// the core's frame store component: a rotating set of on-disk frame
// files plus an in-memory, per-stream pts-sorted index backed by a
// persisted catalog.
package framestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/prosyslab-warehouse/futatabi/internal/catalog"
	"github.com/prosyslab-warehouse/futatabi/internal/domain"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// Store is the frame store (FS). It owns the current frame file being
// written to and the in-memory per-stream indices; readers go through
// framereader.Reader, which caches its own file handle.
type Store struct {
	mu sync.RWMutex

	dir     string
	catalog *catalog.Store
	logger  *slog.Logger

	streams   [domain.MaxStreams][]domain.FrameRef
	filenames map[uint32]string

	curFile     *os.File
	curFileIdx  uint32
	curFilename string
	curRecords  int
	curOffset   uint64
	curPending  map[uint32]catalog.StreamFrames

	nextFileIdx uint32
}

// Open opens (or creates) the frame store rooted at dir/frames, loading
// the catalog and resync-scanning any file the catalog doesn't know
// about.
func Open(ctx context.Context, dir string, cat *catalog.Store, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	framesDir := filepath.Join(dir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, fmt.Errorf("framestore: create frames dir: %w", err)
	}

	s := &Store{
		dir:       framesDir,
		catalog:   cat,
		logger:    logger,
		filenames: make(map[uint32]string),
	}
	if err := s.loadAll(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// loadAll implements load_all: read the catalog first, then fall back to
// a resync scan (on the magic marker) for any .frames file on disk the
// catalog has no row for.
func (s *Store) loadAll(ctx context.Context) error {
	rows, err := s.catalog.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("framestore: load catalog: %w", err)
	}

	known := make(map[string]struct{}, len(rows))
	for fileIdx, row := range rows {
		s.filenames[fileIdx] = row.Filename
		known[row.Filename] = struct{}{}
		if fileIdx >= s.nextFileIdx {
			s.nextFileIdx = fileIdx + 1
		}
		for streamIdx, sf := range row.Frames.Streams {
			s.appendIndexFromCatalog(streamIdx, fileIdx, sf)
		}
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("framestore: read dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".frames" {
			continue
		}
		if _, ok := known[entry.Name()]; ok {
			continue
		}
		fileIdx := s.nextFileIdx
		s.nextFileIdx++
		s.filenames[fileIdx] = entry.Name()
		if err := s.resyncScan(fileIdx, entry.Name()); err != nil {
			s.logger.Warn("framestore: resync scan failed", slog.String("file", entry.Name()), slog.String("error", err.Error()))
		}
	}

	for streamIdx := range s.streams {
		sort.Slice(s.streams[streamIdx], func(i, j int) bool {
			return s.streams[streamIdx][i].PTS < s.streams[streamIdx][j].PTS
		})
	}
	return nil
}

func (s *Store) appendIndexFromCatalog(streamIdx uint32, fileIdx uint32, sf catalog.StreamFrames) {
	if int(streamIdx) >= domain.MaxStreams {
		return
	}
	for i := range sf.PTS {
		s.streams[streamIdx] = append(s.streams[streamIdx], domain.FrameRef{
			PTS:       sf.PTS[i],
			FileIdx:   fileIdx,
			Offset:    sf.Offset[i],
			VideoSize: sf.VideoSize[i],
			AudioSize: sf.AudioSize[i],
		})
	}
}

// resyncScan reads filename record-by-record, skipping garbage bytes
// with a single summarizing warning and stopping cleanly at a clean EOF
// or at the first unrecoverable truncation.
func (s *Store) resyncScan(fileIdx uint32, filename string) error {
	f, err := os.Open(filepath.Join(s.dir, filename))
	if err != nil {
		return err
	}
	defer f.Close()

	var offset uint64
	corrupted := false
	for {
		startOffset := offset
		hdr, err := readRecordHeader(f)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			metrics.CatalogCorruptionWarningsTotal.Inc()
			if !corrupted {
				s.logger.Warn("framestore: corrupted frame file, skipping to the next record marker",
					slog.String("file", filename), slog.String("error", err.Error()))
				corrupted = true
			}
			rest, rerr := io.ReadAll(io.NewSectionReader(f, int64(startOffset)+1, 1<<62))
			if rerr != nil {
				return rerr
			}
			next := bytes.Index(rest, []byte(domain.FrameFileMagic))
			if next < 0 {
				break
			}
			offset = startOffset + 1 + uint64(next)
			if _, err := f.Seek(int64(offset), 0); err != nil {
				return err
			}
			continue
		}
		recordStart := startOffset + uint64(len(domain.FrameFileMagic)) + 4 + recordHeaderSize
		if _, err := f.Seek(int64(recordStart+uint64(hdr.VideoSize)+uint64(hdr.AudioSize)), 0); err != nil {
			return err
		}
		offset = recordStart + uint64(hdr.VideoSize) + uint64(hdr.AudioSize)

		if int(hdr.StreamIdx) < domain.MaxStreams {
			s.streams[hdr.StreamIdx] = append(s.streams[hdr.StreamIdx], domain.FrameRef{
				PTS:       hdr.PTS,
				FileIdx:   fileIdx,
				Offset:    recordStart,
				VideoSize: hdr.VideoSize,
				AudioSize: hdr.AudioSize,
			})
		}
	}
	return nil
}

// Append writes one frame record to the currently open frame file,
// rolling over to a new file once the current file holds FramesPerFile
// records. All streams share that one current file; it is named after
// the stream and pts of the first record written to it.
func (s *Store) Append(streamIdx uint32, pts int64, video, audio []byte) (domain.FrameRef, error) {
	if int(streamIdx) >= domain.MaxStreams {
		return domain.FrameRef{}, fmt.Errorf("framestore: stream_idx %d out of range", streamIdx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.curFile == nil {
		if err := s.rollFile(streamIdx, pts); err != nil {
			return domain.FrameRef{}, err
		}
	}

	recordStart := s.curOffset + uint64(len(domain.FrameFileMagic)) + 4 + recordHeaderSize
	// Writes go straight to the os.File with no Go-level buffering; they
	// are not fsync'd, so losing the last few frames on a hard crash is
	// acceptable per the frame store's durability contract.
	n, err := writeRecord(s.curFile, streamIdx, pts, video, audio)
	if err != nil {
		return domain.FrameRef{}, fmt.Errorf("framestore: write record: %w", err)
	}
	s.curOffset += uint64(n)

	ref := domain.FrameRef{
		PTS:       pts,
		FileIdx:   s.curFileIdx,
		Offset:    recordStart,
		VideoSize: uint32(len(video)),
		AudioSize: uint32(len(audio)),
	}
	s.streams[streamIdx] = append(s.streams[streamIdx], ref)
	metrics.FramesAppendedTotal.WithLabelValues(fmt.Sprint(streamIdx)).Inc()

	sf := s.curPending[streamIdx]
	sf.PTS = append(sf.PTS, pts)
	sf.Offset = append(sf.Offset, ref.Offset)
	sf.VideoSize = append(sf.VideoSize, ref.VideoSize)
	sf.AudioSize = append(sf.AudioSize, ref.AudioSize)
	s.curPending[streamIdx] = sf
	s.curRecords++

	if s.curRecords >= domain.FramesPerFile {
		if err := s.sealCurrentFile(); err != nil {
			return ref, err
		}
	}
	return ref, nil
}

func (s *Store) rollFile(streamIdx uint32, pts int64) error {
	fileIdx := s.nextFileIdx
	s.nextFileIdx++
	filename := fmt.Sprintf("cam%d-pts%d.frames", streamIdx, pts)

	f, err := os.OpenFile(filepath.Join(s.dir, filename), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("framestore: create file %s: %w", filename, err)
	}

	s.curFile = f
	s.curFileIdx = fileIdx
	s.curFilename = filename
	s.curRecords = 0
	s.curOffset = 0
	s.curPending = make(map[uint32]catalog.StreamFrames)
	s.filenames[fileIdx] = filename
	return nil
}

// sealCurrentFile flushes the current file's accumulated frame arrays
// into the catalog atomically and marks the store ready to roll a new
// file on the next append.
func (s *Store) sealCurrentFile() error {
	fc := catalog.FileContents{Streams: s.curPending}
	if err := s.catalog.PutFile(context.Background(), s.curFileIdx, s.curFilename, int64(s.curOffset), fc); err != nil {
		return fmt.Errorf("framestore: seal file %s: %w", s.curFilename, err)
	}
	metrics.FrameFilesSealedTotal.Inc()
	if err := s.curFile.Close(); err != nil {
		return fmt.Errorf("framestore: close sealed file: %w", err)
	}
	s.curFile = nil
	return nil
}

// Close flushes any partially-filled current file's index to the
// catalog (so a restart's resync scan has less work to do) and closes
// the open file handle, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curFile == nil {
		return nil
	}
	fc := catalog.FileContents{Streams: s.curPending}
	if err := s.catalog.PutFile(context.Background(), s.curFileIdx, s.curFilename, int64(s.curOffset), fc); err != nil {
		s.curFile.Close()
		return err
	}
	err := s.curFile.Close()
	s.curFile = nil
	return err
}

// Surrounding performs find_last_frame_before / find_first_frame_at_or_after:
// the last frame with pts <= query and the first with pts >= query. An
// exact match returns the same ref in both.
func (s *Store) Surrounding(streamIdx uint32, pts int64) (lower, upper domain.FrameRef, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(streamIdx) >= domain.MaxStreams {
		return domain.FrameRef{}, domain.FrameRef{}, false
	}
	refs := s.streams[streamIdx]
	if len(refs) == 0 {
		return domain.FrameRef{}, domain.FrameRef{}, false
	}

	// lower: last index with pts <= query.
	lowerIdx := sort.Search(len(refs), func(i int) bool { return refs[i].PTS > pts }) - 1
	// upper: first index with pts >= query.
	upperIdx := sort.Search(len(refs), func(i int) bool { return refs[i].PTS >= pts })

	if lowerIdx < 0 && upperIdx >= len(refs) {
		return domain.FrameRef{}, domain.FrameRef{}, false
	}
	if lowerIdx >= 0 {
		lower = refs[lowerIdx]
	}
	if upperIdx < len(refs) {
		upper = refs[upperIdx]
	}
	return lower, upper, true
}

// FirstAtOrAfter returns the first frame with pts >= query.
func (s *Store) FirstAtOrAfter(streamIdx uint32, pts int64) (domain.FrameRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(streamIdx) >= domain.MaxStreams {
		return domain.FrameRef{}, false
	}
	refs := s.streams[streamIdx]
	idx := sort.Search(len(refs), func(i int) bool { return refs[i].PTS >= pts })
	if idx >= len(refs) {
		return domain.FrameRef{}, false
	}
	return refs[idx], true
}

// LastBefore returns the last frame with pts <= query.
func (s *Store) LastBefore(streamIdx uint32, pts int64) (domain.FrameRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(streamIdx) >= domain.MaxStreams {
		return domain.FrameRef{}, false
	}
	refs := s.streams[streamIdx]
	idx := sort.Search(len(refs), func(i int) bool { return refs[i].PTS > pts }) - 1
	if idx < 0 {
		return domain.FrameRef{}, false
	}
	return refs[idx], true
}

// StreamLen returns the number of frames currently indexed for a stream.
func (s *Store) StreamLen(streamIdx uint32) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(streamIdx) >= domain.MaxStreams {
		return 0
	}
	return len(s.streams[streamIdx])
}

// FrameAt returns the i'th frame (by pts order) of a stream.
func (s *Store) FrameAt(streamIdx uint32, i int) (domain.FrameRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(streamIdx) >= domain.MaxStreams {
		return domain.FrameRef{}, false
	}
	refs := s.streams[streamIdx]
	if i < 0 || i >= len(refs) {
		return domain.FrameRef{}, false
	}
	return refs[i], true
}

// Filename resolves fileIdx to its frame file's name, relative to the
// store's directory. It implements framereader.FilenameLookup, the one
// seam through which FR learns which file a FrameRef's file_idx names.
func (s *Store) Filename(fileIdx uint32) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.filenames[fileIdx]
	return name, ok
}

// Dir returns the directory frame files live under, so callers (FR, the
// ingest path) can root their own paths the same way the store does.
func (s *Store) Dir() string { return s.dir }

// CleanCatalog drops catalog rows (and, conservatively, only catalog
// rows — files themselves are left for an operator-driven offline
// sweep) whose filename is not among usedFilenames.
func (s *Store) CleanCatalog(ctx context.Context, usedFilenames map[string]struct{}) (int, error) {
	return s.catalog.CleanCatalog(ctx, usedFilenames)
}
