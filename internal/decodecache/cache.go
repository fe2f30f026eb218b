// Package decodecache implements the decode cache (DC): an LRU of
// decoded planar frames keyed by FrameRef, with at-most-once decode
// under contention and a soft byte budget. Shaped after hlsMemBuffer
// (internal/api/http/hls_membuf.go), a map+mutex+byte-budget LRU with
// the same metric shape, generalized from plain LRU-until-under-budget
// to cutoff-point eviction: sort by last_used, evict everything at or
// below the point where cumulative removed bytes first bring usage to
// 90% of budget.
package decodecache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
	"github.com/prosyslab-warehouse/futatabi/internal/domain/ports"
	"github.com/prosyslab-warehouse/futatabi/internal/metrics"
)

// Reader is the narrow slice of framereader.Reader the cache depends on.
type Reader interface {
	Read(ctx context.Context, ref domain.FrameRef, wantVideo, wantAudio bool) (video, audio []byte, err error)
}

type entry struct {
	frame    *Frame
	lastUsed uint64
	size     int64
}

// Cache is the decode cache. It is safe for concurrent use.
type Cache struct {
	mu         sync.Mutex
	entries    map[domain.FrameRef]*entry
	usedBytes  int64
	byteBudget int64
	counter    uint64

	reader  Reader
	decoder Decoder
	sf      singleflight.Group
}

// New creates a Cache reading frame bytes through reader and decoding
// them with decoder, evicting once usedBytes exceeds byteBudget.
func New(reader Reader, decoder Decoder, byteBudget int64) *Cache {
	return &Cache{
		entries:    make(map[domain.FrameRef]*entry),
		byteBudget: byteBudget,
		reader:     reader,
		decoder:    decoder,
	}
}

// GetOrDecode returns the cached frame for ref, decoding it on miss
// unless nullIfMissing is set, in which case a miss returns (nil, nil)
// without attempting a decode. Concurrent calls for the same ref decode
// at most once; latecomers block on the in-flight decode and share its
// result.
func (c *Cache) GetOrDecode(ctx context.Context, ref domain.FrameRef, nullIfMissing bool) (ports.DecodedFrame, error) {
	if f, hit := c.touch(ref); hit {
		metrics.DecodeCacheHitsTotal.Inc()
		return f, nil
	}
	metrics.DecodeCacheMissesTotal.Inc()
	if nullIfMissing {
		return nil, nil
	}

	key := fmt.Sprintf("%d:%d:%d", ref.FileIdx, ref.Offset, ref.PTS)
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if f, hit := c.touch(ref); hit {
			return f, nil
		}

		video, _, err := c.reader.Read(ctx, ref, true, false)
		if err != nil {
			return nil, fmt.Errorf("decodecache: read video: %w", err)
		}

		f, err := c.decoder.Decode(ctx, video)
		if err != nil {
			metrics.DecodeFailuresTotal.Inc()
			f = blackFrame()
		}
		c.insert(ref, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Frame), nil
}

// touch returns the cached frame for ref (bumping last_used and adding
// a reference for the caller) if present.
func (c *Cache) touch(ref domain.FrameRef) (*Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ref]
	if !ok {
		return nil, false
	}
	c.counter++
	e.lastUsed = c.counter
	e.frame.addRef()
	return e.frame, true
}

func (c *Cache) insert(ref domain.FrameRef, f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[ref]; ok {
		c.usedBytes -= existing.size
		existing.frame.Release()
	}

	c.counter++
	size := f.sizeBytes()
	c.entries[ref] = &entry{frame: f, lastUsed: c.counter, size: size}
	c.usedBytes += size
	f.addRef() // caller's reference, returned from GetOrDecode

	if c.usedBytes > c.byteBudget {
		c.pruneLocked()
	}
	c.updateMetricsLocked()
}

// Prune forces an eviction pass even if not called from an insert path,
// matching ports.DecodeCache's Prune() for callers that want to GC on
// their own schedule (e.g. a periodic janitor goroutine).
func (c *Cache) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.updateMetricsLocked()
}

// pruneLocked implements cutoff-point eviction: collect
// (last_used, size) pairs, sort ascending by last_used, and evict every
// entry at or below the last_used value where cumulative removed bytes
// first brings usage down to 90% of budget.
func (c *Cache) pruneLocked() {
	if c.usedBytes <= c.byteBudget || len(c.entries) == 0 {
		return
	}
	target := int64(float64(c.byteBudget) * 0.9)

	type pair struct {
		ref domain.FrameRef
		e   *entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for ref, e := range c.entries {
		pairs = append(pairs, pair{ref, e})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].e.lastUsed < pairs[j].e.lastUsed })

	remaining := c.usedBytes
	var cutoff uint64
	for _, p := range pairs {
		if remaining <= target {
			break
		}
		remaining -= p.e.size
		cutoff = p.e.lastUsed
	}

	for ref, e := range c.entries {
		if e.lastUsed <= cutoff {
			delete(c.entries, ref)
			c.usedBytes -= e.size
			e.frame.Release()
			metrics.DecodeCacheEvictionsTotal.Inc()
		}
	}
}

func (c *Cache) updateMetricsLocked() {
	metrics.DecodeCacheSizeBytes.Set(float64(c.usedBytes))
	metrics.DecodeCacheEntries.Set(float64(len(c.entries)))
}

// BytesUsed returns current cache memory usage.
func (c *Cache) BytesUsed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usedBytes
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
