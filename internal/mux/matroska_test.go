package mux

import (
	"testing"

	"github.com/prosyslab-warehouse/futatabi/internal/domain"
)

func TestMuxerFirstChunkIsInitSegment(t *testing.T) {
	var chunks [][]byte
	var keyframes []bool
	m := New(1280, 720, true, true, func(chunk []byte, keyframe bool) {
		chunks = append(chunks, chunk)
		keyframes = append(keyframes, keyframe)
	})

	if err := m.WriteVideoPacket(0, []byte("jpegdata")); err != nil {
		t.Fatalf("WriteVideoPacket: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if len(chunks) < 2 {
		t.Fatalf("expected at least init segment + one cluster, got %d chunks", len(chunks))
	}
	init := chunks[0]
	if len(init) < 4 || string(init[0:4]) != string(idEBML) {
		t.Fatalf("expected first chunk to start with the EBML header id, got %x", init[:min(4, len(init))])
	}
	if keyframes[0] {
		t.Fatal("init segment chunk should not be marked as a keyframe chunk")
	}
}

func TestMuxerSubtitleBeforeVideoWithinCluster(t *testing.T) {
	var chunks [][]byte
	m := New(640, 480, false, true, func(chunk []byte, keyframe bool) {
		chunks = append(chunks, chunk)
	})

	if err := m.WriteSubtitlePacket(0, "PLAYING;0:05 left"); err != nil {
		t.Fatalf("WriteSubtitlePacket: %v", err)
	}
	if err := m.WriteVideoPacket(0, []byte("frame")); err != nil {
		t.Fatalf("WriteVideoPacket: %v", err)
	}
	if err := m.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The cluster chunk is the last one written (after the init segment).
	cluster := chunks[len(chunks)-1]
	subOffset := indexOf(cluster, []byte("PLAYING;0:05 left"))
	videoOffset := indexOf(cluster, []byte("frame"))
	if subOffset < 0 || videoOffset < 0 {
		t.Fatalf("expected both subtitle and video payloads present in the cluster")
	}
	if subOffset > videoOffset {
		t.Fatal("expected the subtitle block to precede the video block in mux byte order")
	}
}

func TestMuxerAudioRequiresTrackEnabled(t *testing.T) {
	m := New(640, 480, false, false, func(chunk []byte, keyframe bool) {})
	if err := m.WriteAudioPacket(0, []byte("pcm")); err == nil {
		t.Fatal("expected an error writing audio when the audio track was not enabled")
	}
}

func TestMuxerClusterFlushesAfterSpan(t *testing.T) {
	var chunks [][]byte
	m := New(640, 480, false, false, func(chunk []byte, keyframe bool) {
		chunks = append(chunks, chunk)
	})

	if err := m.WriteVideoPacket(0, []byte("a")); err != nil {
		t.Fatal(err)
	}
	countAfterFirst := len(chunks)
	// Past maxClusterSpanMs: accepting this one should flush the cluster.
	farPts := int64(maxClusterSpanMs+50) * domain.Timebase / 1000
	if err := m.WriteVideoPacket(farPts, []byte("b")); err != nil {
		t.Fatal(err)
	}
	if len(chunks) <= countAfterFirst {
		t.Fatal("expected the first cluster to flush once the span was exceeded")
	}
}

func indexOf(haystack, needle []byte) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
