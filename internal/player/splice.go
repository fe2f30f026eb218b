package player

import "github.com/prosyslab-warehouse/futatabi/internal/domain"

// Splice computes a splice point in a candidate new playlist given the
// currently playing old list, and replaces the old list's tail from
// just after the playing clip(s) onwards. playingIndex2 is -1 if only
// one clip (playingIndex1) is currently playing (e.g. mid-fade into
// the next one).
//
// Returns the old list unchanged if the two lists share no clip identity
// (a pure tail edit of already-played history, which this splice should
// not disturb).
func Splice(newList, oldList domain.Playlist, playingIndex1 int, playingIndex2 int) domain.Playlist {
	spliceStartNew := -1
	for i, c := range newList {
		if c.ID == oldList[playingIndex1].ID {
			spliceStartNew = i + 1
		} else if playingIndex2 != -1 && c.ID == oldList[playingIndex2].ID {
			spliceStartNew = i + 1
		}
	}

	if spliceStartNew == -1 {
		played := make(map[uint64]int, playingIndex1)
		for i := 0; i < playingIndex1; i++ {
			played[oldList[i].ID] = i
		}
		for i, c := range newList {
			if _, ok := played[c.ID]; ok {
				spliceStartNew = i + 1
			}
		}
		if spliceStartNew == -1 {
			// The lists are totally disjoint; most likely the entire
			// thing was deleted upstream. Leave the old list alone.
			return oldList
		}
	}

	spliceStartOld := playingIndex1 + 1
	if playingIndex2 != -1 {
		spliceStartOld = playingIndex2 + 1
	}

	result := make(domain.Playlist, 0, spliceStartOld+len(newList)-spliceStartNew)
	result = append(result, oldList[:spliceStartOld]...)
	result = append(result, newList[spliceStartNew:]...)
	return result
}
