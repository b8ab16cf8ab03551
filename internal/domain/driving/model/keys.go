package model

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	keyRoot          = "sessions/"
	segmentExt       = ".bin"
	artifactBaseName = "merged_"
)

// SegmentPrefix is the shared prefix of every object stored for a session.
func SegmentPrefix(sessionID int64) string {
	return fmt.Sprintf("%s%d/", keyRoot, sessionID)
}

// SegmentKey builds the storage key of one segment. The chunk index leads
// so keys group by sequence; the nanosecond timestamp keeps them unique.
func SegmentKey(sessionID int64, storedAt time.Time, chunkIndex int) string {
	return fmt.Sprintf("%s%06d-%020d%s", SegmentPrefix(sessionID), chunkIndex, storedAt.UnixNano(), segmentExt)
}

// ChunkIndexFromKey extracts the chunk index from a segment key.
func ChunkIndexFromKey(key string) (int, bool) {
	if !IsSegmentKey(key) {
		return 0, false
	}
	base := path.Base(key)
	head, _, found := strings.Cut(base, "-")
	if !found {
		return 0, false
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// SortSegmentKeys orders segment keys by chunk index. Keys without a
// parseable index sort after indexed ones, by name.
func SortSegmentKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		a, okA := ChunkIndexFromKey(keys[i])
		b, okB := ChunkIndexFromKey(keys[j])
		switch {
		case okA && okB && a != b:
			return a < b
		case okA != okB:
			return okA
		default:
			return keys[i] < keys[j]
		}
	})
}

// IsSegmentKey reports whether key names a raw segment (as opposed to an artifact).
func IsSegmentKey(key string) bool {
	return strings.HasSuffix(key, segmentExt)
}

// ArtifactKey is the key of the reassembled recording for a session.
func ArtifactKey(sessionID int64) string {
	return fmt.Sprintf("%s%s%d.mp4", SegmentPrefix(sessionID), artifactBaseName, sessionID)
}
