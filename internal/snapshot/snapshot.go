// Package snapshot persists point-in-time views of the bucket: every key
// with its integrity metadata. A snapshot is immutable once taken and is
// replaced atomically as a whole; there is no delta format.
package snapshot

import (
	"sort"
	"time"
)

// Entry is one object observed in a listing.
type Entry struct {
	Key         string    `json:"key"`
	Fingerprint string    `json:"fingerprint"` // content integrity tag (ETag)
	Size        int64     `json:"size"`
	ObservedAt  time.Time `json:"observed_at"`
}

// Snapshot maps storage key to its observed metadata. One entry per key.
type Snapshot map[string]Entry

// Keys returns all keys in sorted order for deterministic iteration.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ByFingerprint indexes the snapshot by fingerprint. Fingerprints shared by
// multiple keys (duplicate content) map to all of them, sorted, so callers
// can detect the ambiguity instead of guessing.
func (s Snapshot) ByFingerprint() map[string][]string {
	idx := make(map[string][]string)
	for key, e := range s {
		idx[e.Fingerprint] = append(idx[e.Fingerprint], key)
	}
	for fp := range idx {
		sort.Strings(idx[fp])
	}
	return idx
}
