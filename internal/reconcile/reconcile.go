// Package reconcile compares bucket snapshots against the identifier map
// and brings the map back in line with live storage: new keys get
// identifiers, confirmed-deleted keys lose theirs, and content that
// reappeared under a different key keeps its identifier (a move).
//
// Reconcile is a pure function over its inputs and holds no persistent
// state; the engine's idempotence follows from that. Ownership of the
// persisted tables stays with the urimap and snapshot stores.
package reconcile

import (
	"sort"
	"time"

	"github.com/permauri/permauri/internal/idgen"
	"github.com/permauri/permauri/internal/snapshot"
	"github.com/permauri/permauri/internal/urimap"
)

// Change actions, matching the append-only change log format.
const (
	ActionAdded    = "added"
	ActionDeleted  = "deleted"
	ActionModified = "modified"
)

// Change is one observed difference between two snapshots. Change records
// are append-only and never mutated after emission.
type Change struct {
	Action string    `json:"action"`
	Key    string    `json:"key"`
	Time   time.Time `json:"time"`
}

// Summary counts what a reconciliation run saw and did.
type Summary struct {
	Scanned  int `json:"scanned"`
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Moved    int `json:"moved"`
}

// Reconcile diffs old against new and mutates m so every key in the new
// snapshot has exactly one identifier:
//
//  1. keys only in new are added, keys only in old are deleted, common keys
//     with a differing fingerprint or size are modified — each emits a
//     change record stamped with now;
//  2. a fingerprint that maps to exactly one key on both sides, under
//     different names, is a move: the old key's identifier is rewritten to
//     the new key. Fingerprints shared by multiple keys on either side are
//     ambiguous and deliberately not rewritten — those keys fall through as
//     independent add/delete pairs;
//  3. deleted keys whose identifier was not consumed by a move are pruned;
//  4. every remaining new-snapshot key without an identifier gets a fresh
//     one.
//
// Iteration is over sorted keys throughout, so the outcome is
// deterministic. changed reports whether m was mutated; running Reconcile
// again with the same snapshots and the already-reconciled map reports
// changed == false.
func Reconcile(old, new snapshot.Snapshot, m *urimap.Map, gen *idgen.Generator, now time.Time) (changes []Change, sum Summary, changed bool, err error) {
	sum.Scanned = len(new)

	var added, deleted []string
	for _, key := range new.Keys() {
		if _, ok := old[key]; !ok {
			added = append(added, key)
		}
	}
	for _, key := range old.Keys() {
		oldEntry := old[key]
		newEntry, ok := new[key]
		if !ok {
			deleted = append(deleted, key)
			continue
		}
		if oldEntry.Fingerprint != newEntry.Fingerprint || oldEntry.Size != newEntry.Size {
			changes = append(changes, Change{Action: ActionModified, Key: key, Time: now})
			sum.Modified++
		}
	}
	for _, key := range added {
		changes = append(changes, Change{Action: ActionAdded, Key: key, Time: now})
	}
	for _, key := range deleted {
		changes = append(changes, Change{Action: ActionDeleted, Key: key, Time: now})
	}
	sum.Added = len(added)
	sum.Removed = len(deleted)

	// Move detection: same fingerprint, different key, unambiguous on both
	// sides.
	oldByFP := old.ByFingerprint()
	newByFP := new.ByFingerprint()
	movedFrom := make(map[string]bool)
	for _, fp := range sortedFingerprints(oldByFP) {
		oldKeys := oldByFP[fp]
		newKeys, ok := newByFP[fp]
		if !ok {
			continue
		}
		if len(oldKeys) != 1 || len(newKeys) != 1 {
			// Duplicate content makes the pairing ambiguous; leave the
			// identifiers alone rather than guess.
			continue
		}
		oldKey, newKey := oldKeys[0], newKeys[0]
		if oldKey == newKey {
			continue
		}
		if m.Rewrite(oldKey, newKey) {
			movedFrom[oldKey] = true
			sum.Moved++
			changed = true
		}
	}

	// Deletion pruning: identifiers already rewritten by a move keep
	// living under their new key; everything else mapped to a deleted key
	// is confirmed gone.
	for _, key := range deleted {
		if movedFrom[key] {
			continue
		}
		if _, ok := m.DeleteByKey(key); ok {
			changed = true
		}
	}

	// New-key assignment for anything still unmapped.
	for _, key := range new.Keys() {
		if _, ok := m.IDForKey(key); ok {
			continue
		}
		if _, _, err := m.GetOrCreate(key, gen); err != nil {
			return changes, sum, changed, err
		}
		changed = true
	}

	return changes, sum, changed, nil
}

// IndexNew is the restricted incremental mode: it only performs new-key
// assignment over a fresh listing, without diffing, move detection, or
// pruning. It backs `sync --incremental` for callers that must never
// remove an entry.
func IndexNew(snap snapshot.Snapshot, m *urimap.Map, gen *idgen.Generator) (created int, err error) {
	for _, key := range snap.Keys() {
		if _, ok := m.IDForKey(key); ok {
			continue
		}
		if _, _, err := m.GetOrCreate(key, gen); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func sortedFingerprints(idx map[string][]string) []string {
	fps := make([]string, 0, len(idx))
	for fp := range idx {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	return fps
}
