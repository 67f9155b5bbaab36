// Package journal accumulates pending vocabulary mutations between flushes.
//
// The journal guarantees that a flushed envelope never carries contradictory
// operations for the same word: at any moment a word id appears in at most
// one of the three categories.
package journal

import (
	"reflect"
	"sync"

	"github.com/avkdev/lingsync/internal/model"
)

// Diff is a snapshot of pending mutations keyed by word id.
type Diff struct {
	Inserts map[string]model.VocabularyEntry
	Updates map[string]model.VocabularyPatch
	Deletes map[string]bool
}

// Empty reports whether the diff carries no operations.
func (d Diff) Empty() bool {
	return len(d.Inserts) == 0 && len(d.Updates) == 0 && len(d.Deletes) == 0
}

// Len returns the number of pending operations across all categories.
func (d Diff) Len() int {
	return len(d.Inserts) + len(d.Updates) + len(d.Deletes)
}

// Journal is a mutex-guarded diff accumulator. Mutation methods and the sync
// trigger paths share the process, so all access is serialized here.
type Journal struct {
	mu sync.Mutex
	d  Diff
}

// New returns an empty journal.
func New() *Journal {
	return &Journal{d: newDiff()}
}

func newDiff() Diff {
	return Diff{
		Inserts: make(map[string]model.VocabularyEntry),
		Updates: make(map[string]model.VocabularyPatch),
		Deletes: make(map[string]bool),
	}
}

// RecordInsert stages a new entry for wordID. A pending delete for the same
// word is cancelled: the net effect of delete-then-insert is a fresh insert.
func (j *Journal) RecordInsert(wordID string, entry model.VocabularyEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.d.Deletes, wordID)
	delete(j.d.Updates, wordID)
	j.d.Inserts[wordID] = entry
}

// RecordUpdate stages a partial update. An update after a pending insert
// merges into the staged insert rather than emitting a separate operation;
// an update after a pending delete is dropped (the word is gone locally).
func (j *Journal) RecordUpdate(wordID string, patch model.VocabularyPatch) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.d.Deletes[wordID] {
		return
	}
	if ins, ok := j.d.Inserts[wordID]; ok {
		if patch.MasteryLevel != nil {
			ins.MasteryLevel = *patch.MasteryLevel
		}
		if patch.LastReviewSet {
			ins.LastReview = patch.LastReview
		}
		j.d.Inserts[wordID] = ins
		return
	}
	cur, ok := j.d.Updates[wordID]
	if !ok {
		j.d.Updates[wordID] = patch
		return
	}
	if patch.MasteryLevel != nil {
		cur.MasteryLevel = patch.MasteryLevel
	}
	if patch.LastReviewSet {
		cur.LastReview = patch.LastReview
		cur.LastReviewSet = true
	}
	j.d.Updates[wordID] = cur
}

// RecordDelete stages a tombstone. A delete after a pending insert removes
// the insert entirely: the server never learned of the word, so nothing is
// flushed for it at all.
func (j *Journal) RecordDelete(wordID string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.d.Updates, wordID)
	if _, ok := j.d.Inserts[wordID]; ok {
		delete(j.d.Inserts, wordID)
		return
	}
	j.d.Deletes[wordID] = true
}

// Snapshot returns a deep copy of the pending diff.
func (j *Journal) Snapshot() Diff {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := newDiff()
	for k, v := range j.d.Inserts {
		out.Inserts[k] = v
	}
	for k, v := range j.d.Updates {
		out.Updates[k] = v
	}
	for k := range j.d.Deletes {
		out.Deletes[k] = true
	}
	return out
}

// ClearSnapshot drops exactly the acknowledged operations. An entry is
// removed only while it still matches the flushed snapshot; a word mutated
// after the snapshot was taken keeps its newer pending operation and is
// carried by the next flush.
func (j *Journal) ClearSnapshot(d Diff) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for k, v := range d.Inserts {
		if cur, ok := j.d.Inserts[k]; ok && reflect.DeepEqual(cur, v) {
			delete(j.d.Inserts, k)
		}
	}
	for k, v := range d.Updates {
		if cur, ok := j.d.Updates[k]; ok && reflect.DeepEqual(cur, v) {
			delete(j.d.Updates, k)
		}
	}
	for k := range d.Deletes {
		delete(j.d.Deletes, k)
	}
}

// Clear drops all pending operations unconditionally (logout, local reset).
func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.d = newDiff()
}

// Empty reports whether no operations are pending.
func (j *Journal) Empty() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.d.Empty()
}

// Len returns the number of pending operations.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.d.Len()
}
