// Package registry is the in-memory store mapping an issue key to its
// current draft record. It is one of the two shared mutable resources in the
// system (the other is the hub's subscriber set) and enforces
// single-writer-per-key discipline.
package registry

import (
	"sort"
	"sync"

	"github.com/triagebot/triage/internal/types"
)

// Registry stores at most one active DraftRecord per issue key. Put is
// create-or-replace: a new record for an already-tracked key supersedes the
// previous one, it never merges. Across concurrent callers for the same key
// the winner is the last write.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*types.DraftRecord
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		records: make(map[string]*types.DraftRecord),
	}
}

// Put creates or replaces the record for key.
func (r *Registry) Put(key string, record *types.DraftRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[key] = record
}

// Get returns the record for key, or nil when untracked.
func (r *Registry) Get(key string) *types.DraftRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[key]
}

// Remove deletes the record for key. Removing an untracked key is a no-op:
// that is what makes replayed commands idempotent.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key)
}

// Update applies fn to the record for key while holding the write lock, so
// concurrent deliveries for the same key never interleave partial writes.
// fn receives nil when the key is untracked; returning nil removes the entry,
// returning a record stores it.
func (r *Registry) Update(key string, fn func(*types.DraftRecord) *types.DraftRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := fn(r.records[key])
	if next == nil {
		delete(r.records, key)
		return
	}
	r.records[key] = next
}

// ListPending returns snapshot copies of the records whose approval status
// is still pending, in stable key order. Callers never observe mutations
// made after the listing.
func (r *Registry) ListPending() []*types.DraftRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.records))
	for key, rec := range r.records {
		if rec.State != nil && rec.State.ApprovalStatus == types.ApprovalPending {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	pending := make([]*types.DraftRecord, 0, len(keys))
	for _, key := range keys {
		pending = append(pending, snapshotRecord(r.records[key]))
	}
	return pending
}

// List returns snapshot copies of every record, in stable key order.
func (r *Registry) List() []*types.DraftRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.records))
	for key := range r.records {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	all := make([]*types.DraftRecord, 0, len(keys))
	for _, key := range keys {
		all = append(all, snapshotRecord(r.records[key]))
	}
	return all
}

// FindByIssueID returns the key and a state snapshot for the record whose
// state carries the given issue ID.
func (r *Registry) FindByIssueID(id string) (string, *types.PipelineState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for key, rec := range r.records {
		if rec.State != nil && rec.State.IssueID == id {
			return key, rec.State.Snapshot(), true
		}
	}
	return "", nil, false
}

func snapshotRecord(rec *types.DraftRecord) *types.DraftRecord {
	cp := &types.DraftRecord{CommentID: rec.CommentID}
	if rec.State != nil {
		cp.State = rec.State.Snapshot()
	}
	return cp
}

// Len returns the number of tracked records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
