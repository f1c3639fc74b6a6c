package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of page request in flight.
type Kind string

const (
	KindSnapshot Kind = "SNAPSHOT"
	KindConfirm  Kind = "CONFIRM"
	KindAsk      Kind = "ASK"
)

// Outcome is the single value delivered to a suspended Dispatch caller.
// Exactly one of Payload or Err is set.
type Outcome struct {
	Payload json.RawMessage
	Err     error
}

type pendingEntry struct {
	connID   string
	kind     Kind
	deadline time.Time
	slot     chan Outcome
}

// Expired describes one request failed by a sweep, so the broker can notify
// the owning page and bump its counters.
type Expired struct {
	ID     string
	ConnID string
}

// Table is the pending request table: request id -> suspended caller.
// Resolve, Fail, and Sweep each perform an atomic remove-and-deliver under
// the table's mutex, so at most one of them ever fires for a given id.
type Table struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	now     func() time.Time
}

// NewTable builds an empty pending request table.
func NewTable() *Table {
	return &Table{
		entries: make(map[string]*pendingEntry),
		now:     time.Now,
	}
}

// SetClock overrides the table's time source. Tests only.
func (t *Table) SetClock(now func() time.Time) { t.now = now }

// Allocate registers a new pending request and returns its id and result
// slot. The slot is buffered so the winning resolver never blocks.
func (t *Table) Allocate(connID string, kind Kind, timeout time.Duration) (string, <-chan Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := "req_" + uuid.NewString()
	for _, taken := t.entries[id]; taken; _, taken = t.entries[id] {
		id = "req_" + uuid.NewString()
	}

	entry := &pendingEntry{
		connID:   connID,
		kind:     kind,
		deadline: t.now().Add(timeout),
		slot:     make(chan Outcome, 1),
	}
	t.entries[id] = entry
	return id, entry.slot
}

// Resolve removes the entry and fills its slot with the page's payload.
// Returns the owning connection id and false if the id is no longer pending
// (already resolved, timed out, or cancelled).
func (t *Table) Resolve(id string, payload json.RawMessage) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return "", false
	}
	delete(t.entries, id)
	entry.slot <- Outcome{Payload: payload}
	return entry.connID, true
}

// Fail removes the entry and fills its slot with err.
func (t *Table) Fail(id string, err error) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[id]
	if !ok {
		return "", false
	}
	delete(t.entries, id)
	entry.slot <- Outcome{Err: err}
	return entry.connID, true
}

// FailConnection fails every entry owned by connID with err and returns the
// failed ids. Called by the broker's detach hook.
func (t *Table) FailConnection(connID string, err error) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var failed []string
	for id, entry := range t.entries {
		if entry.connID != connID {
			continue
		}
		delete(t.entries, id)
		entry.slot <- Outcome{Err: err}
		failed = append(failed, id)
	}
	return failed
}

// Sweep fails every entry whose deadline has passed and reports them.
// Failing happens under the same lock as removal, so a racing Resolve for
// the same id sees NotFound rather than a double delivery.
func (t *Table) Sweep(now time.Time) []Expired {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Expired
	for id, entry := range t.entries {
		if entry.deadline.After(now) {
			continue
		}
		delete(t.entries, id)
		entry.slot <- Outcome{Err: ErrRequestTimedOut}
		expired = append(expired, Expired{ID: id, ConnID: entry.connID})
	}
	return expired
}

// Len returns the number of in-flight requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// PendingIDs returns the ids of all in-flight requests, for the stats endpoint.
func (t *Table) PendingIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}
