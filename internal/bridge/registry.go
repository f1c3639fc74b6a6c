package bridge

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConnInfo is the public metadata for one attached page session.
type ConnInfo struct {
	ID                string    `json:"connection_id"`
	RemoteAddr        string    `json:"remote_addr,omitempty"`
	UserAgent         string    `json:"user_agent,omitempty"`
	AttachedAt        time.Time `json:"attached_at"`
	LastActivity      time.Time `json:"last_activity"`
	RequestsSent      uint64    `json:"requests_sent"`
	RequestsSucceeded uint64    `json:"requests_succeeded"`
	RequestsFailed    uint64    `json:"requests_failed"`
}

// Conn is the handle Attach returns to the transport layer. The outbound
// channel carries serialized request envelopes in FIFO order; the registry
// owns it and closing it (via Detach) is the sole teardown path.
type Conn struct {
	ID       string
	outbound chan []byte
}

// Outbound exposes the read side of the connection's send queue.
func (c *Conn) Outbound() <-chan []byte { return c.outbound }

type connRecord struct {
	conn *Conn
	info ConnInfo
}

// Registry tracks the set of currently attached page connections. It knows
// nothing about pending requests; the detach hook is how request cancellation
// cascades into the broker.
type Registry struct {
	mu        sync.Mutex
	conns     map[string]*connRecord
	maxConns  int
	queueSize int
	now       func() time.Time
	onDetach  func(connID string)
}

// NewRegistry builds an empty registry. maxConns caps concurrent attaches;
// queueSize bounds each connection's outbound queue.
func NewRegistry(maxConns, queueSize int) *Registry {
	if queueSize <= 0 {
		queueSize = 32
	}
	return &Registry{
		conns:     make(map[string]*connRecord),
		maxConns:  maxConns,
		queueSize: queueSize,
		now:       time.Now,
	}
}

// SetClock overrides the registry's time source. Tests only.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// SetDetachHook installs the broker's cancellation callback. Must be called
// before any connection attaches.
func (r *Registry) SetDetachHook(fn func(connID string)) { r.onDetach = fn }

// Attach registers a new page connection and returns its handle. A fresh
// uuid is assigned every time; ids are never reused.
func (r *Registry) Attach(remoteAddr, userAgent string) (*Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxConns > 0 && len(r.conns) >= r.maxConns {
		return nil, fmt.Errorf("%w (%d active)", ErrCapacityExceeded, len(r.conns))
	}

	now := r.now()
	conn := &Conn{
		ID:       uuid.NewString(),
		outbound: make(chan []byte, r.queueSize),
	}
	r.conns[conn.ID] = &connRecord{
		conn: conn,
		info: ConnInfo{
			ID:           conn.ID,
			RemoteAddr:   remoteAddr,
			UserAgent:    userAgent,
			AttachedAt:   now,
			LastActivity: now,
		},
	}
	return conn, nil
}

// Detach removes a connection, closes its outbound channel, and synchronously
// fails every pending request that was sent to it. Idempotent: eviction and
// voluntary disconnect can race, so detaching an absent id is a no-op.
func (r *Registry) Detach(connID string) {
	r.mu.Lock()
	rec, ok := r.conns[connID]
	if ok {
		delete(r.conns, connID)
		close(rec.conn.outbound)
	}
	hook := r.onDetach
	r.mu.Unlock()

	if ok && hook != nil {
		hook(connID)
	}
}

// Touch bumps the connection's last-activity timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.conns[connID]; ok {
		rec.info.LastActivity = r.now()
	}
}

// Send enqueues a serialized envelope on the connection's outbound queue and
// counts it as a sent request. Returns ErrConnectionLost if the connection is
// gone or its queue is full.
func (r *Registry) Send(connID string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[connID]
	if !ok {
		return ErrConnectionLost
	}
	select {
	case rec.conn.outbound <- payload:
		rec.info.LastActivity = r.now()
		rec.info.RequestsSent++
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", ErrConnectionLost)
	}
}

// Enqueue pushes a control envelope (e.g. an abort) without counting it as a
// request. Drops silently if the connection is gone or backed up.
func (r *Registry) Enqueue(connID string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[connID]
	if !ok {
		return
	}
	select {
	case rec.conn.outbound <- payload:
	default:
	}
}

// MarkResult records the outcome of a request on the owning connection's
// counters. Counters are observability only; nothing branches on them.
func (r *Registry) MarkResult(connID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, found := r.conns[connID]
	if !found {
		return
	}
	if ok {
		rec.info.RequestsSucceeded++
	} else {
		rec.info.RequestsFailed++
	}
}

// Get returns a copy of the connection's metadata.
func (r *Registry) Get(connID string) (ConnInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.conns[connID]
	if !ok {
		return ConnInfo{}, false
	}
	return rec.info, true
}

// ListActive returns metadata for all connections ordered by last activity,
// most recently active last. Dispatch targets the final entry.
func (r *Registry) ListActive() []ConnInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]ConnInfo, 0, len(r.conns))
	for _, rec := range r.conns {
		infos = append(infos, rec.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].LastActivity.Equal(infos[j].LastActivity) {
			return infos[i].LastActivity.Before(infos[j].LastActivity)
		}
		if !infos[i].AttachedAt.Equal(infos[j].AttachedAt) {
			return infos[i].AttachedAt.Before(infos[j].AttachedAt)
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// IdleBefore returns the ids of connections whose last activity is older than
// cutoff. The health monitor detaches them.
func (r *Registry) IdleBefore(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stale []string
	for id, rec := range r.conns {
		if rec.info.LastActivity.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	return stale
}

// Len returns the number of active connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
