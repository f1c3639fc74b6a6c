package bridge

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"
)

// EventSink receives bridge lifecycle events for trace recording.
// Satisfied by *recorder.Recorder; a nil sink disables recording.
type EventSink interface {
	Log(eventType, connID string, data interface{})
}

// Broker turns a typed tool call into exactly one correlated round trip over
// a page connection, or a well-defined failure. It composes the registry and
// the pending table and owns the process-wide request statistics.
//
// Lock ordering: Registry.mu and Table.mu are never held at the same time;
// the broker's own statsMu is innermost.
type Broker struct {
	reg   *Registry
	table *Table
	sink  EventSink
	now   func() time.Time

	statsMu         sync.Mutex
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	avgResponseSec  float64
}

// Option configures a Broker.
type Option func(*Broker)

// WithEventSink wires a trace recorder into the broker.
func WithEventSink(sink EventSink) Option {
	return func(b *Broker) { b.sink = sink }
}

// WithClock overrides the broker's time source. Tests only.
func WithClock(now func() time.Time) Option {
	return func(b *Broker) { b.now = now }
}

// NewBroker composes a registry and a pending table and installs the detach
// hook so that losing a connection fails its in-flight requests.
func NewBroker(reg *Registry, table *Table, opts ...Option) *Broker {
	b := &Broker{
		reg:   reg,
		table: table,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	reg.SetDetachHook(b.cancelConnection)
	return b
}

// envelope is the outbound wire format: {id, type, ...params} flattened.
func envelope(id string, kind Kind, params map[string]interface{}) ([]byte, error) {
	msg := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		msg[k] = v
	}
	msg["id"] = id
	msg["type"] = string(kind)
	return json.Marshal(msg)
}

// Dispatch sends one request to the most-recently-active connection and
// suspends until a result arrives, the deadline expires, the connection is
// lost, or ctx is cancelled. Whichever happens first wins; the pending entry
// is always gone by the time Dispatch returns.
//
// Targeting the most-recently-active connection stands in for real session
// addressing: a single physical page is assumed to hold the user's focus.
func (b *Broker) Dispatch(ctx context.Context, kind Kind, params map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	active := b.reg.ListActive()
	if len(active) == 0 {
		return nil, ErrNoActiveConnection
	}
	target := active[len(active)-1].ID

	id, slot := b.table.Allocate(target, kind, timeout)
	start := b.now()

	data, err := envelope(id, kind, params)
	if err != nil {
		b.table.Fail(id, err)
		<-slot
		return nil, err
	}

	if sendErr := b.reg.Send(target, data); sendErr != nil {
		b.table.Fail(id, sendErr)
		<-slot
		b.recordOutcome(target, start, false)
		return nil, sendErr
	}
	b.record("dispatch", target, map[string]interface{}{"request_id": id, "kind": string(kind)})

	var out Outcome
	select {
	case out = <-slot:
	case <-ctx.Done():
		if _, ok := b.table.Fail(id, ErrAborted); ok {
			b.sendAbort(target, id)
		}
		// The slot is filled either by our Fail or by the racing winner.
		out = <-slot
	}

	b.recordOutcome(target, start, out.Err == nil)
	if out.Err != nil {
		b.record("request_failed", target, map[string]interface{}{"request_id": id, "error": out.Err.Error()})
		return nil, out.Err
	}
	return out.Payload, nil
}

// inboundMessage is the subset of the page's wire format the broker routes on.
type inboundMessage struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Success *bool  `json:"success"`
	Error   string `json:"error"`
	Msg     string `json:"msg"`
}

// HandleInbound routes one raw message from a page connection. Late or
// duplicate results for already-resolved ids are expected under load and are
// discarded without error.
func (b *Broker) HandleInbound(connID string, raw []byte) {
	b.reg.Touch(connID)

	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Printf("discarding malformed message from %s: %v", connID, err)
		return
	}
	if msg.ID == "" {
		return
	}

	switch {
	case msg.Type == "ABORT":
		if owner, ok := b.table.Fail(msg.ID, ErrAborted); ok {
			b.reg.MarkResult(owner, false)
			b.record("request_aborted", owner, map[string]interface{}{"request_id": msg.ID})
		}
	case msg.Type == "ERROR" || (msg.Success != nil && !*msg.Success):
		errMsg := msg.Error
		if errMsg == "" {
			errMsg = msg.Msg
		}
		if owner, ok := b.table.Fail(msg.ID, &PageError{Msg: errMsg}); ok {
			b.reg.MarkResult(owner, false)
		}
	default:
		owner, ok := b.table.Resolve(msg.ID, json.RawMessage(raw))
		if !ok {
			// Already timed out, aborted, or detached: drop silently.
			return
		}
		b.reg.MarkResult(owner, true)
		b.record("request_resolved", owner, map[string]interface{}{"request_id": msg.ID})
	}
}

// SweepExpired fails overdue requests and notifies their pages so open
// prompts can dismiss themselves. Invoked by the health monitor's tick.
func (b *Broker) SweepExpired(now time.Time) int {
	expired := b.table.Sweep(now)
	for _, e := range expired {
		b.reg.MarkResult(e.ConnID, false)
		b.sendAbort(e.ConnID, e.ID)
		b.record("request_timeout", e.ConnID, map[string]interface{}{"request_id": e.ID})
	}
	return len(expired)
}

// cancelConnection is the registry's detach hook: every request outstanding
// on the lost connection fails with ErrConnectionLost.
func (b *Broker) cancelConnection(connID string) {
	failed := b.table.FailConnection(connID, ErrConnectionLost)
	if len(failed) > 0 {
		log.Printf("connection %s detached with %d requests in flight", connID, len(failed))
	}
	b.record("connection_detached", connID, map[string]interface{}{"cancelled_requests": len(failed)})
}

// sendAbort asks the page to dismiss the prompt for a request the caller no
// longer needs. Best effort; the connection may already be gone.
func (b *Broker) sendAbort(connID, requestID string) {
	data, err := json.Marshal(map[string]string{"id": requestID, "type": "ABORT"})
	if err != nil {
		return
	}
	b.reg.Enqueue(connID, data)
}

func (b *Broker) record(eventType, connID string, data interface{}) {
	if b.sink != nil {
		b.sink.Log(eventType, connID, data)
	}
}

func (b *Broker) recordOutcome(connID string, start time.Time, ok bool) {
	elapsed := b.now().Sub(start).Seconds()

	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.totalRequests++
	if ok {
		b.successRequests++
	} else {
		b.failedRequests++
	}
	if b.avgResponseSec == 0 {
		b.avgResponseSec = elapsed
	} else {
		b.avgResponseSec = b.avgResponseSec*0.9 + elapsed*0.1
	}
}

// Stats is a point-in-time view of broker activity for the stats endpoint.
type Stats struct {
	TotalRequests       uint64  `json:"total_requests"`
	SuccessfulRequests  uint64  `json:"successful_requests"`
	FailedRequests      uint64  `json:"failed_requests"`
	SuccessRate         float64 `json:"success_rate"`
	AverageResponseTime float64 `json:"average_response_time"`
	PendingRequests     int     `json:"pending_requests"`
}

// Snapshot returns current request statistics.
func (b *Broker) Snapshot() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	total := b.totalRequests
	if total == 0 {
		total = 1
	}
	return Stats{
		TotalRequests:       b.totalRequests,
		SuccessfulRequests:  b.successRequests,
		FailedRequests:      b.failedRequests,
		SuccessRate:         float64(b.successRequests) / float64(total) * 100,
		AverageResponseTime: b.avgResponseSec,
		PendingRequests:     b.table.Len(),
	}
}
