package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for every terminal outcome a dispatched request can have.
// Callers match them with errors.Is; none of them triggers a retry.
var (
	// ErrNoActiveConnection means no page was attached at dispatch time.
	ErrNoActiveConnection = errors.New("no page connected: open the web app first")
	// ErrRequestTimedOut means the deadline elapsed with no result from the page.
	ErrRequestTimedOut = errors.New("page did not respond in time")
	// ErrConnectionLost means the owning connection detached mid-flight.
	ErrConnectionLost = errors.New("page connection lost")
	// ErrAborted means the caller cancelled, or the page sent an abort signal.
	ErrAborted = errors.New("request aborted")
	// ErrCapacityExceeded means an attach was rejected by the registry.
	// Surfaced to the transport layer only, never to tool callers.
	ErrCapacityExceeded = errors.New("connection limit reached")
)

// PageError carries an error message reported by the page itself
// (an inbound message with success=false or type ERROR).
type PageError struct {
	Msg string
}

func (e *PageError) Error() string {
	if e.Msg == "" {
		return "page reported an error"
	}
	return fmt.Sprintf("page reported an error: %s", e.Msg)
}
