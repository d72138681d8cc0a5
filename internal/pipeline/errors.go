package pipeline

import (
	"fmt"
	"time"
)

// ParseError reports a malformed request record.
type ParseError struct {
	Index  int
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("parse: request #%d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("parse: request #%d (%s): %s", e.Index, e.Name, e.Reason)
}

// MatchError reports a request that could not be grouped.
type MatchError struct {
	Request string
	Reason  string
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("match: request %q: %s", e.Request, e.Reason)
}

// RouteError reports a pool with no feasible pickup order.
type RouteError struct {
	PoolID string
	Reason string
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("route: pool %s: %s", e.PoolID, e.Reason)
}

// PricingError reports a pool that cannot be priced.
type PricingError struct {
	PoolID string
	Reason string
}

func (e *PricingError) Error() string {
	return fmt.Sprintf("price: pool %s: %s", e.PoolID, e.Reason)
}

// TicketError reports a ticket that could not be issued.
type TicketError struct {
	PoolID string
	Rider  string
	Reason string
}

func (e *TicketError) Error() string {
	return fmt.Sprintf("ticket: pool %s rider %q: %s", e.PoolID, e.Rider, e.Reason)
}

type StageTimeoutError struct {
	Stage   Stage
	Elapsed time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Elapsed.Round(time.Millisecond))
}

// PipelineError wraps the first stage failure of a run.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }
