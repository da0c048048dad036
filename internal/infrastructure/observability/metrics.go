// Package observability records service metrics behind a small interface so
// application code does not depend on a metrics backend.
package observability

import "time"

type Recorder interface {
	GatewayRequest(op, outcome string, elapsed time.Duration)
	PairingAttempt(strategy, outcome string)
	ReconcileCycle(outcome string)
	CacheLookup(result string)
}

const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeChanged   = "changed"
	OutcomeUnchanged = "unchanged"
	OutcomeSkipped   = "skipped"

	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheShared = "shared"
)
