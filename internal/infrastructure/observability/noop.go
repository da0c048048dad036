package observability

import "time"

type Noop struct{}

func (Noop) GatewayRequest(string, string, time.Duration) {}
func (Noop) PairingAttempt(string, string)                {}
func (Noop) ReconcileCycle(string)                         {}
func (Noop) CacheLookup(string)                            {}
