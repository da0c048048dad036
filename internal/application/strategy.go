package application

import (
	"context"
	"fmt"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/observability"
)

// Names of the ways a pairing payload can be obtained, used in logs and metrics.
const (
	StrategyCreateResponse       = "create_response"
	StrategyConnectEndpoint      = "connect_endpoint"
	StrategyFetchInstancesLookup = "fetch_instances_lookup"
)

func (o *Orchestrator) viaCreateResponse(res *domain.CreateResult) (*domain.PairingInfo, bool) {
	if !res.Pairing.HasPayload() {
		o.config.Metrics.PairingAttempt(StrategyCreateResponse, observability.OutcomeError)
		return nil, false
	}
	o.config.Metrics.PairingAttempt(StrategyCreateResponse, observability.OutcomeSuccess)
	return res.Pairing, true
}

func (o *Orchestrator) viaConnectEndpoint(ctx context.Context, t pairingTarget, attempts int, delay func(int) time.Duration) (*domain.PairingInfo, error) {
	var info *domain.PairingInfo
	attempt := 0

	err := retry(ctx, o.config.Clock, attempts, delay, func(ctx context.Context) error {
		attempt++
		p, err := o.gateway.Connect(ctx, t.name)
		if err != nil {
			t.logger.Debug("connect poll failed", "attempt", attempt, "error", err)
			return err
		}
		if !p.HasPayload() {
			t.logger.Debug("connect poll returned no payload", "attempt", attempt)
			return errNotReady
		}
		info = p
		return nil
	})

	o.recordAttempt(StrategyConnectEndpoint, err)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// viaFetchInstancesLookup looks the instance up in the gateway listing, which
// carries the pairing code when the connect endpoint only returned a QR.
func (o *Orchestrator) viaFetchInstancesLookup(ctx context.Context, t pairingTarget) (*domain.PairingInfo, error) {
	info, err := o.lookupPairing(ctx, t.name)
	o.recordAttempt(StrategyFetchInstancesLookup, err)
	return info, err
}

func (o *Orchestrator) lookupPairing(ctx context.Context, name string) (*domain.PairingInfo, error) {
	instances, err := o.gateway.FetchInstances(ctx)
	if err != nil {
		return nil, err
	}

	for _, inst := range instances {
		if inst.Name != name {
			continue
		}
		if inst.Pairing.PairingCode == "" {
			return nil, fmt.Errorf("instance %s listed without pairing code: %w", name, errNotReady)
		}
		pairing := inst.Pairing
		return &pairing, nil
	}
	return nil, fmt.Errorf("%w: %s not in listing", domain.ErrGatewayInstanceNotFound, name)
}

func (o *Orchestrator) recordAttempt(strategy string, err error) {
	outcome := observability.OutcomeSuccess
	if err != nil {
		outcome = observability.OutcomeError
	}
	o.config.Metrics.PairingAttempt(strategy, outcome)
}
