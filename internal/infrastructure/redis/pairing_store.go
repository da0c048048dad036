package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/redis/go-redis/v9"
)

const (
	pairingKeyPrefix = "pairgate:pairing:"
	pairingGrace     = time.Minute
	// Non-expiring windows are kept for a day so abandoned ones do not pile up.
	pairingDefaultTTL = 24 * time.Hour
)

// PairingStore keeps pairing windows in Redis so every replica sees the same countdown.
type PairingStore struct {
	client *Client
	clock  clock.Clock
}

func NewPairingStore(client *Client, clk clock.Clock) *PairingStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &PairingStore{client: client, clock: clk}
}

func pairingKey(name string) string {
	return pairingKeyPrefix + name
}

func (s *PairingStore) Track(ctx context.Context, name string, window domain.PairingWindow) error {
	payload, err := json.Marshal(window)
	if err != nil {
		return fmt.Errorf("failed to marshal pairing window: %w", err)
	}

	ttl := pairingDefaultTTL
	if window.Expiring() {
		ttl = window.Remaining(s.clock.Now()) + pairingGrace
	}

	if err := s.client.Set(ctx, pairingKey(name), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pairing window for %s: %w", name, err)
	}
	return nil
}

func (s *PairingStore) Window(ctx context.Context, name string) (*domain.PairingWindow, error) {
	payload, err := s.client.Get(ctx, pairingKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPairingNotTracked
		}
		return nil, fmt.Errorf("failed to load pairing window for %s: %w", name, err)
	}

	var window domain.PairingWindow
	if err := json.Unmarshal(payload, &window); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pairing window for %s: %w", name, err)
	}
	if window.Expired(s.clock.Now()) {
		return nil, domain.ErrPairingNotTracked
	}
	return &window, nil
}

func (s *PairingStore) Clear(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, pairingKey(name)).Err(); err != nil {
		return fmt.Errorf("failed to clear pairing window for %s: %w", name, err)
	}
	return nil
}
