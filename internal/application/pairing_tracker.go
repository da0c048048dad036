package application

import (
	"context"
	"sync"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
)

// PairingTracker remembers the pairing window handed out for each instance name.
type PairingTracker interface {
	Track(ctx context.Context, name string, window domain.PairingWindow) error
	// Window returns domain.ErrPairingNotTracked when nothing is tracked or the window expired.
	Window(ctx context.Context, name string) (*domain.PairingWindow, error)
	Clear(ctx context.Context, name string) error
}

type MemoryPairingTracker struct {
	clock   clock.Clock
	mu      sync.Mutex
	windows map[string]domain.PairingWindow
}

func NewMemoryPairingTracker(clk clock.Clock) *MemoryPairingTracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryPairingTracker{
		clock:   clk,
		windows: make(map[string]domain.PairingWindow),
	}
}

func (t *MemoryPairingTracker) Track(_ context.Context, name string, window domain.PairingWindow) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.windows[name] = window
	return nil
}

func (t *MemoryPairingTracker) Window(_ context.Context, name string) (*domain.PairingWindow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window, ok := t.windows[name]
	if !ok {
		return nil, domain.ErrPairingNotTracked
	}
	if window.Expired(t.clock.Now()) {
		delete(t.windows, name)
		return nil, domain.ErrPairingNotTracked
	}
	return &window, nil
}

func (t *MemoryPairingTracker) Clear(_ context.Context, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.windows, name)
	return nil
}
