// Package memory holds in-process adapters used when no external store is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/google/uuid"
)

type InstanceRepository struct {
	clock  clock.Clock
	mu     sync.RWMutex
	byKey  map[string]*domain.Instance
	byName map[string]string
}

func NewInstanceRepository(clk clock.Clock) *InstanceRepository {
	if clk == nil {
		clk = clock.Real()
	}
	return &InstanceRepository{
		clock:  clk,
		byKey:  make(map[string]*domain.Instance),
		byName: make(map[string]string),
	}
}

var _ domain.InstanceRepository = (*InstanceRepository)(nil)

func (r *InstanceRepository) Upsert(_ context.Context, phone string, update domain.InstanceUpdate) (*domain.Instance, error) {
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", domain.ErrInvalidRequest)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	inst, exists := r.byKey[phone]
	if !exists {
		if err := update.ValidateInsert(); err != nil {
			return nil, err
		}
		inst = &domain.Instance{
			ID:        uuid.New().String(),
			Phone:     phone,
			CreatedAt: now,
		}
	} else {
		if err := update.Validate(); err != nil {
			return nil, err
		}
		if err := update.CheckOwner(inst); err != nil {
			return nil, err
		}
	}

	previousName := inst.Name
	update.Apply(inst, now)

	if previousName != "" && previousName != inst.Name {
		delete(r.byName, previousName)
	}
	r.byKey[phone] = inst
	r.byName[inst.Name] = phone

	return copyInstance(inst), nil
}

func (r *InstanceRepository) GetByPhone(_ context.Context, phone string) (*domain.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.byKey[phone]
	if !ok {
		return nil, fmt.Errorf("%w: phone %s", domain.ErrInstanceNotFound, phone)
	}
	return copyInstance(inst), nil
}

func (r *InstanceRepository) GetByName(_ context.Context, name string) (*domain.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	phone, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
	}
	return copyInstance(r.byKey[phone]), nil
}

func (r *InstanceRepository) ListByOwner(_ context.Context, ownerID string) ([]domain.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var instances []domain.Instance
	for _, inst := range r.byKey {
		if inst.OwnerID == ownerID {
			instances = append(instances, *copyInstance(inst))
		}
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].CreatedAt.Before(instances[j].CreatedAt) ||
			(instances[i].CreatedAt.Equal(instances[j].CreatedAt) && instances[i].Name < instances[j].Name)
	})
	return instances, nil
}

func copyInstance(inst *domain.Instance) *domain.Instance {
	cp := *inst
	if inst.PairingExpiresAt != nil {
		expires := *inst.PairingExpiresAt
		cp.PairingExpiresAt = &expires
	}
	return &cp
}
