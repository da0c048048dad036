package memory

import (
	"context"
	"testing"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo() (*InstanceRepository, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewInstanceRepository(clk), clk
}

func TestUpsert_InsertsThenUpdates(t *testing.T) {
	repo, clk := newRepo()
	ctx := context.Background()
	expires := clk.Now().Add(time.Minute)

	created, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{
		Name:    "joaosilva5511999998888",
		OwnerID: "owner-1",
		Status:  domain.StatusConnecting,
		Pairing: &domain.StoredPairing{QRCode: "qr", Code: "CODE1234", ExpiresAt: &expires},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "qr", created.QRPayload)
	assert.Equal(t, clk.Now(), created.CreatedAt)

	clk.Advance(time.Minute)
	updated, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Status: domain.StatusConnected})
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "joaosilva5511999998888", updated.Name)
	assert.Equal(t, "owner-1", updated.OwnerID)
	assert.Empty(t, updated.QRPayload, "leaving connecting clears the pairing payload")
	assert.Empty(t, updated.PairingCode)
	assert.Nil(t, updated.PairingExpiresAt)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
	assert.Equal(t, clk.Now(), updated.UpdatedAt)
}

func TestUpsert_StatusOnlyKeepsPairingWhileConnecting(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{
		Name:    "joaosilva5511999998888",
		OwnerID: "owner-1",
		Status:  domain.StatusConnecting,
		Pairing: &domain.StoredPairing{QRCode: "qr"},
	})
	require.NoError(t, err)

	inst, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Status: domain.StatusConnecting})
	require.NoError(t, err)
	assert.Equal(t, "qr", inst.QRPayload)
}

func TestUpsert_Validation(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Status: domain.StatusConnecting})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest, "insert requires name and owner")

	_, err = repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Name: "n", OwnerID: "o", Status: "bogus"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	_, err = repo.Upsert(ctx, "", domain.InstanceUpdate{Name: "n", OwnerID: "o", Status: domain.StatusDisconnected})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestGetByName(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()

	_, err := repo.GetByName(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)

	_, err = repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Name: "old", OwnerID: "owner-1", Status: domain.StatusDisconnected})
	require.NoError(t, err)
	_, err = repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Name: "new", Status: domain.StatusDisconnected})
	require.NoError(t, err)

	inst, err := repo.GetByName(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, "5511999998888", inst.Phone)

	_, err = repo.GetByName(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestListByOwner(t *testing.T) {
	repo, clk := newRepo()
	ctx := context.Background()

	for _, tc := range []struct{ phone, name, owner string }{
		{"5511999990001", "a", "owner-1"},
		{"5511999990002", "b", "owner-2"},
		{"5511999990003", "c", "owner-1"},
	} {
		_, err := repo.Upsert(ctx, tc.phone, domain.InstanceUpdate{Name: tc.name, OwnerID: tc.owner, Status: domain.StatusDisconnected})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	instances, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "a", instances[0].Name)
	assert.Equal(t, "c", instances[1].Name)

	instances[0].Name = "mutated"
	again, _ := repo.ListByOwner(ctx, "owner-1")
	assert.Equal(t, "a", again[0].Name)

	none, err := repo.ListByOwner(ctx, "owner-3")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUpsert_RejectsOwnerTakeover(t *testing.T) {
	repo, _ := newRepo()
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Name: "ana5511999998888", OwnerID: "owner-a", Status: domain.StatusConnected})
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Name: "bruno5511999998888", OwnerID: "owner-b", Status: domain.StatusConnecting})
	assert.ErrorIs(t, err, domain.ErrInstanceConflict)

	inst, err := repo.GetByPhone(ctx, "5511999998888")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", inst.OwnerID)
	assert.Equal(t, "ana5511999998888", inst.Name)
	assert.Equal(t, domain.StatusConnected, inst.Status)

	_, err = repo.GetByName(ctx, "bruno5511999998888")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestGetByPhone_NotFound(t *testing.T) {
	repo, _ := newRepo()

	_, err := repo.GetByPhone(context.Background(), "5511999998888")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}
