package postgres

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, dsn, err := startPostgres(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	testPool, err = NewPool(ctx, dsn, 4)
	if err == nil {
		err = EnsureSchema(ctx, testPool)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to prepare database: %v\n", err)
		_ = container.Terminate(ctx)
		os.Exit(1)
	}

	code := m.Run()

	testPool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "pairgate",
			"POSTGRES_PASSWORD": "pairgate",
			"POSTGRES_DB":       "pairgate",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}

	host, err := container.Host(ctx)
	if err != nil {
		return container, "", err
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return container, "", err
	}

	dsn := fmt.Sprintf("postgres://pairgate:pairgate@%s:%s/pairgate?sslmode=disable", host, port.Port())
	return container, dsn, nil
}

func newTestRepository(t *testing.T) (*InstanceRepository, *clock.Fake) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	_, err := testPool.Exec(context.Background(), "TRUNCATE instances")
	require.NoError(t, err)

	clk := clock.NewFake(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewInstanceRepository(testPool, clk, slog.New(slog.NewTextHandler(io.Discard, nil))), clk
}

func TestUpsert_InsertAndUpdate(t *testing.T) {
	repo, clk := newTestRepository(t)
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

	stored, err := repo.GetByName(ctx, "joaosilva5511999998888")
	require.NoError(t, err)
	assert.Equal(t, created.ID, stored.ID)
	assert.Equal(t, domain.StatusConnecting, stored.Status)
	assert.Equal(t, "qr", stored.QRPayload)
	assert.Equal(t, "CODE1234", stored.PairingCode)
	require.NotNil(t, stored.PairingExpiresAt)
	assert.True(t, expires.Equal(*stored.PairingExpiresAt))

	clk.Advance(time.Minute)
	updated, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Status: domain.StatusConnected})
	require.NoError(t, err)
	assert.Equal(t, "owner-1", updated.OwnerID)

	stored, err = repo.GetByName(ctx, "joaosilva5511999998888")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConnected, stored.Status)
	assert.Empty(t, stored.QRPayload)
	assert.Empty(t, stored.PairingCode)
	assert.Nil(t, stored.PairingExpiresAt)
	assert.True(t, clk.Now().Equal(stored.UpdatedAt))
	assert.True(t, created.CreatedAt.Equal(stored.CreatedAt))
}

func TestUpsert_RejectsIncompleteInsert(t *testing.T) {
	repo, _ := newTestRepository(t)

	_, err := repo.Upsert(context.Background(), "5511999998888", domain.InstanceUpdate{Status: domain.StatusConnected})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestUpsert_ConcurrentInsertsConverge(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{
				Name:    "joaosilva5511999998888",
				OwnerID: "owner-1",
				Status:  domain.StatusDisconnected,
			})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	instances, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, instances, 1)
}

func TestUpsert_RejectsOwnerTakeover(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Name: "ana5511999998888", OwnerID: "owner-a", Status: domain.StatusConnected})
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, "5511999998888", domain.InstanceUpdate{Name: "bruno5511999998888", OwnerID: "owner-b", Status: domain.StatusConnecting})
	assert.ErrorIs(t, err, domain.ErrInstanceConflict)

	inst, err := repo.GetByPhone(ctx, "5511999998888")
	require.NoError(t, err)
	assert.Equal(t, "owner-a", inst.OwnerID)
	assert.Equal(t, domain.StatusConnected, inst.Status)

	_, err = repo.GetByPhone(ctx, "5511000000000")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestGetByName_NotFound(t *testing.T) {
	repo, _ := newTestRepository(t)

	_, err := repo.GetByName(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrInstanceNotFound)
}

func TestListByOwner(t *testing.T) {
	repo, clk := newTestRepository(t)
	ctx := context.Background()

	for _, tc := range []struct{ phone, name, owner string }{
		{"5511999990001", "a5511999990001", "owner-1"},
		{"5511999990002", "b5511999990002", "owner-2"},
		{"5511999990003", "c5511999990003", "owner-1"},
	} {
		_, err := repo.Upsert(ctx, tc.phone, domain.InstanceUpdate{Name: tc.name, OwnerID: tc.owner, Status: domain.StatusDisconnected})
		require.NoError(t, err)
		clk.Advance(time.Second)
	}

	instances, err := repo.ListByOwner(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, instances, 2)
	assert.Equal(t, "a5511999990001", instances[0].Name)
	assert.Equal(t, "c5511999990003", instances[1].Name)

	empty, err := repo.ListByOwner(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.Ping(ctx))
}
