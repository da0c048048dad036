package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/apascualco/pairgate/internal/domain"
	"github.com/apascualco/pairgate/internal/infrastructure/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	instanceColumns = `id, phone, name, owner_id, status, qr_payload, pairing_code, pairing_expires_at, created_at, updated_at`
	selectColumns   = `id::text, phone, name, owner_id, status, qr_payload, pairing_code, pairing_expires_at, created_at, updated_at`
)

type InstanceRepository struct {
	pool   *pgxpool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

func NewInstanceRepository(pool *pgxpool.Pool, clk clock.Clock, logger *slog.Logger) *InstanceRepository {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InstanceRepository{
		pool:   pool,
		clock:  clk,
		logger: logger.With("component", "instance_repository_pg"),
	}
}

var _ domain.InstanceRepository = (*InstanceRepository)(nil)

func scanInstance(row pgx.Row) (*domain.Instance, error) {
	var inst domain.Instance
	var status string

	err := row.Scan(
		&inst.ID,
		&inst.Phone,
		&inst.Name,
		&inst.OwnerID,
		&status,
		&inst.QRPayload,
		&inst.PairingCode,
		&inst.PairingExpiresAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inst.Status = domain.Status(status)
	return &inst, nil
}

// Upsert locks the row for phone, applies the update and writes it back in one
// transaction. A concurrent insert of the same phone makes the loser retry as an update.
func (r *InstanceRepository) Upsert(ctx context.Context, phone string, update domain.InstanceUpdate) (*domain.Instance, error) {
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", domain.ErrInvalidRequest)
	}
	if err := update.Validate(); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		inst, err := r.upsertOnce(ctx, phone, update)
		if errors.Is(err, errInsertRaced) {
			r.logger.DebugContext(ctx, "concurrent insert detected, retrying as update", "phone", phone)
			continue
		}
		return inst, err
	}
	return nil, fmt.Errorf("upserting instance %s: %w", phone, errInsertRaced)
}

var errInsertRaced = errors.New("instance inserted concurrently")

func (r *InstanceRepository) upsertOnce(ctx context.Context, phone string, update domain.InstanceUpdate) (*domain.Instance, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := r.clock.Now().UTC()

	inst, err := scanInstance(tx.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM instances WHERE phone = $1 FOR UPDATE`, phone))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if err := update.ValidateInsert(); err != nil {
			return nil, err
		}
		inst = &domain.Instance{ID: uuid.New().String(), Phone: phone, CreatedAt: now}
		update.Apply(inst, now)

		tag, err := tx.Exec(ctx, `
			INSERT INTO instances (`+instanceColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (phone) DO NOTHING`,
			inst.ID, inst.Phone, inst.Name, inst.OwnerID, string(inst.Status),
			inst.QRPayload, inst.PairingCode, inst.PairingExpiresAt, inst.CreatedAt, inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("inserting instance %s: %w", phone, err)
		}
		if tag.RowsAffected() == 0 {
			return nil, errInsertRaced
		}
	case err != nil:
		return nil, fmt.Errorf("locking instance %s: %w", phone, err)
	default:
		if err := update.CheckOwner(inst); err != nil {
			return nil, err
		}
		update.Apply(inst, now)

		_, err := tx.Exec(ctx, `
			UPDATE instances
			SET name = $2, owner_id = $3, status = $4, qr_payload = $5,
			    pairing_code = $6, pairing_expires_at = $7, updated_at = $8
			WHERE phone = $1`,
			inst.Phone, inst.Name, inst.OwnerID, string(inst.Status),
			inst.QRPayload, inst.PairingCode, inst.PairingExpiresAt, inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("updating instance %s: %w", phone, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing instance %s: %w", phone, err)
	}

	r.logger.DebugContext(ctx, "instance upserted", "instance", inst.Name, "status", inst.Status)
	return inst, nil
}

func (r *InstanceRepository) GetByPhone(ctx context.Context, phone string) (*domain.Instance, error) {
	inst, err := scanInstance(r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM instances WHERE phone = $1`, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: phone %s", domain.ErrInstanceNotFound, phone)
		}
		return nil, fmt.Errorf("getting instance by phone %s: %w", phone, err)
	}
	return inst, nil
}

func (r *InstanceRepository) GetByName(ctx context.Context, name string) (*domain.Instance, error) {
	inst, err := scanInstance(r.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM instances WHERE name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInstanceNotFound, name)
		}
		return nil, fmt.Errorf("getting instance %s: %w", name, err)
	}
	return inst, nil
}

func (r *InstanceRepository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Instance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM instances WHERE owner_id = $1 ORDER BY created_at, name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing instances for owner %s: %w", ownerID, err)
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning instance: %w", err)
		}
		instances = append(instances, *inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instances: %w", err)
	}
	return instances, nil
}

// Ping reports whether the database is reachable.
func (r *InstanceRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}
