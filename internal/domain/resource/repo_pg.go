package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/patientflow/internal/domain/flow"
	"github.com/ehr/patientflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const resourceCols = `id, kind, pool, name, status, current_encounter_id, daily_rate, features,
	starts_at, ends_at, version, created_at, updated_at`

func (r *repoPG) scanResource(row pgx.Row) (*Resource, error) {
	var res Resource
	err := row.Scan(&res.ID, &res.Kind, &res.Pool, &res.Name, &res.Status, &res.CurrentEncounterID,
		&res.DailyRate, &res.Features, &res.StartsAt, &res.EndsAt, &res.Version, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, flow.ErrNotFound
	}
	return &res, err
}

func (r *repoPG) Create(ctx context.Context, res *Resource) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.Features == nil {
		res.Features = []string{}
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO resource (id, kind, pool, name, status, current_encounter_id, daily_rate, features, starts_at, ends_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
		RETURNING version, created_at, updated_at`,
		res.ID, res.Kind, res.Pool, res.Name, res.Status, res.CurrentEncounterID, res.DailyRate, res.Features,
		res.StartsAt, res.EndsAt).Scan(&res.Version, &res.CreatedAt, &res.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Resource, error) {
	res, err := r.scanResource(r.conn(ctx).QueryRow(ctx, `SELECT `+resourceCols+` FROM resource WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("resource %s: %w", id, err)
	}
	return res, nil
}

func (r *repoPG) Update(ctx context.Context, res *Resource) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE resource SET name=$3, status=$4, current_encounter_id=$5, daily_rate=$6, features=$7,
			starts_at=$8, ends_at=$9, version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		res.ID, res.Version, res.Name, res.Status, res.CurrentEncounterID, res.DailyRate, res.Features,
		res.StartsAt, res.EndsAt).Scan(&res.Version, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("resource %s at version %d: %w", res.ID, res.Version, flow.ErrStaleState)
	}
	return err
}

func (r *repoPG) ListByPool(ctx context.Context, pool string) ([]*Resource, error) {
	return r.list(ctx, `SELECT `+resourceCols+` FROM resource WHERE pool = $1 ORDER BY name, id`, pool)
}

func (r *repoPG) ListByStatus(ctx context.Context, pool string, status Status) ([]*Resource, error) {
	if pool == "" {
		return r.list(ctx, `SELECT `+resourceCols+` FROM resource WHERE status = $1 ORDER BY name, id`, status)
	}
	return r.list(ctx, `SELECT `+resourceCols+` FROM resource WHERE pool = $1 AND status = $2 ORDER BY name, id`, pool, status)
}

func (r *repoPG) FindByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Resource, error) {
	return r.list(ctx, `SELECT `+resourceCols+` FROM resource WHERE current_encounter_id = $1`, encounterID)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Resource, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Resource
	for rows.Next() {
		res, err := r.scanResource(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, res)
	}
	return items, rows.Err()
}
