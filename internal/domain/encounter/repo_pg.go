package encounter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

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

const encCols = `id, patient_id, kind, status, pool, triage_level, appointment_time, resource_ref,
	source_encounter_id, successor_id, note, arrival_time, status_changed_at, version, created_at, updated_at`

func (r *repoPG) scanEnc(row pgx.Row) (*Encounter, error) {
	var e Encounter
	err := row.Scan(&e.ID, &e.PatientID, &e.Kind, &e.Status, &e.Pool, &e.TriageLevel, &e.AppointmentTime,
		&e.ResourceRef, &e.SourceEncounterID, &e.SuccessorID, &e.Note, &e.ArrivalTime, &e.StatusChangedAt,
		&e.Version, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, flow.ErrNotFound
	}
	return &e, err
}

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO encounter (id, patient_id, kind, status, pool, triage_level, appointment_time, resource_ref,
			source_encounter_id, successor_id, note, arrival_time, status_changed_at, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)
		RETURNING version, created_at, updated_at`,
		e.ID, e.PatientID, e.Kind, e.Status, e.Pool, e.TriageLevel, e.AppointmentTime, e.ResourceRef,
		e.SourceEncounterID, e.SuccessorID, e.Note, e.ArrivalTime, e.StatusChangedAt,
	).Scan(&e.Version, &e.CreatedAt, &e.UpdatedAt)
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := r.scanEnc(r.conn(ctx).QueryRow(ctx, `SELECT `+encCols+` FROM encounter WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("encounter %s: %w", id, err)
	}
	return e, nil
}

func (r *repoPG) Update(ctx context.Context, e *Encounter) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE encounter SET status=$3, pool=$4, triage_level=$5, appointment_time=$6, resource_ref=$7,
			successor_id=$8, note=$9, arrival_time=$10, status_changed_at=$11,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		e.ID, e.Version, e.Status, e.Pool, e.TriageLevel, e.AppointmentTime, e.ResourceRef,
		e.SuccessorID, e.Note, e.ArrivalTime, e.StatusChangedAt,
	).Scan(&e.Version, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("encounter %s at version %d: %w", e.ID, e.Version, flow.ErrStaleState)
	}
	return translateWriteError(e, err)
}

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

// translateWriteError turns a lost race on the one-consultation-per-doctor
// index into the same error the service check returns.
func translateWriteError(e *Encounter, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "idx_encounter_one_in_progress" {
		return fmt.Errorf("pool %s is already serving another encounter: %w", e.Pool, flow.ErrInvalidTransition)
	}
	return err
}

func (r *repoPG) ListActive(ctx context.Context, pool string, kind Kind) ([]*Encounter, error) {
	kinds := []Kind{kind}
	if kind == "" {
		kinds = []Kind{KindAppointment, KindERCase, KindAdmission}
	}
	var clauses []string
	args := []interface{}{pool}
	for _, k := range kinds {
		args = append(args, string(k), ActiveStatuses(k))
		clauses = append(clauses, fmt.Sprintf("(kind = $%d AND status = ANY($%d))", len(args)-1, len(args)))
	}
	query := `SELECT ` + encCols + ` FROM encounter WHERE pool = $1 AND (` + strings.Join(clauses, " OR ") + `)
		ORDER BY arrival_time, id`
	return r.list(ctx, query, args...)
}

func (r *repoPG) Search(ctx context.Context, f Filter, limit, offset int) ([]*Encounter, int, error) {
	where := []string{"1=1"}
	var args []interface{}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PatientID != uuid.Nil {
		add("patient_id = $%d", f.PatientID)
	}
	if f.Pool != "" {
		add("pool = $%d", f.Pool)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ActiveOnly {
		var active []string
		for _, k := range []Kind{KindAppointment, KindERCase, KindAdmission} {
			if f.Kind == "" || f.Kind == k {
				args = append(args, string(k), ActiveStatuses(k))
				active = append(active, fmt.Sprintf("(kind = $%d AND status = ANY($%d))", len(args)-1, len(args)))
			}
		}
		where = append(where, "("+strings.Join(active, " OR ")+")")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM encounter WHERE `+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	items, err := r.list(ctx, fmt.Sprintf(`SELECT `+encCols+` FROM encounter WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListDueNoShows(ctx context.Context, cutoff time.Time) ([]*Encounter, error) {
	return r.list(ctx, `SELECT `+encCols+` FROM encounter
		WHERE kind = $1 AND status = ANY($2) AND appointment_time <= $3
		ORDER BY appointment_time, id`,
		string(KindAppointment), []string{StatusScheduled, StatusConfirmed}, cutoff)
}

func (r *repoPG) list(ctx context.Context, query string, args ...interface{}) ([]*Encounter, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Encounter
	for rows.Next() {
		e, err := r.scanEnc(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

// -- Status History --

func (r *repoPG) AddStatusHistory(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO encounter_status_history (id, encounter_id, from_status, to_status, event, version, changed_at, changed_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		h.ID, h.EncounterID, h.FromStatus, h.ToStatus, h.Event, h.Version, h.ChangedAt, h.ChangedBy)
	return err
}

func (r *repoPG) GetStatusHistory(ctx context.Context, encounterID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, encounter_id, from_status, to_status, event, version, changed_at, changed_by
		FROM encounter_status_history WHERE encounter_id = $1 ORDER BY version`, encounterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.EncounterID, &h.FromStatus, &h.ToStatus, &h.Event, &h.Version, &h.ChangedAt, &h.ChangedBy); err != nil {
			return nil, err
		}
		items = append(items, &h)
	}
	return items, rows.Err()
}
