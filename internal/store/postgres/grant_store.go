package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/equitydesk/vestd/internal/domain"
)

// GrantStore implements domain.GrantStore using PostgreSQL.
type GrantStore struct {
	pool *pgxpool.Pool
}

var _ domain.GrantStore = (*GrantStore)(nil)

// NewGrantStore creates a new GrantStore backed by the given connection pool.
func NewGrantStore(pool *pgxpool.Pool) *GrantStore {
	return &GrantStore{pool: pool}
}

const grantSelectCols = `id, employee_id, total_options, exercise_price_cents,
	grant_date, schedule_kind, cliff_months, vesting_period_months, milestones,
	vested_options, exercised_options, status, version, created_at, updated_at`

func scanGrantRow(row pgx.Row) (domain.Grant, error) {
	var g domain.Grant
	var kind, status string
	var milestonesJSON []byte

	err := row.Scan(
		&g.ID, &g.EmployeeID, &g.TotalOptions, &g.ExercisePriceCents,
		&g.GrantDate, &kind, &g.CliffMonths, &g.VestingPeriodMonths, &milestonesJSON,
		&g.VestedOptions, &g.ExercisedOptions, &status, &g.Version,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return domain.Grant{}, err
	}
	g.ScheduleKind = domain.ScheduleKind(kind)
	g.Status = domain.GrantStatus(status)
	if milestonesJSON != nil {
		if err := json.Unmarshal(milestonesJSON, &g.Milestones); err != nil {
			return domain.Grant{}, fmt.Errorf("unmarshal milestones: %w", err)
		}
	}
	return g, nil
}

func scanGrantRows(rows pgx.Rows) ([]domain.Grant, error) {
	var grants []domain.Grant
	for rows.Next() {
		g, err := scanGrantRow(rows)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func marshalMilestones(ms []domain.Milestone) ([]byte, error) {
	if len(ms) == 0 {
		return nil, nil
	}
	return json.Marshal(ms)
}

// Create inserts a new grant.
func (s *GrantStore) Create(ctx context.Context, g domain.Grant) error {
	milestonesJSON, err := marshalMilestones(g.Milestones)
	if err != nil {
		return fmt.Errorf("postgres: marshal milestones for grant %s: %w", g.ID, err)
	}

	const query = `
		INSERT INTO grants (
			id, employee_id, total_options, exercise_price_cents,
			grant_date, schedule_kind, cliff_months, vesting_period_months, milestones,
			vested_options, exercised_options, status, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13, $14, $15
		)
		ON CONFLICT (id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		g.ID, g.EmployeeID, g.TotalOptions, g.ExercisePriceCents,
		g.GrantDate, string(g.ScheduleKind), g.CliffMonths, g.VestingPeriodMonths, milestonesJSON,
		g.VestedOptions, g.ExercisedOptions, string(g.Status), g.Version,
		g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create grant %s: %w", g.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrAlreadyExists
	}
	return nil
}

// Get retrieves a single grant by its ID.
func (s *GrantStore) Get(ctx context.Context, id string) (domain.Grant, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+grantSelectCols+` FROM grants WHERE id = $1`, id)

	g, err := scanGrantRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Grant{}, domain.ErrNotFound
		}
		return domain.Grant{}, fmt.Errorf("postgres: get grant %s: %w", id, err)
	}
	return g, nil
}

// List returns grants with pagination and optional creation-time filtering.
func (s *GrantStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Grant, error) {
	query := `SELECT ` + grantSelectCols + ` FROM grants WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list grants: %w", err)
	}
	defer rows.Close()

	grants, err := scanGrantRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan grants: %w", err)
	}
	return grants, nil
}

// Save commits the grant's mutable fields together with its newly appended
// events and records in one transaction. The UPDATE is guarded by the version
// read by the caller; a stale version writes nothing and reports
// ErrVersionConflict.
func (s *GrantStore) Save(ctx context.Context, g domain.Grant, newEvents []domain.VestingEvent, newRecords []domain.ExerciseRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin save for grant %s: %w", g.ID, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const update = `
		UPDATE grants SET
			vested_options    = $3,
			exercised_options = $4,
			status            = $5,
			version           = version + 1,
			updated_at        = $6
		WHERE id = $1 AND version = $2`

	tag, err := tx.Exec(ctx, update,
		g.ID, g.Version,
		g.VestedOptions, g.ExercisedOptions, string(g.Status), g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update grant %s: %w", g.ID, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing grant from a lost version race.
		var exists bool
		if scanErr := tx.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM grants WHERE id = $1)", g.ID,
		).Scan(&exists); scanErr != nil {
			return fmt.Errorf("postgres: check grant %s: %w", g.ID, scanErr)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrVersionConflict
	}

	for _, e := range newEvents {
		if _, err := tx.Exec(ctx,
			`INSERT INTO vesting_events (id, grant_id, vesting_date, tranche_options, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.ID, e.GrantID, e.VestingDate, e.TrancheOptions, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert vesting event for grant %s: %w", g.ID, err)
		}
	}

	for _, r := range newRecords {
		if _, err := tx.Exec(ctx,
			`INSERT INTO exercise_records (id, grant_id, exercised_at, options_exercised, total_cost_cents, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			r.ID, r.GrantID, r.ExercisedAt, r.OptionsExercised, r.TotalCostCents, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("postgres: insert exercise record for grant %s: %w", g.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save for grant %s: %w", g.ID, err)
	}
	return nil
}

// ListVestingEvents returns the grant's vesting events in append order.
func (s *GrantStore) ListVestingEvents(ctx context.Context, grantID string) ([]domain.VestingEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, grant_id, vesting_date, tranche_options, created_at
		 FROM vesting_events WHERE grant_id = $1 ORDER BY seq`, grantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list vesting events for %s: %w", grantID, err)
	}
	defer rows.Close()

	var events []domain.VestingEvent
	for rows.Next() {
		var e domain.VestingEvent
		if err := rows.Scan(&e.ID, &e.GrantID, &e.VestingDate, &e.TrancheOptions, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan vesting event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list vesting events rows: %w", err)
	}
	return events, nil
}

// ListExerciseRecords returns the grant's exercise records in append order.
func (s *GrantStore) ListExerciseRecords(ctx context.Context, grantID string) ([]domain.ExerciseRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, grant_id, exercised_at, options_exercised, total_cost_cents, created_at
		 FROM exercise_records WHERE grant_id = $1 ORDER BY seq`, grantID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list exercise records for %s: %w", grantID, err)
	}
	defer rows.Close()

	var records []domain.ExerciseRecord
	for rows.Next() {
		var r domain.ExerciseRecord
		if err := rows.Scan(&r.ID, &r.GrantID, &r.ExercisedAt, &r.OptionsExercised, &r.TotalCostCents, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan exercise record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list exercise records rows: %w", err)
	}
	return records, nil
}

// ListClosedBefore returns terminal grants last updated strictly before the
// cutoff, oldest first.
func (s *GrantStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Grant, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+grantSelectCols+` FROM grants
		 WHERE status IN ('fully_exercised', 'cancelled') AND updated_at < $1
		 ORDER BY updated_at`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed grants: %w", err)
	}
	defer rows.Close()

	grants, err := scanGrantRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed grants: %w", err)
	}
	return grants, nil
}
