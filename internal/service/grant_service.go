package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/equitydesk/vestd/internal/domain"
	"github.com/equitydesk/vestd/internal/schedule"
)

// lockTTL bounds how long a crashed process can hold a grant lock before
// other workers may proceed.
const lockTTL = 30 * time.Second

func grantLockKey(grantID string) string {
	return "grant:" + grantID
}

// GrantService manages the grant lifecycle: creation, cancellation, and read
// projections for dashboards.
type GrantService struct {
	grants domain.GrantStore
	locks  domain.LockManager
	cache  domain.ProjectionCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewGrantService creates a GrantService with all required dependencies.
func NewGrantService(
	grants domain.GrantStore,
	locks domain.LockManager,
	cache domain.ProjectionCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *GrantService {
	return &GrantService{
		grants: grants,
		locks:  locks,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// Create validates the grant's schedule parameters and persists it. The
// counters start at zero: vesting is realized only by Advance, even for
// immediate schedules.
func (s *GrantService) Create(ctx context.Context, g domain.Grant) (domain.Grant, error) {
	if err := schedule.Validate(g); err != nil {
		return domain.Grant{}, fmt.Errorf("grant_service: validate schedule: %w", err)
	}
	if g.EmployeeID == "" {
		return domain.Grant{}, fmt.Errorf("grant_service: validate schedule: %w",
			&domain.ScheduleConfigError{Reason: "employee_id is required"})
	}

	now := time.Now().UTC()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.VestedOptions = 0
	g.ExercisedOptions = 0
	g.Status = domain.GrantStatusActive
	g.Version = 1
	g.CreatedAt = now
	g.UpdatedAt = now

	if err := s.grants.Create(ctx, g); err != nil {
		return domain.Grant{}, fmt.Errorf("grant_service: create grant: %w", err)
	}

	s.publish(ctx, map[string]any{
		"event":         "grant_created",
		"grant_id":      g.ID,
		"employee_id":   g.EmployeeID,
		"total_options": g.TotalOptions,
		"schedule_kind": string(g.ScheduleKind),
	})

	if auditErr := s.audit.Log(ctx, "grant_created", map[string]any{
		"grant_id":      g.ID,
		"employee_id":   g.EmployeeID,
		"total_options": g.TotalOptions,
		"schedule_kind": string(g.ScheduleKind),
		"grant_date":    g.GrantDate.Format(time.RFC3339),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "grant_service: audit log failed",
			slog.String("grant_id", g.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "grant_service: grant created",
		slog.String("grant_id", g.ID),
		slog.String("employee_id", g.EmployeeID),
		slog.Int64("total_options", g.TotalOptions),
		slog.String("schedule_kind", string(g.ScheduleKind)),
	)

	return g, nil
}

// Cancel transitions an active grant to cancelled, halting all further
// vesting and exercising. Cancelling an already cancelled grant is a no-op.
func (s *GrantService) Cancel(ctx context.Context, grantID string) (domain.Grant, error) {
	unlock, err := s.locks.Acquire(ctx, grantLockKey(grantID), lockTTL)
	if err != nil {
		return domain.Grant{}, fmt.Errorf("grant_service: acquire lock for %q: %w", grantID, err)
	}
	defer unlock()

	g, err := s.grants.Get(ctx, grantID)
	if err != nil {
		return domain.Grant{}, fmt.Errorf("grant_service: get grant %q: %w", grantID, err)
	}

	switch g.Status {
	case domain.GrantStatusCancelled:
		return g, nil
	case domain.GrantStatusFullyExercised:
		return domain.Grant{}, fmt.Errorf("grant_service: cancel grant %q: %w", grantID, domain.ErrGrantNotActive)
	}

	g.Status = domain.GrantStatusCancelled
	g.UpdatedAt = time.Now().UTC()

	if err := s.grants.Save(ctx, g, nil, nil); err != nil {
		return domain.Grant{}, fmt.Errorf("grant_service: save cancelled grant %q: %w", grantID, err)
	}
	g.Version++

	s.invalidate(ctx, grantID)

	// The write is committed; release the grant before the bus and audit
	// round-trips so other callers are not serialized behind external I/O.
	unlock()

	s.publish(ctx, map[string]any{
		"event":    "grant_cancelled",
		"grant_id": grantID,
	})

	if auditErr := s.audit.Log(ctx, "grant_cancelled", map[string]any{
		"grant_id":          grantID,
		"vested_options":    g.VestedOptions,
		"exercised_options": g.ExercisedOptions,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "grant_service: audit log failed",
			slog.String("grant_id", grantID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "grant_service: grant cancelled",
		slog.String("grant_id", grantID),
		slog.Int64("vested_options", g.VestedOptions),
	)

	return g, nil
}

// Get retrieves a single grant by its ID.
func (s *GrantService) Get(ctx context.Context, id string) (domain.Grant, error) {
	g, err := s.grants.Get(ctx, id)
	if err != nil {
		return domain.Grant{}, fmt.Errorf("grant_service: get grant %q: %w", id, err)
	}
	return g, nil
}

// List returns grants with pagination.
func (s *GrantService) List(ctx context.Context, opts domain.ListOpts) ([]domain.Grant, error) {
	grants, err := s.grants.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("grant_service: list grants: %w", err)
	}
	return grants, nil
}

// Projection returns the dashboard snapshot of a grant's balances, served
// from cache when fresh.
func (s *GrantService) Projection(ctx context.Context, grantID string) (domain.GrantProjection, error) {
	if p, err := s.cache.Get(ctx, grantID); err == nil {
		return p, nil
	}

	g, err := s.grants.Get(ctx, grantID)
	if err != nil {
		return domain.GrantProjection{}, fmt.Errorf("grant_service: get grant %q: %w", grantID, err)
	}

	p := domain.GrantProjection{
		GrantID:          g.ID,
		Status:           g.Status,
		TotalOptions:     g.TotalOptions,
		VestedOptions:    g.VestedOptions,
		ExercisedOptions: g.ExercisedOptions,
		Exercisable:      g.Exercisable(),
		AsOf:             time.Now().UTC(),
	}

	if cacheErr := s.cache.Set(ctx, p); cacheErr != nil {
		s.logger.WarnContext(ctx, "grant_service: projection cache set failed",
			slog.String("grant_id", grantID),
			slog.String("error", cacheErr.Error()),
		)
	}

	return p, nil
}

// ProjectedSchedule returns the grant's remaining tranches strictly after
// asOf, for forward-looking dashboards.
func (s *GrantService) ProjectedSchedule(ctx context.Context, grantID string, asOf time.Time) ([]domain.Tranche, error) {
	g, err := s.grants.Get(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("grant_service: get grant %q: %w", grantID, err)
	}
	return schedule.ProjectedTranches(g, asOf), nil
}

// Events returns the grant's realized vesting events.
func (s *GrantService) Events(ctx context.Context, grantID string) ([]domain.VestingEvent, error) {
	events, err := s.grants.ListVestingEvents(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("grant_service: list vesting events for %q: %w", grantID, err)
	}
	return events, nil
}

// Exercises returns the grant's committed exercise records.
func (s *GrantService) Exercises(ctx context.Context, grantID string) ([]domain.ExerciseRecord, error) {
	records, err := s.grants.ListExerciseRecords(ctx, grantID)
	if err != nil {
		return nil, fmt.Errorf("grant_service: list exercise records for %q: %w", grantID, err)
	}
	return records, nil
}

func (s *GrantService) publish(ctx context.Context, payload map[string]any) {
	evt, _ := json.Marshal(payload)
	if pubErr := s.bus.Publish(ctx, "grants", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "grant_service: publish event failed",
			slog.String("error", pubErr.Error()),
		)
	}
}

func (s *GrantService) invalidate(ctx context.Context, grantID string) {
	if err := s.cache.Invalidate(ctx, grantID); err != nil {
		s.logger.WarnContext(ctx, "grant_service: projection cache invalidate failed",
			slog.String("grant_id", grantID),
			slog.String("error", err.Error()),
		)
	}
}
