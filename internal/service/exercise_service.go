package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/equitydesk/vestd/internal/domain"
)

// ExerciseService converts vested options into shares. Every exercise is
// serialized per grant and re-validates against the balances read under the
// lock, so concurrent requests observe each other's committed writes.
type ExerciseService struct {
	grants domain.GrantStore
	locks  domain.LockManager
	cache  domain.ProjectionCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewExerciseService creates an ExerciseService with all required dependencies.
func NewExerciseService(
	grants domain.GrantStore,
	locks domain.LockManager,
	cache domain.ProjectionCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *ExerciseService {
	return &ExerciseService{
		grants: grants,
		locks:  locks,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// Exercise converts quantity vested options into shares at the grant's strike
// price, stamping the record with asOf (zero means now). Requests exceeding
// the exercisable balance are rejected outright, never clamped. When the
// exercised total reaches the grant total the grant transitions to fully
// exercised.
func (s *ExerciseService) Exercise(ctx context.Context, grantID string, quantity int64, asOf time.Time) (domain.ExerciseRecord, error) {
	if quantity <= 0 {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: quantity %d: %w", quantity, domain.ErrInvalidExercise)
	}

	unlock, err := s.locks.Acquire(ctx, grantLockKey(grantID), lockTTL)
	if err != nil {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: acquire lock for %q: %w", grantID, err)
	}
	defer unlock()

	g, err := s.grants.Get(ctx, grantID)
	if err != nil {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: get grant %q: %w", grantID, err)
	}

	if g.Status != domain.GrantStatusActive {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: grant %q is %s: %w",
			grantID, g.Status, domain.ErrGrantNotActive)
	}

	events, err := s.grants.ListVestingEvents(ctx, grantID)
	if err != nil {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: list vesting events for %q: %w", grantID, err)
	}
	if err := checkLedger(ctx, g, events, s.bus, s.audit, s.logger); err != nil {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: exercise %q: %w", grantID, err)
	}

	if exercisable := g.Exercisable(); quantity > exercisable {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: quantity %d exceeds exercisable %d: %w",
			quantity, exercisable, domain.ErrInvalidExercise)
	}

	now := time.Now().UTC()
	exercisedAt := asOf.UTC()
	if asOf.IsZero() {
		exercisedAt = now
	}
	rec := domain.ExerciseRecord{
		ID:               uuid.NewString(),
		GrantID:          grantID,
		ExercisedAt:      exercisedAt,
		OptionsExercised: quantity,
		TotalCostCents:   quantity * g.ExercisePriceCents,
		CreatedAt:        now,
	}

	g.ExercisedOptions += quantity
	if g.ExercisedOptions == g.TotalOptions {
		g.Status = domain.GrantStatusFullyExercised
	}
	g.UpdatedAt = now

	if err := s.grants.Save(ctx, g, nil, []domain.ExerciseRecord{rec}); err != nil {
		return domain.ExerciseRecord{}, fmt.Errorf("exercise_service: save exercise for %q: %w", grantID, err)
	}

	s.invalidate(ctx, grantID)

	// The write is committed; release the grant before the bus and audit
	// round-trips so other callers are not serialized behind external I/O.
	unlock()

	evt, _ := json.Marshal(map[string]any{
		"event":             "options_exercised",
		"grant_id":          grantID,
		"options_exercised": quantity,
		"total_cost_cents":  rec.TotalCostCents,
		"status":            string(g.Status),
	})
	if pubErr := s.bus.Publish(ctx, "grants", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "exercise_service: publish event failed",
			slog.String("grant_id", grantID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "options_exercised", map[string]any{
		"grant_id":          grantID,
		"record_id":         rec.ID,
		"options_exercised": quantity,
		"total_cost_cents":  rec.TotalCostCents,
		"exercised_total":   g.ExercisedOptions,
		"status":            string(g.Status),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "exercise_service: audit log failed",
			slog.String("grant_id", grantID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "exercise_service: options exercised",
		slog.String("grant_id", grantID),
		slog.Int64("options_exercised", quantity),
		slog.Int64("total_cost_cents", rec.TotalCostCents),
		slog.String("status", string(g.Status)),
	)

	return rec, nil
}

func (s *ExerciseService) invalidate(ctx context.Context, grantID string) {
	if err := s.cache.Invalidate(ctx, grantID); err != nil {
		s.logger.WarnContext(ctx, "exercise_service: projection cache invalidate failed",
			slog.String("grant_id", grantID),
			slog.String("error", err.Error()),
		)
	}
}
