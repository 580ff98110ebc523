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

// AdvanceResult reports the outcome of one vesting advance.
type AdvanceResult struct {
	Grant     domain.Grant          `json:"grant"`
	NewEvents []domain.VestingEvent `json:"new_events"`
}

// VestingService owns the vesting ledger. Advance is the only way options
// become vested; it is idempotent and serialized per grant.
type VestingService struct {
	grants domain.GrantStore
	locks  domain.LockManager
	cache  domain.ProjectionCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewVestingService creates a VestingService with all required dependencies.
func NewVestingService(
	grants domain.GrantStore,
	locks domain.LockManager,
	cache domain.ProjectionCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *VestingService {
	return &VestingService{
		grants: grants,
		locks:  locks,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		logger: logger,
	}
}

// Advance realizes every tranche due on or before asOf that has not already
// been recorded, appending one vesting event per tranche. Repeating the same
// asOf, or any earlier one, changes nothing. Cancelled and fully exercised
// grants are left untouched.
func (s *VestingService) Advance(ctx context.Context, grantID string, asOf time.Time) (AdvanceResult, error) {
	unlock, err := s.locks.Acquire(ctx, grantLockKey(grantID), lockTTL)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("vesting_service: acquire lock for %q: %w", grantID, err)
	}
	defer unlock()

	g, err := s.grants.Get(ctx, grantID)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("vesting_service: get grant %q: %w", grantID, err)
	}

	if g.Status.Terminal() {
		return AdvanceResult{Grant: g}, nil
	}

	events, err := s.grants.ListVestingEvents(ctx, grantID)
	if err != nil {
		return AdvanceResult{}, fmt.Errorf("vesting_service: list vesting events for %q: %w", grantID, err)
	}

	if err := checkLedger(ctx, g, events, s.bus, s.audit, s.logger); err != nil {
		return AdvanceResult{}, fmt.Errorf("vesting_service: advance %q: %w", grantID, err)
	}

	due := schedule.VestedTranches(g, asOf)
	if len(due) <= len(events) {
		// Everything due is already recorded.
		return AdvanceResult{Grant: g}, nil
	}

	// Tranches are deterministic and events are appended in tranche order,
	// so the recorded count tells us exactly where to resume.
	now := time.Now().UTC()
	newEvents := make([]domain.VestingEvent, 0, len(due)-len(events))
	var vestedDelta int64
	for _, tr := range due[len(events):] {
		newEvents = append(newEvents, domain.VestingEvent{
			ID:             uuid.NewString(),
			GrantID:        grantID,
			VestingDate:    tr.Date,
			TrancheOptions: tr.Options,
			CreatedAt:      now,
		})
		vestedDelta += tr.Options
	}

	g.VestedOptions += vestedDelta
	g.UpdatedAt = now

	if err := s.grants.Save(ctx, g, newEvents, nil); err != nil {
		return AdvanceResult{}, fmt.Errorf("vesting_service: save advance for %q: %w", grantID, err)
	}
	g.Version++

	s.invalidate(ctx, grantID)

	// The write is committed; release the grant before the bus and audit
	// round-trips so other callers are not serialized behind external I/O.
	unlock()

	evt, _ := json.Marshal(map[string]any{
		"event":          "vesting_advanced",
		"grant_id":       grantID,
		"new_tranches":   len(newEvents),
		"vested_options": g.VestedOptions,
		"as_of":          asOf.Format(time.RFC3339),
	})
	if pubErr := s.bus.Publish(ctx, "grants", evt); pubErr != nil {
		s.logger.WarnContext(ctx, "vesting_service: publish event failed",
			slog.String("grant_id", grantID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := s.audit.Log(ctx, "vesting_advanced", map[string]any{
		"grant_id":       grantID,
		"new_tranches":   len(newEvents),
		"vested_delta":   vestedDelta,
		"vested_options": g.VestedOptions,
		"as_of":          asOf.Format(time.RFC3339),
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "vesting_service: audit log failed",
			slog.String("grant_id", grantID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "vesting_service: vesting advanced",
		slog.String("grant_id", grantID),
		slog.Int("new_tranches", len(newEvents)),
		slog.Int64("vested_options", g.VestedOptions),
	)

	return AdvanceResult{Grant: g, NewEvents: newEvents}, nil
}

// checkLedger verifies that the recorded events still sum to the grant's
// vested counter. A mismatch halts mutation for the grant and is surfaced to
// operators; it is never repaired automatically. Shared by the vesting and
// exercise services since both must refuse to mutate a corrupted ledger.
func checkLedger(
	ctx context.Context,
	g domain.Grant,
	events []domain.VestingEvent,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) error {
	var sum int64
	for _, e := range events {
		sum += e.TrancheOptions
	}
	if sum == g.VestedOptions {
		return nil
	}

	corrErr := &domain.LedgerCorruptionError{
		GrantID:       g.ID,
		EventSum:      sum,
		VestedOptions: g.VestedOptions,
	}

	logger.ErrorContext(ctx, "ledger corruption detected",
		slog.String("grant_id", g.ID),
		slog.Int64("event_sum", sum),
		slog.Int64("vested_options", g.VestedOptions),
	)

	evt, _ := json.Marshal(map[string]any{
		"event":          "ledger_corruption",
		"grant_id":       g.ID,
		"event_sum":      sum,
		"vested_options": g.VestedOptions,
	})
	if pubErr := bus.Publish(ctx, "grants", evt); pubErr != nil {
		logger.WarnContext(ctx, "publish corruption event failed",
			slog.String("grant_id", g.ID),
			slog.String("error", pubErr.Error()),
		)
	}

	if auditErr := audit.Log(ctx, "ledger_corruption", map[string]any{
		"grant_id":       g.ID,
		"event_sum":      sum,
		"vested_options": g.VestedOptions,
	}); auditErr != nil {
		logger.WarnContext(ctx, "corruption audit log failed",
			slog.String("grant_id", g.ID),
			slog.String("error", auditErr.Error()),
		)
	}

	return corrErr
}

func (s *VestingService) invalidate(ctx context.Context, grantID string) {
	if err := s.cache.Invalidate(ctx, grantID); err != nil {
		s.logger.WarnContext(ctx, "vesting_service: projection cache invalidate failed",
			slog.String("grant_id", grantID),
			slog.String("error", err.Error()),
		)
	}
}
