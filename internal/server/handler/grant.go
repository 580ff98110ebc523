package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/equitydesk/vestd/internal/domain"
	"github.com/equitydesk/vestd/internal/service"
)

// GrantService defines the grant lifecycle methods the handler requires.
type GrantService interface {
	Create(ctx context.Context, g domain.Grant) (domain.Grant, error)
	Cancel(ctx context.Context, grantID string) (domain.Grant, error)
	Get(ctx context.Context, id string) (domain.Grant, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.Grant, error)
	Projection(ctx context.Context, grantID string) (domain.GrantProjection, error)
	ProjectedSchedule(ctx context.Context, grantID string, asOf time.Time) ([]domain.Tranche, error)
	Events(ctx context.Context, grantID string) ([]domain.VestingEvent, error)
	Exercises(ctx context.Context, grantID string) ([]domain.ExerciseRecord, error)
}

// VestingService defines the ledger methods the handler requires.
type VestingService interface {
	Advance(ctx context.Context, grantID string, asOf time.Time) (service.AdvanceResult, error)
}

// ExerciseService defines the exercise methods the handler requires.
type ExerciseService interface {
	Exercise(ctx context.Context, grantID string, quantity int64, asOf time.Time) (domain.ExerciseRecord, error)
}

// GrantHandler serves all grant-related HTTP endpoints.
type GrantHandler struct {
	grants    GrantService
	vesting   VestingService
	exercises ExerciseService
	logger    *slog.Logger
}

// NewGrantHandler creates a GrantHandler with the given services and logger.
func NewGrantHandler(grants GrantService, vesting VestingService, exercises ExerciseService, logger *slog.Logger) *GrantHandler {
	return &GrantHandler{
		grants:    grants,
		vesting:   vesting,
		exercises: exercises,
		logger:    logger,
	}
}

// createGrantRequest is the JSON body for grant creation.
type createGrantRequest struct {
	EmployeeID          string             `json:"employee_id"`
	TotalOptions        int64              `json:"total_options"`
	ExercisePriceCents  int64              `json:"exercise_price_cents"`
	GrantDate           time.Time          `json:"grant_date"`
	ScheduleKind        string             `json:"schedule_kind"`
	CliffMonths         int                `json:"cliff_months"`
	VestingPeriodMonths int                `json:"vesting_period_months"`
	Milestones          []domain.Milestone `json:"milestones,omitempty"`
}

// CreateGrant creates a new grant.
// POST /api/grants
func (h *GrantHandler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var req createGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	g, err := h.grants.Create(r.Context(), domain.Grant{
		EmployeeID:          req.EmployeeID,
		TotalOptions:        req.TotalOptions,
		ExercisePriceCents:  req.ExercisePriceCents,
		GrantDate:           req.GrantDate,
		ScheduleKind:        domain.ScheduleKind(req.ScheduleKind),
		CliffMonths:         req.CliffMonths,
		VestingPeriodMonths: req.VestingPeriodMonths,
		Milestones:          req.Milestones,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create grant failed",
			slog.String("employee_id", req.EmployeeID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, g)
}

// listGrantsResponse wraps the list grants response.
type listGrantsResponse struct {
	Grants []domain.Grant `json:"grants"`
}

// ListGrants returns grants with pagination.
// GET /api/grants?limit=50&offset=0
func (h *GrantHandler) ListGrants(w http.ResponseWriter, r *http.Request) {
	grants, err := h.grants.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list grants failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if grants == nil {
		grants = []domain.Grant{}
	}
	writeJSON(w, http.StatusOK, listGrantsResponse{Grants: grants})
}

// GetGrant returns a single grant.
// GET /api/grants/{id}
func (h *GrantHandler) GetGrant(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	g, err := h.grants.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// GetProjection returns the dashboard snapshot of a grant's balances.
// GET /api/grants/{id}/projection
func (h *GrantHandler) GetProjection(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	p, err := h.grants.Projection(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// scheduleResponse wraps the projected schedule response.
type scheduleResponse struct {
	GrantID  string           `json:"grant_id"`
	AsOf     time.Time        `json:"as_of"`
	Tranches []domain.Tranche `json:"tranches"`
}

// GetSchedule returns the forward-looking tranche schedule.
// GET /api/grants/{id}/schedule?as_of=2026-01-01T00:00:00Z
func (h *GrantHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	asOf, ok := parseAsOf(w, r)
	if !ok {
		return
	}

	tranches, err := h.grants.ProjectedSchedule(r.Context(), id, asOf)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if tranches == nil {
		tranches = []domain.Tranche{}
	}
	writeJSON(w, http.StatusOK, scheduleResponse{GrantID: id, AsOf: asOf, Tranches: tranches})
}

// listEventsResponse wraps the vesting events response.
type listEventsResponse struct {
	Events []domain.VestingEvent `json:"events"`
}

// ListEvents returns the grant's realized vesting events.
// GET /api/grants/{id}/events
func (h *GrantHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.grants.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	events, err := h.grants.Events(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if events == nil {
		events = []domain.VestingEvent{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

// listExercisesResponse wraps the exercise records response.
type listExercisesResponse struct {
	Exercises []domain.ExerciseRecord `json:"exercises"`
}

// ListExercises returns the grant's committed exercise records.
// GET /api/grants/{id}/exercises
func (h *GrantHandler) ListExercises(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.grants.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	records, err := h.grants.Exercises(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if records == nil {
		records = []domain.ExerciseRecord{}
	}
	writeJSON(w, http.StatusOK, listExercisesResponse{Exercises: records})
}

// advanceRequest is the JSON body for a vesting advance. AsOf defaults to
// the current time when omitted.
type advanceRequest struct {
	AsOf *time.Time `json:"as_of"`
}

// AdvanceVesting realizes all tranches due on or before the requested time.
// POST /api/grants/{id}/advance
func (h *GrantHandler) AdvanceVesting(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req advanceRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	asOf := time.Now().UTC()
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}

	res, err := h.vesting.Advance(r.Context(), id, asOf)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: advance vesting failed",
			slog.String("grant_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	if res.NewEvents == nil {
		res.NewEvents = []domain.VestingEvent{}
	}
	writeJSON(w, http.StatusOK, res)
}

// exerciseRequest is the JSON body for an exercise. AsOf defaults to the
// current time when omitted.
type exerciseRequest struct {
	Quantity int64      `json:"quantity"`
	AsOf     *time.Time `json:"as_of"`
}

// ExerciseOptions converts vested options into shares.
// POST /api/grants/{id}/exercise
func (h *GrantHandler) ExerciseOptions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req exerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var asOf time.Time
	if req.AsOf != nil {
		asOf = req.AsOf.UTC()
	}

	rec, err := h.exercises.Exercise(r.Context(), id, req.Quantity, asOf)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: exercise failed",
			slog.String("grant_id", id),
			slog.Int64("quantity", req.Quantity),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// CancelGrant halts all further vesting and exercising on a grant.
// POST /api/grants/{id}/cancel
func (h *GrantHandler) CancelGrant(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	g, err := h.grants.Cancel(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: cancel grant failed",
			slog.String("grant_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, g)
}

// parseAsOf reads an optional as_of query parameter, defaulting to now. On a
// malformed value it writes a 400 and returns ok=false.
func parseAsOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	v := r.URL.Query().Get("as_of")
	if v == "" {
		return time.Now().UTC(), true
	}
	asOf, err := time.Parse(time.RFC3339, v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "as_of must be RFC 3339")
		return time.Time{}, false
	}
	return asOf.UTC(), true
}
