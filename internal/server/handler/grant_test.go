package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equitydesk/vestd/internal/domain"
	"github.com/equitydesk/vestd/internal/lock"
	"github.com/equitydesk/vestd/internal/service"
	"github.com/equitydesk/vestd/internal/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	grants := memory.NewGrantStore()
	audit := memory.NewAuditStore()
	locks := lock.NewKeyed()
	cache := memory.NewProjectionCache()
	bus := memory.NewSignalBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	grantSvc := service.NewGrantService(grants, locks, cache, bus, audit, logger)
	vestSvc := service.NewVestingService(grants, locks, cache, bus, audit, logger)
	exerSvc := service.NewExerciseService(grants, locks, cache, bus, audit, logger)

	h := NewGrantHandler(grantSvc, vestSvc, exerSvc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/grants", h.CreateGrant)
	mux.HandleFunc("GET /api/grants", h.ListGrants)
	mux.HandleFunc("GET /api/grants/{id}", h.GetGrant)
	mux.HandleFunc("POST /api/grants/{id}/cancel", h.CancelGrant)
	mux.HandleFunc("POST /api/grants/{id}/advance", h.AdvanceVesting)
	mux.HandleFunc("POST /api/grants/{id}/exercise", h.ExerciseOptions)
	mux.HandleFunc("GET /api/grants/{id}/projection", h.GetProjection)
	mux.HandleFunc("GET /api/grants/{id}/schedule", h.GetSchedule)
	mux.HandleFunc("GET /api/grants/{id}/events", h.ListEvents)
	mux.HandleFunc("GET /api/grants/{id}/exercises", h.ListExercises)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func getJSON(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

const createBody = `{
	"employee_id": "emp-1",
	"total_options": 4800,
	"exercise_price_cents": 250,
	"grant_date": "2023-01-01T00:00:00Z",
	"schedule_kind": "cliff_graded",
	"cliff_months": 12,
	"vesting_period_months": 48
}`

func createTestGrant(t *testing.T, srv *httptest.Server) domain.Grant {
	t.Helper()
	resp, data := postJSON(t, srv.URL+"/api/grants", createBody)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var g domain.Grant
	require.NoError(t, json.Unmarshal(data, &g))
	return g
}

func TestCreateGrantEndpoint(t *testing.T) {
	srv := newTestServer(t)

	g := createTestGrant(t, srv)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, domain.GrantStatusActive, g.Status)
	assert.Equal(t, int64(4800), g.TotalOptions)

	resp, data := getJSON(t, srv.URL+"/api/grants/"+g.ID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.Grant
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, g.ID, got.ID)
}

func TestCreateGrantEndpointRejectsBadSchedule(t *testing.T) {
	srv := newTestServer(t)

	resp, data := postJSON(t, srv.URL+"/api/grants", `{
		"employee_id": "emp-1",
		"total_options": 100,
		"exercise_price_cents": 250,
		"grant_date": "2023-01-01T00:00:00Z",
		"schedule_kind": "cliff_graded",
		"cliff_months": 48,
		"vesting_period_months": 48
	}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "cliff_months")
}

func TestGetGrantNotFound(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := getJSON(t, srv.URL+"/api/grants/nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdvanceAndExerciseFlow(t *testing.T) {
	srv := newTestServer(t)
	g := createTestGrant(t, srv)

	// Advance past the cliff.
	resp, data := postJSON(t, srv.URL+"/api/grants/"+g.ID+"/advance",
		`{"as_of": "2024-01-01T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var adv service.AdvanceResult
	require.NoError(t, json.Unmarshal(data, &adv))
	assert.Equal(t, int64(1200), adv.Grant.VestedOptions)
	assert.Len(t, adv.NewEvents, 1)

	// Exercise part of the vested balance.
	resp, data = postJSON(t, srv.URL+"/api/grants/"+g.ID+"/exercise", `{"quantity": 500}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var rec domain.ExerciseRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, int64(500), rec.OptionsExercised)
	assert.Equal(t, int64(125000), rec.TotalCostCents)

	// Projection reflects both.
	resp, data = getJSON(t, srv.URL+"/api/grants/"+g.ID+"/projection")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var p domain.GrantProjection
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, int64(1200), p.VestedOptions)
	assert.Equal(t, int64(500), p.ExercisedOptions)
	assert.Equal(t, int64(700), p.Exercisable)

	// History endpoints.
	resp, data = getJSON(t, srv.URL+"/api/grants/"+g.ID+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var events listEventsResponse
	require.NoError(t, json.Unmarshal(data, &events))
	assert.Len(t, events.Events, 1)

	resp, data = getJSON(t, srv.URL+"/api/grants/"+g.ID+"/exercises")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var exercises listExercisesResponse
	require.NoError(t, json.Unmarshal(data, &exercises))
	assert.Len(t, exercises.Exercises, 1)
}

func TestExerciseEndpointErrors(t *testing.T) {
	srv := newTestServer(t)
	g := createTestGrant(t, srv)

	// Nothing vested yet.
	resp, _ := postJSON(t, srv.URL+"/api/grants/"+g.ID+"/exercise", `{"quantity": 10}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Non-positive quantity.
	resp, _ = postJSON(t, srv.URL+"/api/grants/"+g.ID+"/exercise", `{"quantity": 0}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Cancelled grants conflict.
	resp, _ = postJSON(t, srv.URL+"/api/grants/"+g.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/api/grants/"+g.ID+"/exercise", `{"quantity": 10}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestScheduleEndpoint(t *testing.T) {
	srv := newTestServer(t)
	g := createTestGrant(t, srv)

	url := fmt.Sprintf("%s/api/grants/%s/schedule?as_of=%s",
		srv.URL, g.ID, "2024-01-01T00:00:00Z")
	resp, data := getJSON(t, url)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sched scheduleResponse
	require.NoError(t, json.Unmarshal(data, &sched))
	assert.Equal(t, g.ID, sched.GrantID)
	assert.Len(t, sched.Tranches, 36)

	resp, _ = getJSON(t, srv.URL+"/api/grants/"+g.ID+"/schedule?as_of=yesterday")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListGrantsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	createTestGrant(t, srv)
	createTestGrant(t, srv)

	resp, data := getJSON(t, srv.URL+"/api/grants")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list listGrantsResponse
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list.Grants, 2)
}

func TestAdvanceDefaultsToNow(t *testing.T) {
	srv := newTestServer(t)
	g := createTestGrant(t, srv)

	// No body: asOf defaults to the current time, which is past the cliff
	// for a 2023 grant.
	resp, data := postJSON(t, srv.URL+"/api/grants/"+g.ID+"/advance", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var adv service.AdvanceResult
	require.NoError(t, json.Unmarshal(data, &adv))
	assert.Greater(t, adv.Grant.VestedOptions, int64(0))
	assert.True(t, time.Now().After(g.GrantDate))
}
