// Package memory provides in-process implementations of the storage and
// messaging ports. They back dev mode and the service test suites; server
// mode uses Postgres and Redis instead.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/equitydesk/vestd/internal/domain"
)

// GrantStore is a mutex-guarded in-memory domain.GrantStore.
type GrantStore struct {
	mu      sync.RWMutex
	grants  map[string]domain.Grant
	events  map[string][]domain.VestingEvent
	records map[string][]domain.ExerciseRecord
}

var _ domain.GrantStore = (*GrantStore)(nil)

// NewGrantStore creates an empty in-memory grant store.
func NewGrantStore() *GrantStore {
	return &GrantStore{
		grants:  make(map[string]domain.Grant),
		events:  make(map[string][]domain.VestingEvent),
		records: make(map[string][]domain.ExerciseRecord),
	}
}

// Create stores a new grant. A duplicate ID returns ErrAlreadyExists.
func (s *GrantStore) Create(ctx context.Context, grant domain.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[grant.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.grants[grant.ID] = grant
	return nil
}

// Get returns the grant with the given ID or ErrNotFound.
func (s *GrantStore) Get(ctx context.Context, id string) (domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.grants[id]
	if !ok {
		return domain.Grant{}, domain.ErrNotFound
	}
	return g, nil
}

// List returns grants ordered by creation time descending.
func (s *GrantStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Grant, 0, len(s.grants))
	for _, g := range s.grants {
		if opts.Since != nil && g.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && g.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

// Save commits the grant and its new events and records atomically, rejecting
// stale versions.
func (s *GrantStore) Save(ctx context.Context, grant domain.Grant, newEvents []domain.VestingEvent, newRecords []domain.ExerciseRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.grants[grant.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Version != grant.Version {
		return domain.ErrVersionConflict
	}

	grant.Version++
	s.grants[grant.ID] = grant
	s.events[grant.ID] = append(s.events[grant.ID], newEvents...)
	s.records[grant.ID] = append(s.records[grant.ID], newRecords...)
	return nil
}

// ListVestingEvents returns the grant's events in append order.
func (s *GrantStore) ListVestingEvents(ctx context.Context, grantID string) ([]domain.VestingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.events[grantID]
	out := make([]domain.VestingEvent, len(events))
	copy(out, events)
	return out, nil
}

// ListExerciseRecords returns the grant's exercise records in append order.
func (s *GrantStore) ListExerciseRecords(ctx context.Context, grantID string) ([]domain.ExerciseRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records[grantID]
	out := make([]domain.ExerciseRecord, len(records))
	copy(out, records)
	return out, nil
}

// ListClosedBefore returns terminal grants last updated strictly before the
// cutoff.
func (s *GrantStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Grant
	for _, g := range s.grants {
		if g.Status.Terminal() && g.UpdatedAt.Before(before) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	return out, nil
}
