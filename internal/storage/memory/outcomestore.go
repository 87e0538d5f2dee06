// Package memory is an in-process OutcomeStore for local runs without a
// Google Cloud project.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

type OutcomeStore struct {
	mu      sync.RWMutex
	records map[string]dispatch.OutcomeRecord
}

func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{records: make(map[string]dispatch.OutcomeRecord)}
}

func (s *OutcomeStore) Save(_ context.Context, record dispatch.OutcomeRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.SessionID] = record
	return nil
}

func (s *OutcomeStore) Fetch(_ context.Context, sessionID string) (*dispatch.OutcomeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[sessionID]
	if !ok {
		return nil, dispatch.ErrOutcomeNotFound
	}
	return &record, nil
}

func (s *OutcomeStore) ListByOwner(_ context.Context, owner urn.URN, limit int) ([]dispatch.OutcomeRecord, error) {
	s.mu.RLock()
	out := make([]dispatch.OutcomeRecord, 0)
	for _, r := range s.records {
		if r.Owner.String() == owner.String() {
			out = append(out, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
