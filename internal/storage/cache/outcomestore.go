// Package cache adds a Redis read-aside layer in front of an OutcomeStore.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-courier-bridge/pkg/courier"
	"github.com/tinywideclouds/go-courier-bridge/pkg/dispatch"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns an error if not found.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// CachedOutcomeStore decorates an OutcomeStore with read-aside caching of
// single outcomes. Owner listings always go to the real store.
type CachedOutcomeStore struct {
	realStore dispatch.OutcomeStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedOutcomeStore(realStore dispatch.OutcomeStore, cache CacheClient, ttl time.Duration) *CachedOutcomeStore {
	return &CachedOutcomeStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// cachedOutcome is the JSON form kept in Redis.
type cachedOutcome struct {
	SessionID string           `json:"session_id"`
	Owner     string           `json:"owner"`
	Envelope  courier.Envelope `json:"envelope"`
	CreatedAt time.Time        `json:"created_at"`
}

func toCached(r *dispatch.OutcomeRecord) cachedOutcome {
	return cachedOutcome{
		SessionID: r.SessionID,
		Owner:     r.Owner.String(),
		Envelope:  r.Envelope,
		CreatedAt: r.CreatedAt,
	}
}

func (c cachedOutcome) toRecord() (*dispatch.OutcomeRecord, error) {
	owner, err := urn.Parse(c.Owner)
	if err != nil {
		return nil, err
	}
	return &dispatch.OutcomeRecord{
		SessionID: c.SessionID,
		Owner:     owner,
		Envelope:  c.Envelope,
		CreatedAt: c.CreatedAt,
	}, nil
}

func (s *CachedOutcomeStore) Fetch(ctx context.Context, sessionID string) (*dispatch.OutcomeRecord, error) {
	key := s.cacheKey(sessionID)

	var cached cachedOutcome
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		if record, err := cached.toRecord(); err == nil {
			return record, nil
		}
	}

	record, err := s.realStore.Fetch(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a Redis failure still serves from the DB.
	_ = s.cache.Set(ctx, key, toCached(record), s.ttl)
	return record, nil
}

// Save writes through and then invalidates, so the next Fetch reloads.
func (s *CachedOutcomeStore) Save(ctx context.Context, record dispatch.OutcomeRecord) error {
	if err := s.realStore.Save(ctx, record); err != nil {
		return err
	}
	return s.cache.Del(ctx, s.cacheKey(record.SessionID))
}

func (s *CachedOutcomeStore) ListByOwner(ctx context.Context, owner urn.URN, limit int) ([]dispatch.OutcomeRecord, error) {
	return s.realStore.ListByOwner(ctx, owner, limit)
}

func (s *CachedOutcomeStore) cacheKey(sessionID string) string {
	return fmt.Sprintf("courier:outcome:%s", sessionID)
}
