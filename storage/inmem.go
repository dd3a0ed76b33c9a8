package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// InMem is a RequestStore for single process services. Records expire on
// their own, so flows the user never finishes don't pile up.
type InMem struct {
	// mu makes GetAndDelete atomic, the underlying cache only offers
	// separate get and delete steps
	mu    sync.Mutex
	cache *cache.Cache
}

// ensure that InMem implements the RequestStore interface.
var _ RequestStore = (*InMem)(nil)

// NewInMem creates an in-memory RequestStore.
func NewInMem() *InMem {
	return &InMem{
		cache: cache.New(cache.NoExpiration, 5*time.Minute),
	}
}

// Put implements the RequestStore.Put() interface function.
func (s *InMem) Put(ctx context.Context, rec PendingAuthorization) error {
	const op = "storage.(InMem).Put"
	if rec.State == "" {
		return fmt.Errorf("%s: record has no state", op)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%s: record is already expired", op)
	}
	s.cache.Set(rec.State, rec, ttl)
	return nil
}

// GetAndDelete implements the RequestStore.GetAndDelete() interface
// function.
func (s *InMem) GetAndDelete(ctx context.Context, state string) (PendingAuthorization, error) {
	const op = "storage.(InMem).GetAndDelete"
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cache.Get(state)
	if !ok {
		return PendingAuthorization{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	s.cache.Delete(state)
	rec, ok := v.(PendingAuthorization)
	if !ok {
		return PendingAuthorization{}, fmt.Errorf("%s: unexpected record type %T", op, v)
	}
	return rec, nil
}
