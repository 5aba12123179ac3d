// Package cache adds a Redis read-aside layer in front of the token
// registry. Device lookups happen on every dispatch; registrations are rare.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/hammerstack/go-auction-notifications/pkg/notify"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedRegistry is a decorator that adds read-aside caching to any
// notify.TokenRegistry. Every write invalidates the user's cached device
// set: an unregistered device must stop receiving pushes immediately, not
// when the TTL runs out.
type CachedRegistry struct {
	real  notify.TokenRegistry
	cache CacheClient
	ttl   time.Duration
}

func NewCachedRegistry(real notify.TokenRegistry, cache CacheClient, ttl time.Duration) *CachedRegistry {
	return &CachedRegistry{
		real:  real,
		cache: cache,
		ttl:   ttl,
	}
}

// --- Read path (read-aside) ---

func (s *CachedRegistry) Devices(ctx context.Context, userID string) (*notify.DeviceSet, error) {
	key := s.cacheKey(userID)

	var cached notify.DeviceSet
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	fresh, err := s.real.Devices(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Populate is fire-and-forget: caching is an optimization, not a
	// transaction. If Redis is down we just keep serving from Firestore.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)

	return fresh, nil
}

// --- Write paths (invalidate-on-write) ---

func (s *CachedRegistry) RegisterFCM(ctx context.Context, userID, token string) error {
	if err := s.real.RegisterFCM(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) UnregisterFCM(ctx context.Context, userID, token string) error {
	if err := s.real.UnregisterFCM(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) PruneFCM(ctx context.Context, userID string, tokens []string) error {
	if err := s.real.PruneFCM(ctx, userID, tokens); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) RegisterAPNS(ctx context.Context, userID, token string) error {
	if err := s.real.RegisterAPNS(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) UnregisterAPNS(ctx context.Context, userID, token string) error {
	if err := s.real.UnregisterAPNS(ctx, userID, token); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) PruneAPNS(ctx context.Context, userID string, tokens []string) error {
	if err := s.real.PruneAPNS(ctx, userID, tokens); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) RegisterWeb(ctx context.Context, userID string, sub notify.WebSubscription) error {
	if err := s.real.RegisterWeb(ctx, userID, sub); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) UnregisterWeb(ctx context.Context, userID, endpoint string) error {
	if err := s.real.UnregisterWeb(ctx, userID, endpoint); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

func (s *CachedRegistry) PruneWeb(ctx context.Context, userID string, endpoints []string) error {
	if err := s.real.PruneWeb(ctx, userID, endpoints); err != nil {
		return err
	}
	return s.invalidate(ctx, userID)
}

// --- Helpers ---

func (s *CachedRegistry) invalidate(ctx context.Context, userID string) error {
	return s.cache.Del(ctx, s.cacheKey(userID))
}

func (s *CachedRegistry) cacheKey(userID string) string {
	return fmt.Sprintf("notify:devices:%s", userID)
}
