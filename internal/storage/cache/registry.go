// Package cache adds read-aside Redis caching in front of a dispatch.Registry.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-pusher-service/pkg/dispatch"
	"github.com/tinywideclouds/go-pusher-service/pkg/gateway"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns ErrMiss (or any error) when nothing usable is cached.
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedRegistry caches Lookup and TokensForAccount. Every write invalidates
// the keys it could have changed before returning.
type CachedRegistry struct {
	dispatch.Registry
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedRegistry(real dispatch.Registry, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedRegistry {
	return &CachedRegistry{
		Registry: real,
		cache:    cache,
		ttl:      ttl,
		logger:   logger.With("component", "registry-cache"),
	}
}

// --- Read path ---

func (c *CachedRegistry) Lookup(ctx context.Context, token string) (*dispatch.Device, error) {
	key := tokenKey(token)
	var cached dispatch.Device
	if err := c.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	d, err := c.Registry.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, d)
	return d, nil
}

func (c *CachedRegistry) TokensForAccount(ctx context.Context, account string) ([]dispatch.Device, error) {
	key := accountKey(account)
	var cached []dispatch.Device
	if err := c.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	devices, err := c.Registry.TokensForAccount(ctx, account)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, devices)
	return devices, nil
}

// --- Write paths ---

func (c *CachedRegistry) Bind(ctx context.Context, account string, device dispatch.Device) error {
	// A re-bind can move the token away from its previous account.
	keys := []string{tokenKey(device.Token), accountKey(account)}
	if prev, err := c.Registry.Lookup(ctx, device.Token); err == nil && prev.Account != account {
		keys = append(keys, accountKey(prev.Account))
	}
	if err := c.Registry.Bind(ctx, account, device); err != nil {
		return err
	}
	return c.invalidate(ctx, keys...)
}

func (c *CachedRegistry) Unbind(ctx context.Context, account, token string) error {
	if err := c.Registry.Unbind(ctx, account, token); err != nil {
		return err
	}
	return c.invalidate(ctx, tokenKey(token), accountKey(account))
}

func (c *CachedRegistry) UnbindAll(ctx context.Context, account string) error {
	devices, err := c.Registry.TokensForAccount(ctx, account)
	if err != nil {
		return err
	}
	if err := c.Registry.UnbindAll(ctx, account); err != nil {
		return err
	}
	keys := []string{accountKey(account)}
	for _, d := range devices {
		keys = append(keys, tokenKey(d.Token))
	}
	return c.invalidate(ctx, keys...)
}

func (c *CachedRegistry) AddTags(ctx context.Context, pairs []gateway.TagTokenPair) error {
	if err := c.Registry.AddTags(ctx, pairs); err != nil {
		return err
	}
	return c.invalidate(ctx, c.tagKeys(ctx, pairs)...)
}

func (c *CachedRegistry) RemoveTags(ctx context.Context, pairs []gateway.TagTokenPair) error {
	if err := c.Registry.RemoveTags(ctx, pairs); err != nil {
		return err
	}
	return c.invalidate(ctx, c.tagKeys(ctx, pairs)...)
}

// --- Helpers ---

// tagKeys resolves the owning account through the backing registry so
// cached account listings never show stale tags.
func (c *CachedRegistry) tagKeys(ctx context.Context, pairs []gateway.TagTokenPair) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, p := range pairs {
		if _, ok := seen[tokenKey(p.Token)]; ok {
			continue
		}
		add(tokenKey(p.Token))
		d, err := c.Registry.Lookup(ctx, p.Token)
		if errors.Is(err, dispatch.ErrDeviceNotFound) {
			continue
		}
		if err != nil {
			c.logger.Warn("Could not resolve account for cache invalidation", "token", p.Token, "err", err)
			continue
		}
		add(accountKey(d.Account))
	}
	return keys
}

func (c *CachedRegistry) fill(ctx context.Context, key string, value any) {
	if err := c.cache.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Debug("Cache fill failed", "key", key, "err", err)
	}
}

func (c *CachedRegistry) invalidate(ctx context.Context, keys ...string) error {
	return c.cache.Del(ctx, keys...)
}

func tokenKey(token string) string {
	return "pusher:token:" + token
}

func accountKey(account string) string {
	return "pusher:account:" + account
}
