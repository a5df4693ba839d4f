// File: services/idempotency/idempotency.go
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"slotkeeper/apperrors"
	"slotkeeper/utils"

	"go.uber.org/zap"
)

const (
	DefaultTTL = 15 * time.Minute

	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

// Record is what is stored under an idempotency key.
type Record struct {
	Status      string          `json:"status"`
	Fingerprint string          `json:"fingerprint"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Cache deduplicates retried create requests. A key is reserved while the
// request runs and holds the serialized result once it completes; both states
// expire after the TTL.
type Cache struct {
	store  utils.Cache
	ttl    time.Duration
	logger *zap.Logger
}

func New(store utils.Cache, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, ttl: ttl, logger: logger}
}

func cacheKey(scope, key string) string {
	return "idempotency:" + scope + ":" + key
}

// Fingerprint hashes the JSON encoding of payload.
func Fingerprint(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Lookup returns the stored result for key. A key reused with another payload,
// or one whose first request is still running, yields a Conflict.
func (c *Cache) Lookup(ctx context.Context, scope, key, fingerprint string) (json.RawMessage, bool, error) {
	var rec Record
	found, err := c.store.Get(ctx, cacheKey(scope, key), &rec)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	if rec.Fingerprint != fingerprint {
		return nil, false, apperrors.Conflict(fmt.Sprintf("idempotency key %q was already used with a different request", key))
	}
	if rec.Status != StatusCompleted {
		return nil, false, apperrors.Conflict(fmt.Sprintf("a request with idempotency key %q is still in progress", key))
	}
	return rec.Result, true, nil
}

// Reserve claims key for a new request and reports whether the claim succeeded.
func (c *Cache) Reserve(ctx context.Context, scope, key, fingerprint string) (bool, error) {
	rec := Record{Status: StatusProcessing, Fingerprint: fingerprint, CreatedAt: time.Now().UTC()}
	ok, err := c.store.SetNX(ctx, cacheKey(scope, key), rec, c.ttl)
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return ok, nil
}

// Complete stores result under key for the rest of the TTL.
func (c *Cache) Complete(ctx context.Context, scope, key, fingerprint string, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("idempotency encode result: %w", err)
	}
	rec := Record{Status: StatusCompleted, Fingerprint: fingerprint, Result: b, CreatedAt: time.Now().UTC()}
	if err := c.store.Set(ctx, cacheKey(scope, key), rec, c.ttl); err != nil {
		return fmt.Errorf("idempotency complete: %w", err)
	}
	return nil
}

// Release drops a reservation after a failed request so the client may retry.
func (c *Cache) Release(ctx context.Context, scope, key string) {
	if err := c.store.Del(ctx, cacheKey(scope, key)); err != nil {
		c.logger.Warn("Failed to release idempotency key", zap.String("scope", scope), zap.String("key", key), zap.Error(err))
	}
}

// Run executes fn at most once per (scope, key, payload) within the TTL. The
// boolean result reports whether the value was replayed from the cache. An
// empty key or a nil cache runs fn directly.
func Run[T any](ctx context.Context, c *Cache, scope, key string, payload any, fn func(context.Context) (T, error)) (T, bool, error) {
	var zero T
	if c == nil || key == "" {
		v, err := fn(ctx)
		return v, false, err
	}

	fp, err := Fingerprint(payload)
	if err != nil {
		return zero, false, err
	}

	replay := func(raw json.RawMessage) (T, bool, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return zero, false, fmt.Errorf("idempotency decode result: %w", err)
		}
		return v, true, nil
	}

	if raw, ok, err := c.Lookup(ctx, scope, key, fp); err != nil {
		return zero, false, err
	} else if ok {
		return replay(raw)
	}

	reserved, err := c.Reserve(ctx, scope, key, fp)
	if err != nil {
		return zero, false, err
	}
	if !reserved {
		// Someone else claimed the key between lookup and reserve.
		if raw, ok, err := c.Lookup(ctx, scope, key, fp); err != nil {
			return zero, false, err
		} else if ok {
			return replay(raw)
		}
		return zero, false, apperrors.Conflict(fmt.Sprintf("a request with idempotency key %q is still in progress", key))
	}

	v, err := fn(ctx)
	if err != nil {
		c.Release(ctx, scope, key)
		return zero, false, err
	}
	if err := c.Complete(ctx, scope, key, fp, v); err != nil {
		c.logger.Warn("Failed to store idempotent result", zap.String("scope", scope), zap.String("key", key), zap.Error(err))
	}
	return v, false, nil
}
