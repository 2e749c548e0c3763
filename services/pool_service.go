package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"vibin_video/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PoolService manages matching pools ("servers")
type PoolService struct {
	Store  PoolStore
	Clock  Clock
	logger *zap.Logger
}

func NewPoolService(store PoolStore, clock Clock, logger *zap.Logger) *PoolService {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PoolService{Store: store, Clock: clock, logger: logger}
}

// EnsureDefaultPool creates the public pool if absent, or reactivates it.
func (ps *PoolService) EnsureDefaultPool(ctx context.Context, ownerID string) (models.Pool, error) {
	now := ps.Clock.Now()
	pool, err := ps.Store.EnsurePool(ctx, models.Pool{
		ID:        uuid.NewString(),
		Key:       models.DefaultPoolKey,
		Name:      models.DefaultPoolName,
		OwnerID:   ownerID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return models.Pool{}, unavailable("ensure default server", err)
	}
	return pool, nil
}

// CreatePool persists a pool under the first free key derived from requestedKey or name.
func (ps *PoolService) CreatePool(ctx context.Context, ownerID, name, requestedKey string) (models.Pool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Pool{}, models.ErrPoolNameRequired
	}

	source := requestedKey
	if source == "" {
		source = name
	}
	base := NormalizeKey(source)
	if base == "" {
		return models.Pool{}, models.ErrInvalidPoolKey
	}

	now := ps.Clock.Now()
	pool := models.Pool{
		ID:        uuid.NewString(),
		Name:      name,
		OwnerID:   ownerID,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for attempt := 1; attempt <= models.MaxKeyAttempts; attempt++ {
		pool.Key = base
		if attempt > 1 {
			pool.Key = fmt.Sprintf("%s-%d", base, attempt)
		}

		err := ps.Store.CreatePool(ctx, pool)
		if err == nil {
			ps.logger.Info("✅ server created", zap.String("server", pool.ID), zap.String("key", pool.Key))
			return pool, nil
		}
		if !errors.Is(err, models.ErrKeyTaken) {
			return models.Pool{}, unavailable("create server", err)
		}
	}

	ps.logger.Warn("❌ no free server key", zap.String("base", base))
	return models.Pool{}, models.ErrKeyTaken
}

// GetPool returns an active pool
func (ps *PoolService) GetPool(ctx context.Context, poolID string) (models.Pool, error) {
	pool, err := ps.Store.GetPool(ctx, poolID)
	if err != nil {
		return models.Pool{}, unavailable("get server", err)
	}
	if !pool.Active {
		return models.Pool{}, models.ErrPoolNotFound
	}
	return pool, nil
}

// ListPools returns active pools with live queue and session counts, most recently updated first.
func (ps *PoolService) ListPools(ctx context.Context) ([]models.PoolSummary, error) {
	pools, err := ps.Store.ListActivePools(ctx)
	if err != nil {
		return nil, unavailable("list servers", err)
	}
	waiting, err := ps.Store.CountWaiting(ctx)
	if err != nil {
		return nil, unavailable("count queue", err)
	}
	active, err := ps.Store.CountActiveSessions(ctx)
	if err != nil {
		return nil, unavailable("count sessions", err)
	}

	sort.Slice(pools, func(i, j int) bool {
		if !pools[i].UpdatedAt.Equal(pools[j].UpdatedAt) {
			return pools[i].UpdatedAt.After(pools[j].UpdatedAt)
		}
		return pools[i].Key < pools[j].Key
	})

	summaries := make([]models.PoolSummary, 0, len(pools))
	for _, pool := range pools {
		summaries = append(summaries, models.PoolSummary{
			Pool:               pool,
			WaitingCount:       waiting[pool.ID],
			ActiveSessionCount: active[pool.ID],
		})
	}
	return summaries, nil
}

// DeactivatePool hides a pool from listings and matching. Pools are never deleted.
func (ps *PoolService) DeactivatePool(ctx context.Context, ownerID, poolID string) (models.Pool, error) {
	pool, err := ps.GetPool(ctx, poolID)
	if err != nil {
		return models.Pool{}, err
	}
	if pool.Key == models.DefaultPoolKey || pool.OwnerID != ownerID {
		return models.Pool{}, models.ErrNotPoolOwner
	}

	pool.Active = false
	pool.UpdatedAt = ps.Clock.Now()
	if err := ps.Store.SavePool(ctx, pool); err != nil {
		return models.Pool{}, unavailable("save server", err)
	}
	ps.logger.Info("server deactivated", zap.String("server", pool.ID))
	return pool, nil
}

// NormalizeKey lowercases input and reduces it to a hyphenated token of [a-z0-9].
func NormalizeKey(input string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(input)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-")
}
