package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func (e *Engine) rosterKey(groupID string) string {
	return fmt.Sprintf("%sgroup:%s:roster", e.cachePrefix, groupID)
}

func (e *Engine) memberCountKey(departmentID string) string {
	return fmt.Sprintf("%sdept:%s:members", e.cachePrefix, departmentID)
}

// cachedRoster returns a cached roster, or nil on a miss or when redis is off.
func (e *Engine) cachedRoster(ctx context.Context, groupID string) *Roster {
	if e.redis == nil {
		return nil
	}
	raw, err := e.redis.Get(ctx, e.rosterKey(groupID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			e.log.Warn("roster cache read failed", zap.String("group_id", groupID), zap.Error(err))
		}
		return nil
	}
	var r Roster
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil
	}
	return &r
}

func (e *Engine) storeRoster(ctx context.Context, r *Roster) {
	if e.redis == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := e.redis.Set(ctx, e.rosterKey(r.Group.ID), raw, e.cacheTTL).Err(); err != nil {
		e.log.Warn("roster cache write failed", zap.String("group_id", r.Group.ID), zap.Error(err))
	}
}

// cachedMemberCount returns the cached live member count of a department.
func (e *Engine) cachedMemberCount(ctx context.Context, departmentID string) (int64, bool) {
	if e.redis == nil {
		return 0, false
	}
	n, err := e.redis.Get(ctx, e.memberCountKey(departmentID)).Int64()
	if err != nil {
		return 0, false
	}
	return n, true
}

func (e *Engine) storeMemberCount(ctx context.Context, departmentID string, n int64) {
	if e.redis == nil {
		return
	}
	if err := e.redis.Set(ctx, e.memberCountKey(departmentID), n, e.cacheTTL).Err(); err != nil {
		e.log.Warn("member count cache write failed", zap.String("department_id", departmentID), zap.Error(err))
	}
}

// invalidate drops the cached roster of every given group and the cached
// member count of every given department.
func (e *Engine) invalidate(ctx context.Context, groupIDs []string, departmentIDs []string) {
	if e.redis == nil {
		return
	}
	keys := make([]string, 0, len(groupIDs)+len(departmentIDs))
	for _, id := range groupIDs {
		if id != "" {
			keys = append(keys, e.rosterKey(id))
		}
	}
	for _, id := range departmentIDs {
		if id != "" {
			keys = append(keys, e.memberCountKey(id))
		}
	}
	if len(keys) == 0 {
		return
	}
	if err := e.redis.Del(ctx, keys...).Err(); err != nil {
		e.log.Warn("cache invalidation failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// ClearAllCache clears every cache entry under the engine's prefix.
func (e *Engine) ClearAllCache(ctx context.Context) error {
	if e.redis == nil {
		return nil
	}

	var keys []string
	iter := e.redis.Scan(ctx, 0, e.cachePrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return e.redis.Del(ctx, keys...).Err()
	}
	return nil
}
