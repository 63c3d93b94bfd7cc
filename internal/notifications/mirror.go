package notifications

import (
	"context"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/cache"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"

	"github.com/redis/go-redis/v9"
)

// PresenceMirror copies the in-memory online set into Redis so operators
// can inspect it. The registry stays authoritative; every mirror failure is
// logged and ignored. A nil mirror is valid and does nothing.
type PresenceMirror struct {
	rdb        *redis.Client
	sessionTTL time.Duration
}

// NewPresenceMirror returns nil when rdb is nil.
func NewPresenceMirror(rdb *redis.Client) *PresenceMirror {
	if rdb == nil {
		return nil
	}
	return &PresenceMirror{rdb: rdb, sessionTTL: cache.PresenceSessionTTL}
}

// MarkOnline records userID in the online set with a session key holding connID.
func (m *PresenceMirror) MarkOnline(ctx context.Context, userID, connID string) {
	if m == nil {
		return
	}
	pipe := m.rdb.TxPipeline()
	pipe.SAdd(ctx, cache.PresenceOnlineSetKey, userID)
	pipe.SetEx(ctx, cache.PresenceSessionKey(userID), connID, m.sessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence mirror online failed", "user_id", userID, "error", err)
	}
}

// MarkOffline removes userID from the mirror.
func (m *PresenceMirror) MarkOffline(ctx context.Context, userID string) {
	if m == nil {
		return
	}
	pipe := m.rdb.TxPipeline()
	pipe.SRem(ctx, cache.PresenceOnlineSetKey, userID)
	pipe.Del(ctx, cache.PresenceSessionKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence mirror offline failed", "user_id", userID, "error", err)
	}
}

// Members returns the mirrored online user ids.
func (m *PresenceMirror) Members(ctx context.Context) ([]string, error) {
	if m == nil {
		return nil, nil
	}
	return m.rdb.SMembers(ctx, cache.PresenceOnlineSetKey).Result()
}

// Reap drops set members whose session key has expired and returns how many
// were removed.
func (m *PresenceMirror) Reap(ctx context.Context) int {
	members, err := m.Members(ctx)
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence mirror reap failed", "error", err)
		return 0
	}

	removed := 0
	for _, userID := range members {
		exists, err := m.rdb.Exists(ctx, cache.PresenceSessionKey(userID)).Result()
		if err != nil || exists > 0 {
			continue
		}
		if err := m.rdb.SRem(ctx, cache.PresenceOnlineSetKey, userID).Err(); err == nil {
			removed++
		}
	}
	return removed
}

// Clear wipes the mirror. Called on startup, since a fresh process has no
// connections, and on shutdown.
func (m *PresenceMirror) Clear(ctx context.Context) {
	if m == nil {
		return
	}
	keys := []string{cache.PresenceOnlineSetKey}
	iter := m.rdb.Scan(ctx, 0, cache.PresenceSessionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence mirror scan failed", "error", err)
	}
	if err := m.rdb.Del(ctx, keys...).Err(); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "presence mirror clear failed", "error", err)
	}
}

// RefreshMirror keeps mirrored session keys alive for bound users until ctx
// is done.
func (r *Registry) RefreshMirror(ctx context.Context, interval time.Duration) {
	if r.mirror == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.RLock()
			bound := make(map[string]string, len(r.byUser))
			for uid, b := range r.byUser {
				bound[uid] = b.client.ID
			}
			r.mu.RUnlock()

			for uid, connID := range bound {
				r.mirror.MarkOnline(ctx, uid, connID)
			}
			r.mirror.Reap(ctx)
		}
	}
}
