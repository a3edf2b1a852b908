package coordinator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPresenceStore keeps the cluster-visible presence indices in Redis:
//
//	{prefix}:users                      SET   of online userIds
//	{prefix}:session_user               HASH  sessionId → userId
//	{prefix}:session_node               HASH  sessionId → nodeId
//	{prefix}:node:{nodeId}:sessions     SET   of the node's sessionIds
//	{prefix}:user:{userId}:sessions     SET   of the user's sessionIds
//	{prefix}:heartbeat:{nodeId}         ZSET  member=sessionId score=unix-millis
//
// No transactions beyond per-call pipelines: every operation is idempotent
// or tolerant of duplication, and crash leftovers are reaped by the owning
// node's heartbeat sweep or the next boot's PurgeNode.
type RedisPresenceStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisPresenceStore wraps an already-connected client. prefix defaults
// to "presence" when empty.
func NewRedisPresenceStore(rdb *redis.Client, prefix string) *RedisPresenceStore {
	if prefix == "" {
		prefix = "presence"
	}
	return &RedisPresenceStore{rdb: rdb, prefix: prefix}
}

func (s *RedisPresenceStore) keyUsers() string       { return s.prefix + ":users" }
func (s *RedisPresenceStore) keySessionUser() string { return s.prefix + ":session_user" }
func (s *RedisPresenceStore) keySessionNode() string { return s.prefix + ":session_node" }
func (s *RedisPresenceStore) keyNodeSessions(nodeID string) string {
	return s.prefix + ":node:" + nodeID + ":sessions"
}
func (s *RedisPresenceStore) keyUserSessions(userID string) string {
	return s.prefix + ":user:" + userID + ":sessions"
}
func (s *RedisPresenceStore) keyHeartbeat(nodeID string) string {
	return s.prefix + ":heartbeat:" + nodeID
}

func (s *RedisPresenceStore) MarkOnline(ctx context.Context, userID, sessionID, nodeID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, s.keyUsers(), userID)
	pipe.HSet(ctx, s.keySessionUser(), sessionID, userID)
	pipe.HSet(ctx, s.keySessionNode(), sessionID, nodeID)
	pipe.SAdd(ctx, s.keyNodeSessions(nodeID), sessionID)
	pipe.SAdd(ctx, s.keyUserSessions(userID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark online %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisPresenceStore) MarkOffline(ctx context.Context, sessionID string) (string, error) {
	userID, err := s.rdb.HGet(ctx, s.keySessionUser(), sessionID).Result()
	if err == redis.Nil {
		return "", nil // already gone — another path cleaned it up
	}
	if err != nil {
		return "", fmt.Errorf("mark offline %s: %w", sessionID, err)
	}
	nodeID, err := s.rdb.HGet(ctx, s.keySessionNode(), sessionID).Result()
	if err != nil && err != redis.Nil {
		return "", fmt.Errorf("mark offline %s: %w", sessionID, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, s.keySessionUser(), sessionID)
	pipe.HDel(ctx, s.keySessionNode(), sessionID)
	pipe.SRem(ctx, s.keyUserSessions(userID), sessionID)
	if nodeID != "" {
		pipe.SRem(ctx, s.keyNodeSessions(nodeID), sessionID)
		pipe.ZRem(ctx, s.keyHeartbeat(nodeID), sessionID)
	}
	remaining := pipe.SCard(ctx, s.keyUserSessions(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return userID, fmt.Errorf("mark offline %s: %w", sessionID, err)
	}

	// Last session anywhere in the cluster gone → user is offline.
	if remaining.Val() == 0 {
		if err := s.rdb.SRem(ctx, s.keyUsers(), userID).Err(); err != nil {
			return userID, fmt.Errorf("mark offline %s: %w", sessionID, err)
		}
	}
	return userID, nil
}

func (s *RedisPresenceStore) TouchHeartbeat(ctx context.Context, nodeID, sessionID string, now time.Time) error {
	err := s.rdb.ZAdd(ctx, s.keyHeartbeat(nodeID), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: sessionID,
	}).Err()
	if err != nil {
		return fmt.Errorf("touch heartbeat %s: %w", sessionID, err)
	}
	return nil
}

func (s *RedisPresenceStore) ExpiredSessions(ctx context.Context, nodeID string, cutoff time.Time) ([]string, error) {
	expired, err := s.rdb.ZRangeByScore(ctx, s.keyHeartbeat(nodeID), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("expired sessions of %s: %w", nodeID, err)
	}
	return expired, nil
}

func (s *RedisPresenceStore) OnlineUserCount(ctx context.Context) (int64, error) {
	count, err := s.rdb.SCard(ctx, s.keyUsers()).Result()
	if err != nil {
		return 0, fmt.Errorf("online user count: %w", err)
	}
	return count, nil
}

func (s *RedisPresenceStore) OnlineUsers(ctx context.Context) ([]string, error) {
	users, err := s.rdb.SMembers(ctx, s.keyUsers()).Result()
	if err != nil {
		return nil, fmt.Errorf("online users: %w", err)
	}
	return users, nil
}

func (s *RedisPresenceStore) SessionsOfNode(ctx context.Context, nodeID string) ([]string, error) {
	sessions, err := s.rdb.SMembers(ctx, s.keyNodeSessions(nodeID)).Result()
	if err != nil {
		return nil, fmt.Errorf("sessions of node %s: %w", nodeID, err)
	}
	return sessions, nil
}

// PurgeNode clears every cluster index entry a node left behind. A booting
// node runs this against its own id so a crashed previous incarnation can't
// leave phantom sessions pinned to it. Returns how many sessions were purged.
func (s *RedisPresenceStore) PurgeNode(ctx context.Context, nodeID string) (int, error) {
	sessions, err := s.SessionsOfNode(ctx, nodeID)
	if err != nil {
		return 0, err
	}
	for _, sid := range sessions {
		if _, err := s.MarkOffline(ctx, sid); err != nil {
			return 0, err
		}
	}
	if err := s.rdb.Del(ctx, s.keyHeartbeat(nodeID), s.keyNodeSessions(nodeID)).Err(); err != nil {
		return 0, fmt.Errorf("purge node %s: %w", nodeID, err)
	}
	return len(sessions), nil
}
