package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	MaxSessionsPerUser = 5
	SessionTTL         = 12 * time.Hour
	LockoutTTL         = 15 * time.Minute
	LockoutThreshold   = 5
)

var ErrSessionNotFound = errors.New("session not found")

type Session struct {
	UserID    string
	Roles     []string
	CreatedAt time.Time
}

type Manager struct {
	client *redis.Client
}

func NewManager(client *redis.Client) *Manager {
	return &Manager{client: client}
}

// CreateSession registers a new session and enforces MaxSessionsPerUser
func (m *Manager) CreateSession(ctx context.Context, userID, sessionID string, roles []string) error {
	userKey := fmt.Sprintf("user_sessions:%s", userID)
	sessionKey := fmt.Sprintf("session:%s", sessionID)

	pipe := m.client.Pipeline()

	// 1. Add session to user set (score = timestamp for eviction)
	now := float64(time.Now().Unix())
	pipe.ZAdd(ctx, userKey, redis.Z{Score: now, Member: sessionID})
	pipe.Expire(ctx, userKey, SessionTTL)

	// 2. Store session details
	pipe.HSet(ctx, sessionKey,
		"user_id", userID,
		"roles", strings.Join(roles, ","),
		"created_at", now)
	pipe.Expire(ctx, sessionKey, SessionTTL)

	// 3. Keep only the most recent MaxSessionsPerUser entries.
	// To keep N, remove ranks 0 through -(N+1).
	removeCount := int64(-1 * (MaxSessionsPerUser + 1))
	pipe.ZRemRangeByRank(ctx, userKey, 0, removeCount)

	_, err := pipe.Exec(ctx)
	return err
}

// GetSession loads session details, or ErrSessionNotFound when the
// session was revoked or expired.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	sessionKey := fmt.Sprintf("session:%s", sessionID)

	fields, err := m.client.HGetAll(ctx, sessionKey).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	s := &Session{UserID: fields["user_id"]}
	if raw := fields["roles"]; raw != "" {
		s.Roles = strings.Split(raw, ",")
	}
	if raw := fields["created_at"]; raw != "" {
		if ts, err := strconv.ParseFloat(raw, 64); err == nil {
			s.CreatedAt = time.Unix(int64(ts), 0).UTC()
		}
	}
	return s, nil
}

func (m *Manager) RevokeSession(ctx context.Context, sessionID string) error {
	sessionKey := fmt.Sprintf("session:%s", sessionID)

	// Get UserID to clean up set
	userID, err := m.client.HGet(ctx, sessionKey, "user_id").Result()
	if err != nil && err != redis.Nil {
		return err
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, sessionKey)
	if userID != "" {
		userKey := fmt.Sprintf("user_sessions:%s", userID)
		pipe.ZRem(ctx, userKey, sessionID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (m *Manager) RevokeAllUserSessions(ctx context.Context, userID string) error {
	userKey := fmt.Sprintf("user_sessions:%s", userID)

	sessionIDs, err := m.client.ZRange(ctx, userKey, 0, -1).Result()
	if err != nil {
		return err
	}

	if len(sessionIDs) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	pipe.Del(ctx, userKey)

	for _, sid := range sessionIDs {
		pipe.Del(ctx, fmt.Sprintf("session:%s", sid))
	}

	_, err = pipe.Exec(ctx)
	return err
}

// CheckLockout returns true if the subject is locked out
func (m *Manager) CheckLockout(ctx context.Context, subject string) (bool, error) {
	key := fmt.Sprintf("lockout:%s", subject)
	val, err := m.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "locked", nil
}

// RecordFailedAttempt increments the failure count and locks the
// subject once the threshold is reached. Reports whether this attempt
// tripped the lock.
func (m *Manager) RecordFailedAttempt(ctx context.Context, subject string) (bool, error) {
	key := fmt.Sprintf("lockout_count:%s", subject)
	count, err := m.client.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}

	// Set expiry on first fail so the window resets
	if count == 1 {
		m.client.Expire(ctx, key, LockoutTTL)
	}

	if count >= LockoutThreshold {
		lockKey := fmt.Sprintf("lockout:%s", subject)
		m.client.Set(ctx, lockKey, "locked", LockoutTTL)
		m.client.Del(ctx, key)
		return true, nil
	}
	return false, nil
}

// ClearFailures resets the failure counter after a successful login.
func (m *Manager) ClearFailures(ctx context.Context, subject string) error {
	key := fmt.Sprintf("lockout_count:%s", subject)
	return m.client.Del(ctx, key).Err()
}
