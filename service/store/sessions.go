package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const sessionTTL = 2 * time.Hour

// Sessions stores login sessions in Redis under paired keys: token -> user id
// and user id -> token, both expiring together.
type Sessions struct {
	rdb *redis.Client
}

func NewSessions(rdb *redis.Client) *Sessions {
	return &Sessions{rdb: rdb}
}

func tokenKey(token string) string { return "rework:sessions:" + token }

func userKey(userID int32) string { return fmt.Sprintf("rework:sessions:ids:%d", userID) }

// Create returns the user's current token, minting a fresh one only when none
// is live. The reverse key keeps one session per user.
func (s *Sessions) Create(ctx context.Context, userID int32) (string, error) {
	existing, err := s.rdb.Get(ctx, userKey(userID)).Result()
	if err == nil {
		return existing, nil
	}
	if err != redis.Nil {
		return "", err
	}

	token := uuid.NewString()
	if err := s.rdb.Set(ctx, userKey(userID), token, sessionTTL).Err(); err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, tokenKey(token), userID, sessionTTL).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// UserID resolves a token. found=false means the token is unknown or expired.
func (s *Sessions) UserID(ctx context.Context, token string) (int32, bool, error) {
	raw, err := s.rdb.Get(ctx, tokenKey(token)).Int()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return int32(raw), true, nil
}

// Delete tears down both directions of a session. Unknown tokens are a no-op.
func (s *Sessions) Delete(ctx context.Context, token string) error {
	raw, err := s.rdb.Get(ctx, tokenKey(token)).Int()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, userKey(int32(raw))).Err(); err != nil {
		return err
	}
	return s.rdb.Del(ctx, tokenKey(token)).Err()
}
