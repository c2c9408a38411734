package stocktake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore keeps counting sessions in Redis so a session survives
// process restarts and multiple API round trips.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore constructs the store. TTL bounds how long an abandoned
// session lingers.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(docNo string) string {
	return "stocktake:session:" + docNo
}

// Save persists the session, refreshing its TTL.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("stocktake: marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.DocNo), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("stocktake: save session: %w", err)
	}
	return nil
}

// Load fetches a session; ErrSessionNotFound when absent or expired.
func (s *SessionStore) Load(ctx context.Context, docNo string) (*Session, error) {
	payload, err := s.client.Get(ctx, sessionKey(docNo)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("stocktake: load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("stocktake: decode session: %w", err)
	}
	return &sess, nil
}

// Delete removes the session, typically after posting.
func (s *SessionStore) Delete(ctx context.Context, docNo string) error {
	return s.client.Del(ctx, sessionKey(docNo)).Err()
}
