package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps states under <prefix>:<account>:<subscriber> without expiry.
type RedisStore struct {
	redis  *redis.Client
	prefix string
	limit  int
}

func NewRedisStore(client *redis.Client, prefix string, limit int) *RedisStore {
	if client == nil {
		panic("state: redis client cannot be nil")
	}

	return &RedisStore{
		redis:  client,
		prefix: prefix,
		limit:  limit,
	}
}

func (s *RedisStore) Load(ctx context.Context, accountID, subscriberID string) (*Conversation, error) {
	data, err := s.redis.Get(ctx, s.key(accountID, subscriberID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: failed to load conversation: %w", err)
	}

	conv, err := Decode(data, s.limit)
	if err != nil {
		return nil, fmt.Errorf("state: failed to decode conversation: %w", err)
	}

	return conv, nil
}

func (s *RedisStore) Save(ctx context.Context, accountID, subscriberID string, conv *Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("state: failed to marshal conversation: %w", err)
	}

	if err = s.redis.Set(ctx, s.key(accountID, subscriberID), data, 0).Err(); err != nil {
		return fmt.Errorf("state: failed to persist conversation: %w", err)
	}

	return nil
}

func (s *RedisStore) Shutdown() error {
	return s.redis.Close()
}

func (s *RedisStore) key(accountID, subscriberID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, accountID, subscriberID)
}
