package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store persists a buyer's entries between requests.
type Store interface {
	Load(ctx context.Context, buyerID uuid.UUID) ([]Entry, error)
	Save(ctx context.Context, buyerID uuid.UUID, entries []Entry) error
}

type redisKV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	CartKey(buyerID string) string
}

// RedisStore keeps each cart as one JSON document with a sliding TTL.
type RedisStore struct {
	client redisKV
	ttl    time.Duration
}

func NewRedisStore(client redisKV, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required for cart store")
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

type storedCart struct {
	Entries   []Entry   `json:"entries"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *RedisStore) Load(ctx context.Context, buyerID uuid.UUID) ([]Entry, error) {
	raw, err := s.client.Get(ctx, s.client.CartKey(buyerID.String()))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}
	var doc storedCart
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return doc.Entries, nil
}

// Save writes the entries. An empty cart deletes the key.
func (s *RedisStore) Save(ctx context.Context, buyerID uuid.UUID, entries []Entry) error {
	key := s.client.CartKey(buyerID.String())
	if len(entries) == 0 {
		if err := s.client.Del(ctx, key); err != nil {
			return fmt.Errorf("delete cart: %w", err)
		}
		return nil
	}
	payload, err := json.Marshal(storedCart{Entries: entries, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	if err := s.client.Set(ctx, key, string(payload), s.ttl); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
