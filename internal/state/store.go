package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// SessionRecord is the terminal summary of one negotiation, kept so the
// control plane can answer status queries after the room is gone.
type SessionRecord struct {
	Room          string    `json:"room"`
	Outcome       Outcome   `json:"outcome"`
	Rounds        int       `json:"rounds"`
	Turns         int       `json:"turns"`
	AcceptedOffer *Offer    `json:"accepted_offer,omitempty"`
	AcceptedBy    Side      `json:"accepted_by,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
}

// SessionStore persists negotiation session records.
type SessionStore interface {
	// Get retrieves a session record by room name.
	Get(ctx context.Context, room string) (*SessionRecord, error)

	// Save stores a session record.
	Save(ctx context.Context, record *SessionRecord) error

	// Delete removes a session record.
	Delete(ctx context.Context, room string) error

	// List returns all stored session records.
	List(ctx context.Context) ([]*SessionRecord, error)

	// Close closes the store.
	Close() error
}

// ============================================================================
// In-Memory Session Store
// ============================================================================

// InMemorySessionStore implements SessionStore with a map. It is the
// default for single-node deployments and tests.
type InMemorySessionStore struct {
	records map[string]*SessionRecord
	mu      sync.RWMutex
}

// NewInMemorySessionStore creates an empty in-memory store.
func NewInMemorySessionStore() *InMemorySessionStore {
	return &InMemorySessionStore{records: make(map[string]*SessionRecord)}
}

// Get retrieves a session record.
func (s *InMemorySessionStore) Get(ctx context.Context, room string) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[room]
	if !ok {
		return nil, fmt.Errorf("session record not found: %s", room)
	}
	out := *rec
	return &out, nil
}

// Save stores a copy of the record.
func (s *InMemorySessionStore) Save(ctx context.Context, record *SessionRecord) error {
	if record == nil || record.Room == "" {
		return fmt.Errorf("session record requires a room name")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := *record
	s.records[record.Room] = &rec
	return nil
}

// Delete removes a record.
func (s *InMemorySessionStore) Delete(ctx context.Context, room string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, room)
	return nil
}

// List returns copies of all records.
func (s *InMemorySessionStore) List(ctx context.Context) ([]*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*SessionRecord, 0, len(s.records))
	for _, rec := range s.records {
		r := *rec
		out = append(out, &r)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemorySessionStore) Close() error { return nil }

// ============================================================================
// Redis Session Store
// ============================================================================

// RedisSessionStore implements SessionStore on Redis so records survive
// process restarts and can be shared across control-plane replicas.
type RedisSessionStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

// RedisSessionStoreConfig configures the Redis-backed store.
type RedisSessionStoreConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// DefaultRedisSessionStoreConfig returns default Redis store configuration.
func DefaultRedisSessionStoreConfig() *RedisSessionStoreConfig {
	return &RedisSessionStoreConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "harvest:session:",
		TTL:       7 * 24 * time.Hour,
	}
}

// NewRedisSessionStore creates a Redis-backed session store and verifies
// connectivity with a ping.
func NewRedisSessionStore(cfg *RedisSessionStoreConfig, logger *zap.Logger) (*RedisSessionStore, error) {
	if cfg == nil {
		cfg = DefaultRedisSessionStoreConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "harvest:session:"
	}

	return &RedisSessionStore{
		client:    client,
		keyPrefix: prefix,
		ttl:       cfg.TTL,
		logger:    logger,
	}, nil
}

func (s *RedisSessionStore) key(room string) string {
	return s.keyPrefix + room
}

// Get retrieves a session record.
func (s *RedisSessionStore) Get(ctx context.Context, room string) (*SessionRecord, error) {
	data, err := s.client.Get(ctx, s.key(room)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("session record not found: %s", room)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session record: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return &rec, nil
}

// Save stores a session record with the configured TTL.
func (s *RedisSessionStore) Save(ctx context.Context, record *SessionRecord) error {
	if record == nil || record.Room == "" {
		return fmt.Errorf("session record requires a room name")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(record.Room), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session record: %w", err)
	}
	return nil
}

// Delete removes a session record.
func (s *RedisSessionStore) Delete(ctx context.Context, room string) error {
	if err := s.client.Del(ctx, s.key(room)).Err(); err != nil {
		return fmt.Errorf("failed to delete session record: %w", err)
	}
	return nil
}

// List scans all session keys and returns the stored records.
func (s *RedisSessionStore) List(ctx context.Context) ([]*SessionRecord, error) {
	var out []*SessionRecord
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			s.logger.Warn("skipping unreadable session record",
				zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		var rec SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.Warn("skipping malformed session record",
				zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		out = append(out, &rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan session records: %w", err)
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
