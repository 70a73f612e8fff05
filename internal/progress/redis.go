package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrSnapshotNotFound is returned by RedisStore.Load for unknown or expired
// sessions.
var ErrSnapshotNotFound = errors.New("snapshot not found")

const (
	DefaultRedisKeyPrefix = "enrich:session:"
	DefaultSnapshotTTL    = 24 * time.Hour
	redisWriteTimeout     = 5 * time.Second
)

// RedisStore keeps the latest snapshot of each session in Redis with a TTL,
// so progress stays readable after the in-memory registry sweeps a session.
//
// Observe only records the snapshot as pending; a single writer goroutine
// started by Run writes the latest pending snapshot of each session. A newer
// snapshot replaces an unwritten older one, so the terminal snapshot of a
// session is always the one that lands.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]Snapshot
	order   []string // session IDs in first-pending order

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	URL       string
	KeyPrefix string
	TTL       time.Duration
	Logger    *slog.Logger
}

// NewRedisClient parses url and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(rdb *redis.Client, cfg RedisConfig) *RedisStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSnapshotTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &RedisStore{
		rdb:     rdb,
		prefix:  cfg.KeyPrefix,
		ttl:     cfg.TTL,
		logger:  cfg.Logger,
		pending: make(map[string]Snapshot),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Key returns the Redis key for a session.
func (s *RedisStore) Key(sessionID string) string {
	return s.prefix + sessionID
}

// Observe marks the snapshot as the next one to write for its session.
func (s *RedisStore) Observe(snap Snapshot) {
	s.mu.Lock()
	if _, ok := s.pending[snap.ID]; !ok {
		s.order = append(s.order, snap.ID)
	}
	s.pending[snap.ID] = snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run writes pending snapshots until ctx is done or Close is called, then
// flushes what is left.
func (s *RedisStore) Run(ctx context.Context) {
	for {
		select {
		case <-s.wake:
			s.flush()
		case <-ctx.Done():
			s.flush()
			return
		case <-s.done:
			s.flush()
			return
		}
	}
}

// Close stops Run.
func (s *RedisStore) Close() {
	s.stopOnce.Do(func() { close(s.done) })
}

// takePending returns and clears the pending snapshots in first-pending order.
func (s *RedisStore) takePending() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return nil
	}
	out := make([]Snapshot, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pending[id])
	}
	s.order = nil
	clear(s.pending)
	return out
}

func (s *RedisStore) flush() {
	for _, snap := range s.takePending() {
		s.write(snap)
	}
}

func (s *RedisStore) write(snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), redisWriteTimeout)
	defer cancel()
	if err := s.Save(ctx, snap); err != nil {
		s.logger.Warn("failed to store progress snapshot", "session", snap.ID, "error", err)
	}
}

// Save writes one snapshot synchronously.
func (s *RedisStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.rdb.Set(ctx, s.Key(snap.ID), data, s.ttl).Err()
}

// Load reads the latest stored snapshot of a session.
func (s *RedisStore) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	data, err := s.rdb.Get(ctx, s.Key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return snap, nil
}

// Delete removes a stored snapshot.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	return s.rdb.Del(ctx, s.Key(sessionID)).Err()
}
