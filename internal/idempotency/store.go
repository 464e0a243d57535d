package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key body mismatch")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const redisKeyPrefix = "idempotency"

// Record is a finalized response replayable for a key.
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Store persists idempotency reservations in Postgres and caches finalized
// responses in Redis. Postgres is authoritative; Redis is a fast path.
type Store struct {
	redis redis.Cmdable
	db    *pgxpool.Pool
	ttl   time.Duration
}

func NewStore(redis redis.Cmdable, db *pgxpool.Pool, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl}
}

type cacheEnvelope struct {
	Key         string `json:"key"`
	Hash        string `json:"hash"`
	Status      int    `json:"status"`
	Body        []byte `json:"body"`
	ContentType string `json:"content_type"`
}

// Lookup returns the finalized record for a key, ErrInProgress for a live
// reservation, or ErrNotFound.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if s.redis != nil {
		val, err := s.redis.Get(ctx, redisKey(key)).Result()
		if err == nil {
			var env cacheEnvelope
			if json.Unmarshal([]byte(val), &env) == nil {
				if env.Hash != requestHash {
					return nil, ErrHashMismatch
				}
				return &Record{
					Key:         env.Key,
					RequestHash: env.Hash,
					Status:      env.Status,
					Body:        env.Body,
					ContentType: env.ContentType,
					ServedBy:    "redis",
				}, nil
			}
		} else if err != redis.Nil {
			zap.L().Warn("redis idempotency lookup failed", zap.Error(err))
		}
	}

	var (
		rec      Record
		hash     string
		status   *int
		body     []byte
		ctype    *string
		finished bool
	)
	row := s.db.QueryRow(ctx, `
		SELECT request_hash, response_status, response_body, content_type, finalized
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > NOW()
	`, key)
	if err := row.Scan(&hash, &status, &body, &ctype, &finished); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if hash != requestHash {
		return nil, ErrHashMismatch
	}
	if !finished {
		return nil, ErrInProgress
	}

	rec = Record{Key: key, RequestHash: hash, Status: *status, Body: body, ServedBy: "postgres"}
	if ctype != nil {
		rec.ContentType = *ctype
	}
	return &rec, nil
}

// Reserve claims a key for the in-flight request. It reports false when a
// concurrent request holds the reservation.
func (s *Store) Reserve(ctx context.Context, key, requestHash string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO idempotency_keys (key, request_hash, finalized, created_at, expires_at)
		VALUES ($1, $2, FALSE, NOW(), NOW() + make_interval(secs => $3))
		ON CONFLICT (key) DO NOTHING
	`, key, requestHash, s.ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// WaitForCompletion polls a live reservation until the owning request
// finalizes it, then returns the record for replay. It gives up when the
// context is done or the key resolves to anything other than in-progress.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrInProgress) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Finalize stores the response for replay and fills the Redis cache.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE idempotency_keys
		SET response_status = $1, response_body = $2, content_type = $3, finalized = TRUE
		WHERE key = $4 AND request_hash = $5
	`, status, body, contentType, key, requestHash)
	if err != nil {
		return fmt.Errorf("idempotency finalize: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("idempotency finalize touched %d rows", tag.RowsAffected())
	}

	if s.redis != nil {
		env := cacheEnvelope{Key: key, Hash: requestHash, Status: status, Body: body, ContentType: contentType}
		payload, err := json.Marshal(env)
		if err == nil {
			if err := s.redis.Set(ctx, redisKey(key), payload, s.ttl).Err(); err != nil {
				zap.L().Warn("redis idempotency cache write failed", zap.Error(err))
			}
		}
	}
	return nil
}

func redisKey(key string) string {
	return redisKeyPrefix + ":" + key
}
