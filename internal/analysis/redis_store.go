package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/breed-check/internal/logging"
)

const (
	generationKey = "breed:generation"
	keyPrefix     = "breed:session:"
)

var beginScript = redis.NewScript(`
local g = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], tostring(g), 'PX', ARGV[2])
redis.call('SET', KEYS[3], ARGV[1], 'PX', ARGV[2])
redis.call('PEXPIRE', KEYS[4], ARGV[2])
return g
`)

var commitScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return 1
end
return 0
`)

var resetScript = redis.NewScript(`
local g = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], tostring(g), 'PX', ARGV[1])
redis.call('DEL', KEYS[3], KEYS[4])
return g
`)

// RedisStore keeps session state in Redis so several front-end replicas can
// share it. Generations come from one global counter.
type RedisStore struct {
	client         *redis.Client
	ttl            time.Duration
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewRedisStore wraps client. Session keys expire after ttl of inactivity.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client:         client,
		ttl:            ttl,
		logger:         logger.Named("session_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

type sessionKeys struct {
	gen, image, result string
}

func keysFor(sessionID string) sessionKeys {
	base := keyPrefix + sessionID
	return sessionKeys{gen: base + ":gen", image: base + ":image", result: base + ":result"}
}

func (s *RedisStore) Begin(ctx context.Context, sessionID string, image ImageMeta) (uint64, error) {
	raw, err := json.Marshal(image)
	if err != nil {
		return 0, err
	}
	k := keysFor(sessionID)

	var gen uint64
	err = s.withRetry(ctx, sessionID, "session.begin", func() error {
		v, err := beginScript.Run(ctx, s.client,
			[]string{generationKey, k.gen, k.image, k.result},
			string(raw), s.ttl.Milliseconds()).Uint64()
		if err != nil {
			return err
		}
		gen = v
		return nil
	})
	return gen, err
}

func (s *RedisStore) Commit(ctx context.Context, sessionID string, result *Analysis) (bool, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return false, err
	}
	k := keysFor(sessionID)

	var applied bool
	err = s.withRetry(ctx, sessionID, "session.commit", func() error {
		v, err := commitScript.Run(ctx, s.client,
			[]string{k.gen, k.result},
			strconv.FormatUint(result.Generation, 10), string(raw), s.ttl.Milliseconds()).Int()
		if err != nil {
			return err
		}
		applied = v == 1
		return nil
	})
	return applied, err
}

func (s *RedisStore) Load(ctx context.Context, sessionID string) (*State, error) {
	k := keysFor(sessionID)

	var values []interface{}
	err := s.withRetry(ctx, sessionID, "session.load", func() error {
		pipe := s.client.TxPipeline()
		mget := pipe.MGet(ctx, k.gen, k.image, k.result)
		for _, key := range []string{k.gen, k.image, k.result} {
			pipe.PExpire(ctx, key, s.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		values = mget.Val()
		return nil
	})
	if err != nil {
		return nil, err
	}

	state := &State{}
	opLogger := logging.WithOperation(s.logger, "session.load", sessionID)
	if raw, ok := values[0].(string); ok {
		if gen, err := strconv.ParseUint(raw, 10, 64); err == nil {
			state.Generation = gen
		}
	}
	if raw, ok := values[1].(string); ok {
		var img ImageMeta
		if err := json.Unmarshal([]byte(raw), &img); err != nil {
			opLogger.Warn("failed to decode session image", zap.Error(err))
		} else {
			state.Image = &img
		}
	}
	if raw, ok := values[2].(string); ok {
		var result Analysis
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			opLogger.Warn("failed to decode session result", zap.Error(err))
		} else {
			state.Result = &result
		}
	}
	return state, nil
}

func (s *RedisStore) Reset(ctx context.Context, sessionID string) error {
	k := keysFor(sessionID)
	return s.withRetry(ctx, sessionID, "session.reset", func() error {
		return resetScript.Run(ctx, s.client,
			[]string{generationKey, k.gen, k.image, k.result},
			s.ttl.Milliseconds()).Err()
	})
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) withRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, fmt.Errorf("retries exhausted: %w", err))
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
