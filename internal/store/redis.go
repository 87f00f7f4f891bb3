package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

import (
	"github.com/redis/go-redis/v9"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
)

// Key templates for better readability and maintainability
const (
	keyBucketTokTmpl = "%s:tb:{%s}:tok"
	keyBucketTSTmpl  = "%s:tb:{%s}:ts"
)

// Repo interface for abstraction (easy to mock/test)
type Repo interface {
	KeyBucketTokens(bucket, key string) string
	KeyBucketStamp(bucket, key string) string
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) ([]interface{}, error)
	PublishRevocation(ctx context.Context, fingerprint string) error
	Revocations(ctx context.Context) <-chan string
	Close() error
}

type RedisRepo struct {
	Prefix         string
	RevokeChannel  string
	Cli            redis.UniversalClient
	logger         *slog.Logger
	defaultTimeout time.Duration // Unified timeout config
}

// NewRedis with functional options for flexibility
func NewRedis(cfg *config.Config, logger *slog.Logger, opts ...Option) (*RedisRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &RedisRepo{
		Prefix:         cfg.Redis.Prefix,
		RevokeChannel:  cfg.Redis.RevokeChannel,
		logger:         logger,
		defaultTimeout: durationOrDefault(cfg.Redis.DefaultTimeoutMs, 100),
	}

	for _, opt := range opts {
		opt(r)
	}

	addrs := normalizeAddrs(cfg.Redis)
	if len(addrs) == 0 {
		return nil, errors.New("no redis addresses configured")
	}

	r.Cli = redis.NewUniversalClient(buildUniversalOptions(addrs, cfg.Redis))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Cli.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		return nil, fmt.Errorf("redis connect failed: %w", err)
	}

	return r, nil
}

// Option pattern for custom configurations
type Option func(*RedisRepo)

func WithDefaultTimeout(d time.Duration) Option {
	return func(r *RedisRepo) { r.defaultTimeout = d }
}

// withTimeout helper to reduce repetition
func (r *RedisRepo) withTimeout(ctx context.Context, opTimeout time.Duration) (context.Context, context.CancelFunc) {
	if opTimeout == 0 {
		opTimeout = r.defaultTimeout
	}
	return context.WithTimeout(ctx, opTimeout)
}

// Key generation methods (using templates). The hash-tag braces keep a
// bucket's token and stamp keys in the same cluster slot so the Lua
// script can touch both.
func (r *RedisRepo) KeyBucketTokens(bucket, key string) string {
	return fmt.Sprintf(keyBucketTokTmpl, r.Prefix, bucket+":"+key)
}

func (r *RedisRepo) KeyBucketStamp(bucket, key string) string {
	return fmt.Sprintf(keyBucketTSTmpl, r.Prefix, bucket+":"+key)
}

// Eval runs a Lua script with a bounded per-op timeout.
func (r *RedisRepo) Eval(parentCtx context.Context, script string, keys []string, args ...interface{}) ([]interface{}, error) {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	res, err := r.Cli.Eval(ctx, script, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("eval script failed: %w", err)
	}
	if val, ok := res.([]interface{}); ok {
		return val, nil
	}
	return []interface{}{res}, nil
}

// PublishRevocation fans a revoked token fingerprint out to every
// gateway instance subscribed to the revoke channel.
func (r *RedisRepo) PublishRevocation(parentCtx context.Context, fingerprint string) error {
	ctx, cancel := r.withTimeout(parentCtx, 0)
	defer cancel()
	if err := r.Cli.Publish(ctx, r.RevokeChannel, fingerprint).Err(); err != nil {
		return fmt.Errorf("publish revocation failed: %w", err)
	}
	return nil
}

// Revocations subscribes to the revoke channel and streams fingerprints
// until ctx is cancelled.
func (r *RedisRepo) Revocations(ctx context.Context) <-chan string {
	out := make(chan string)
	sub := r.Cli.Subscribe(ctx, r.RevokeChannel)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- msg.Payload:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Close
func (r *RedisRepo) Close() error {
	return r.Cli.Close()
}

// Helper functions
func normalizeAddrs(cfg config.RedisCfg) []string {
	if len(cfg.Addrs) > 0 {
		return cfg.Addrs
	}
	if cfg.Addr == "" {
		return nil
	}
	parts := strings.Split(cfg.Addr, ",")
	var out []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func buildUniversalOptions(addrs []string, cfg config.RedisCfg) *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        addrs,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     maxInt(cfg.PoolSize, 100),
		MinIdleConns: maxInt(cfg.MinIdleConns, 10),
		DialTimeout:  durationOrDefault(cfg.DialTimeoutMs, 800),
		ReadTimeout:  durationOrDefault(cfg.ReadTimeoutMs, 800),
		WriteTimeout: durationOrDefault(cfg.WriteTimeoutMs, 800),
		MaxRetries:   maxInt(cfg.MaxRetries, 2),
	}
}

func maxInt(val, def int) int {
	if val > def {
		return val
	}
	return def
}

func durationOrDefault(ms int, defMs int) time.Duration {
	if ms <= 0 {
		ms = defMs
	}
	return time.Duration(ms) * time.Millisecond
}
