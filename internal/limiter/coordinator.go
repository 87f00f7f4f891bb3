package limiter

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

// ErrBreakerOpen is returned by a Breaker when the distributed tier is
// short-circuited and the call never reached the store.
var ErrBreakerOpen = errors.New("limiter: distributed tier breaker open")

// Breaker gates calls to the distributed tier. While open it fails fast
// with ErrBreakerOpen; half-open implementations let probe calls through.
type Breaker interface {
	Protect(fn func() error) error
}

// noopBreaker passes every call through.
type noopBreaker struct{}

func (noopBreaker) Protect(fn func() error) error { return fn() }

// Coordinator 组合本地与分布式限流层并应用退化策略
// 分布式层可用时作为跨实例事实来源；故障时按配置退化到本地层
// （更低的 fallbackRate），或在禁用退化时 fail-closed。
type Coordinator struct {
	cfg     config.RateLimitCfg
	local   *Local
	dist    *Distributed // nil when the distributed tier is disabled
	breaker Breaker
	logger  *slog.Logger
	now     func() time.Time
}

func NewCoordinator(cfg config.RateLimitCfg, local *Local, dist *Distributed, breaker Breaker, logger *slog.Logger) *Coordinator {
	if local == nil {
		panic("limiter: nil local tier")
	}
	if breaker == nil {
		breaker = noopBreaker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:     cfg,
		local:   local,
		dist:    dist,
		breaker: breaker,
		logger:  logger,
		now:     time.Now,
	}
}

// Admit decides whether cost tokens may be consumed for key.
// The decision always carries a bucket-math RetryAfter on rejection.
func (c *Coordinator) Admit(ctx context.Context, key Key, cost int64) types.Decision {
	if cost <= 0 {
		cost = 1
	}
	now := c.now()

	if c.dist == nil {
		return c.local.Allow(key.String(), c.cfg.DefaultCapacity, c.cfg.DefaultRate, cost, now)
	}

	var dec types.Decision
	err := c.breaker.Protect(func() error {
		var innerErr error
		dec, innerErr = c.dist.Allow(ctx, key, c.cfg.DefaultCapacity, c.cfg.DefaultRate, cost, now)
		return innerErr
	})
	if err == nil {
		return dec
	}

	if !errors.Is(err, ErrBreakerOpen) {
		c.logger.Warn("distributed limiter failed", "key", key.String(), "err", err)
	}

	if c.cfg.EnableFallback {
		fallbackCap := c.cfg.DefaultCapacity
		if c.cfg.FallbackRate < c.cfg.DefaultRate {
			fallbackCap = c.cfg.FallbackRate
			if fallbackCap < 1 {
				fallbackCap = 1
			}
		}
		out := c.local.Allow("fb:"+key.String(), fallbackCap, c.cfg.FallbackRate, cost, now)
		out.Degraded = true
		if out.Reason == "allowed" {
			out.Reason = "fallback_allowed"
		} else {
			out.Reason = "fallback_rate_limited"
		}
		return out
	}

	// Fail-closed: a store error is itself a rejection. The retry hint
	// is still bucket math: the time an empty bucket needs for cost.
	retry := time.Duration(float64(cost) / c.cfg.DefaultRate * float64(time.Second))
	return types.Decision{
		Allowed:    false,
		RetryAfter: retry,
		Reason:     "store_unavailable",
		Err:        err,
	}
}
