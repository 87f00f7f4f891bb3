package limiter

import (
	"context"
	_ "embed"
	"errors"
	"math"
	"time"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/types"
	"github.com/nanjiek/pixiu-gateway/internal/util"
)

//go:embed token_bucket.lua
var tokenBucketScript string

// ScriptExecutor executes a Lua script and returns raw results.
type ScriptExecutor interface {
	KeyBucketTokens(bucket, key string) string
	KeyBucketStamp(bucket, key string) string
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) ([]interface{}, error)
}

// Distributed applies the token bucket algorithm via a single scripted
// round-trip to the shared store. Atomicity across gateway instances
// comes from the store's own script execution guarantee.
type Distributed struct {
	exec      ScriptExecutor
	script    string
	ttlFactor float64
}

func NewDistributed(exec ScriptExecutor) *Distributed {
	if exec == nil {
		panic("limiter: nil ScriptExecutor")
	}
	return &Distributed{
		exec:      exec,
		script:    tokenBucketScript,
		ttlFactor: 2,
	}
}

// Allow checks and decrements the shared bucket for key.
func (d *Distributed) Allow(ctx context.Context, key Key, capacity, ratePerSec float64, cost int64, now time.Time) (types.Decision, error) {
	if capacity <= 0 || ratePerSec <= 0 {
		err := errors.New("invalid bucket parameters")
		return types.Decision{Allowed: false, Reason: "invalid_bucket", Err: err}, err
	}
	if key.Value == "" {
		err := errors.New("empty key")
		return types.Decision{Allowed: false, Reason: "empty_key", Err: err}, err
	}

	refillPerMs := ratePerSec / 1000.0
	nowMs := now.UnixMilli()
	// TTL long enough to refill an empty bucket, so idle keys expire
	// without losing active state.
	ttlMs := int64(math.Ceil(capacity / refillPerMs * d.ttlFactor))
	if ttlMs < 1000 {
		ttlMs = 1000
	}

	keys := []string{
		d.exec.KeyBucketTokens(key.Bucket, key.Value),
		d.exec.KeyBucketStamp(key.Bucket, key.Value),
	}
	res, err := d.exec.Eval(ctx, d.script, keys, capacity, refillPerMs, cost, nowMs, ttlMs)
	if err != nil {
		return types.Decision{Allowed: false, Reason: "limiter_eval_failed", Err: err}, err
	}
	if len(res) < 3 {
		err = errors.New("invalid script response")
		return types.Decision{Allowed: false, Reason: "invalid_script_response", Err: err}, err
	}

	allowed, ok := util.ToInt64(res[0])
	if !ok {
		err = errors.New("invalid allowed value")
		return types.Decision{Allowed: false, Reason: "invalid_script_response", Err: err}, err
	}
	remaining, ok := util.ToInt64(res[1])
	if !ok {
		err = errors.New("invalid remaining value")
		return types.Decision{Allowed: false, Reason: "invalid_script_response", Err: err}, err
	}
	retryMs, ok := util.ToInt64(res[2])
	if !ok {
		err = errors.New("invalid retry value")
		return types.Decision{Allowed: false, Reason: "invalid_script_response", Err: err}, err
	}

	decision := types.Decision{
		Allowed:   allowed > 0,
		Remaining: remaining,
		Reason:    "allowed",
	}
	if !decision.Allowed {
		decision.Reason = "rate_limited"
		decision.RetryAfter = time.Duration(retryMs) * time.Millisecond
	}
	return decision, nil
}
