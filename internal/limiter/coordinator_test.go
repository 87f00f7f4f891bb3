package limiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
)

func testKey() Key {
	return Key{Bucket: "default", Strategy: StrategyUser, Value: "u1"}
}

func testCfg() config.RateLimitCfg {
	return config.RateLimitCfg{
		Enabled:         true,
		DefaultRate:     10,
		DefaultCapacity: 10,
		Distributed:     true,
		EnableFallback:  true,
		FallbackRate:    2,
	}
}

type openBreaker struct{}

func (openBreaker) Protect(func() error) error { return ErrBreakerOpen }

func TestCoordinatorLocalOnly(t *testing.T) {
	cfg := testCfg()
	cfg.Distributed = false
	c := NewCoordinator(cfg, NewLocal(), nil, nil, nil)

	dec := c.Admit(context.Background(), testKey(), 1)
	if !dec.Allowed || dec.Degraded {
		t.Fatalf("unexpected decision: %#v", dec)
	}
}

func TestCoordinatorDistributedHappyPath(t *testing.T) {
	exec := &fakeExec{result: []interface{}{int64(1), int64(4), int64(0)}}
	c := NewCoordinator(testCfg(), NewLocal(), NewDistributed(exec), nil, nil)

	dec := c.Admit(context.Background(), testKey(), 1)
	if !dec.Allowed || dec.Degraded || dec.Remaining != 4 {
		t.Fatalf("unexpected decision: %#v", dec)
	}
}

// 分布式层故障且启用退化：请求继续按 fallbackRate 在本地层判定
func TestCoordinatorFallbackOnStoreError(t *testing.T) {
	exec := &fakeExec{err: errors.New("connection refused")}
	c := NewCoordinator(testCfg(), NewLocal(), NewDistributed(exec), nil, nil)
	c.now = func() time.Time { return time.UnixMilli(0) }

	// fallback capacity = fallbackRate = 2
	for i := 0; i < 2; i++ {
		dec := c.Admit(context.Background(), testKey(), 1)
		if !dec.Allowed {
			t.Fatalf("fallback request %d should pass: %#v", i+1, dec)
		}
		if !dec.Degraded {
			t.Fatalf("fallback decision must be marked degraded: %#v", dec)
		}
	}

	dec := c.Admit(context.Background(), testKey(), 1)
	if dec.Allowed {
		t.Fatalf("fallback tier must enforce the lower rate: %#v", dec)
	}
	if !dec.Degraded || dec.RetryAfter <= 0 {
		t.Fatalf("unexpected rejection: %#v", dec)
	}
}

func TestCoordinatorFailClosedWithoutFallback(t *testing.T) {
	cfg := testCfg()
	cfg.EnableFallback = false
	exec := &fakeExec{err: errors.New("connection refused")}
	c := NewCoordinator(cfg, NewLocal(), NewDistributed(exec), nil, nil)

	dec := c.Admit(context.Background(), testKey(), 1)
	if dec.Allowed {
		t.Fatalf("store error without fallback must reject: %#v", dec)
	}
	if dec.Reason != "store_unavailable" {
		t.Fatalf("reason = %q", dec.Reason)
	}
	// retry hint is still bucket math: cost/rate
	if dec.RetryAfter != 100*time.Millisecond {
		t.Fatalf("retryAfter = %v, want 100ms", dec.RetryAfter)
	}
}

func TestCoordinatorBreakerOpenGoesLocal(t *testing.T) {
	// the store would admit, but the open breaker short-circuits it
	exec := &fakeExec{result: []interface{}{int64(1), int64(9), int64(0)}}
	c := NewCoordinator(testCfg(), NewLocal(), NewDistributed(exec), openBreaker{}, nil)

	dec := c.Admit(context.Background(), testKey(), 1)
	if !dec.Allowed || !dec.Degraded {
		t.Fatalf("breaker-open should degrade to local: %#v", dec)
	}
	if exec.keys != nil {
		t.Fatalf("store must not be called while breaker is open")
	}
}
