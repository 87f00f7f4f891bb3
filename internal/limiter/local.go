package limiter

import (
	"sync"
	"time"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/types"
	"github.com/nanjiek/pixiu-gateway/internal/util"
)

const shardCount = 32

// Local is the in-process token bucket tier. It is used standalone in
// single-node deployments and as the fallback tier behind the
// distributed limiter. Keys are sharded over fixed mutex-guarded maps
// to bound contention; per-key mutation is serialized by the shard lock.
type Local struct {
	shards [shardCount]*localShard
}

type localShard struct {
	mu      sync.Mutex
	buckets map[string]*BucketState
}

func NewLocal() *Local {
	l := &Local{}
	for i := range l.shards {
		l.shards[i] = &localShard{buckets: make(map[string]*BucketState)}
	}
	return l
}

// Allow runs the refill-compare-decrement sequence for key against the
// given bucket parameters. New keys start with a full bucket.
func (l *Local) Allow(key string, capacity, ratePerSec float64, cost int64, now time.Time) types.Decision {
	shard := l.shards[util.FNV32Sum(key)%shardCount]
	shard.mu.Lock()
	defer shard.mu.Unlock()

	b, ok := shard.buckets[key]
	if !ok {
		b = &BucketState{Tokens: capacity, LastRefill: now}
		shard.buckets[key] = b
	}

	admitted, remaining, retry := b.take(now, capacity, ratePerSec, float64(cost))
	if !admitted {
		return types.Decision{
			Allowed:    false,
			Remaining:  remaining,
			RetryAfter: retry,
			Reason:     "rate_limited",
		}
	}
	return types.Decision{
		Allowed:   true,
		Remaining: remaining,
		Reason:    "allowed",
	}
}

// Len returns the number of tracked keys, for diagnostics.
func (l *Local) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.buckets)
		s.mu.Unlock()
	}
	return n
}
