package limiter

import (
	"math"
	"time"
)

// BucketState 令牌桶状态：当前令牌数（浮点）+ 上次补充时间
// 不变式：0 <= Tokens <= capacity；补充只随时间单调进行
type BucketState struct {
	Tokens     float64
	LastRefill time.Time
}

// take refills the bucket up to now, then tries to consume cost tokens.
// It returns (admitted, remaining whole tokens, retry-after when rejected).
// A now earlier than LastRefill never refills backward.
// Callers must serialize access per key.
func (b *BucketState) take(now time.Time, capacity, ratePerSec, cost float64) (bool, int64, time.Duration) {
	if now.After(b.LastRefill) {
		elapsed := now.Sub(b.LastRefill).Seconds()
		b.Tokens = math.Min(capacity, b.Tokens+elapsed*ratePerSec)
		b.LastRefill = now
	}
	if b.Tokens > capacity {
		b.Tokens = capacity
	}
	if b.Tokens >= cost {
		b.Tokens -= cost
		return true, int64(b.Tokens), 0
	}
	var retry time.Duration
	if ratePerSec > 0 {
		retry = time.Duration((cost - b.Tokens) / ratePerSec * float64(time.Second))
	}
	return false, int64(b.Tokens), retry
}
