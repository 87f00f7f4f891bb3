package limiter

import (
	sentinel "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/circuitbreaker"
)

// SentinelBreaker guards the distributed tier with an error-count
// circuit breaker. While the breaker is open, Admit goes straight to
// local fallback; half-open probe entries retry the store, so recovery
// does not wait for a fixed cool-down.
type SentinelBreaker struct {
	resource string
}

// NewSentinelBreaker initializes sentinel and loads the breaker rule
// for the store resource. Call once at startup.
func NewSentinelBreaker(resource string) (*SentinelBreaker, error) {
	if err := sentinel.InitDefault(); err != nil {
		return nil, err
	}
	_, err := circuitbreaker.LoadRules([]*circuitbreaker.Rule{
		{
			Resource:         resource,
			Strategy:         circuitbreaker.ErrorCount,
			RetryTimeoutMs:   5000,
			MinRequestAmount: 5,
			StatIntervalMs:   10000,
			Threshold:        5,
		},
	})
	if err != nil {
		return nil, err
	}
	return &SentinelBreaker{resource: resource}, nil
}

func (b *SentinelBreaker) Protect(fn func() error) error {
	entry, blockErr := sentinel.Entry(b.resource)
	if blockErr != nil {
		return ErrBreakerOpen
	}
	defer entry.Exit()
	if err := fn(); err != nil {
		sentinel.TraceError(entry, err)
		return err
	}
	return nil
}
