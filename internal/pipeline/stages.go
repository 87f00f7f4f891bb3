package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
)

import (
	"github.com/google/uuid"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/auth"
	"github.com/nanjiek/pixiu-gateway/internal/gray"
	"github.com/nanjiek/pixiu-gateway/internal/limiter"
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

// requestIDStage assigns request and trace IDs when the client did not
// send them. It always continues.
type requestIDStage struct{}

func (requestIDStage) Name() string { return "request_id" }

func (requestIDStage) Apply(_ context.Context, rc *types.RequestContext) types.Outcome {
	if rc.RequestID == "" {
		rc.RequestID = uuid.NewString()
	}
	if rc.TraceID == "" {
		rc.TraceID = uuid.NewString()
	}
	return types.Continue()
}

// authStage runs the JWT validator. Ignored paths proceed anonymous;
// auth failures reject with 401, key-source outages with 503.
type authStage struct {
	validator *auth.Validator
}

func (authStage) Name() string { return "jwt_auth" }

func (s authStage) Apply(ctx context.Context, rc *types.RequestContext) types.Outcome {
	if s.validator.Bypass(rc.Path) {
		return types.Continue()
	}
	if _, err := s.validator.Validate(ctx, rc); err != nil {
		var authErr *auth.Error
		if errors.As(err, &authErr) {
			return types.Reject(http.StatusUnauthorized, authErr.Kind.String(), map[string]string{
				"WWW-Authenticate": `Bearer error="invalid_token", error_description="` + authErr.Kind.String() + `"`,
			})
		}
		return types.Reject(http.StatusServiceUnavailable, "key_source_unavailable", nil)
	}
	return types.Continue()
}

// rateStage admits or rejects under the token bucket budget.
type rateStage struct {
	coordinator *limiter.Coordinator
	resolver    *limiter.KeyResolver
	cost        int64
	logger      *slog.Logger
}

func (rateStage) Name() string { return "rate_limit" }

func (s rateStage) Apply(ctx context.Context, rc *types.RequestContext) types.Outcome {
	key, err := s.resolver.Resolve(rc)
	if err != nil {
		// Without any resolvable key there is no bucket to charge.
		s.logger.Warn("rate limit key unresolved", "path", rc.Path, "err", err)
		return types.Continue()
	}

	dec := s.coordinator.Admit(ctx, key, s.cost)
	if dec.Degraded {
		rc.ReplyHeaders.Set("X-RateLimit-Mode", "fallback")
	}
	if !dec.Allowed {
		headers := map[string]string{
			"Retry-After": strconv.FormatInt(retryAfterSeconds(dec), 10),
		}
		if dec.Degraded {
			headers["X-RateLimit-Mode"] = "fallback"
		}
		return types.Reject(http.StatusTooManyRequests, dec.Reason, headers)
	}
	rc.ReplyHeaders.Set("X-RateLimit-Remaining", strconv.FormatInt(dec.Remaining, 10))
	return types.Continue()
}

// retryAfterSeconds rounds the bucket-math hint up to whole seconds,
// at least 1 so clients do not instantly retry.
func retryAfterSeconds(dec types.Decision) int64 {
	secs := int64(math.Ceil(dec.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// grayStage resolves the routing target. Terminal for normal requests.
type grayStage struct {
	router *gray.Router
}

func (grayStage) Name() string { return "gray_route" }

func (s grayStage) Apply(_ context.Context, rc *types.RequestContext) types.Outcome {
	return types.RouteTo(s.router.Route(rc))
}
