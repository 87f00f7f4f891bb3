package pipeline

import (
	"log/slog"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/auth"
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/gray"
	"github.com/nanjiek/pixiu-gateway/internal/limiter"
)

// Deps carries the constructed collaborators for enabled stages.
// Disabled stages may leave their collaborator nil.
type Deps struct {
	Validator   *auth.Validator
	Coordinator *limiter.Coordinator
	Resolver    *limiter.KeyResolver
	Gray        *gray.Router
	Logger      *slog.Logger
}

// Build reads the configuration once and assembles only the enabled
// stages into the fixed order. No conditional wiring at request time.
func Build(cfg *config.Config, deps Deps) *Chain {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	stages := []Stage{requestIDStage{}}
	if cfg.JWT.Enabled && deps.Validator != nil {
		stages = append(stages, authStage{validator: deps.Validator})
	}
	if cfg.RateLimit.Enabled && deps.Coordinator != nil && deps.Resolver != nil {
		stages = append(stages, rateStage{
			coordinator: deps.Coordinator,
			resolver:    deps.Resolver,
			cost:        1,
			logger:      logger,
		})
	}
	if cfg.Gray.Enabled && deps.Gray != nil {
		stages = append(stages, grayStage{router: deps.Gray})
	}
	return NewChain(logger, stages...)
}
