package pipeline

import (
	"context"
	"log/slog"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/gray"
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

// Stage is one traffic-control decision. Returning a non-Continue
// outcome short-circuits the remaining stages.
type Stage interface {
	Name() string
	Apply(ctx context.Context, rc *types.RequestContext) types.Outcome
}

// Chain 按固定顺序执行各阶段：最便宜、最确定能拒绝的在前
// (1) 请求/追踪 ID 分配（永不拒绝）(2) 认证 (3) 限流 (4) 灰度路由
type Chain struct {
	stages []Stage
	logger *slog.Logger
}

func NewChain(logger *slog.Logger, stages ...Stage) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{stages: stages, logger: logger}
}

// Run executes the stages in order and returns the terminal outcome.
// A chain without a routing stage resolves to the stable target.
func (c *Chain) Run(ctx context.Context, rc *types.RequestContext) types.Outcome {
	for _, stage := range c.stages {
		out := stage.Apply(ctx, rc)
		if out.Kind != types.OutcomeContinue {
			if out.Kind == types.OutcomeReject {
				c.logger.Info("request rejected",
					"stage", stage.Name(),
					"status", out.Status,
					"reason", out.Reason,
					"request_id", rc.RequestID,
					"path", rc.Path)
			}
			return out
		}
	}
	return types.RouteTo(gray.TargetStable)
}

// Stages returns the ordered stage names, for startup logging.
func (c *Chain) Stages() []string {
	names := make([]string, 0, len(c.stages))
	for _, s := range c.stages {
		names = append(names, s.Name())
	}
	return names
}
