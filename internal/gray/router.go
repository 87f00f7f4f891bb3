package gray

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/rcu"
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

const (
	TargetStable = "stable"
	TargetGray   = "gray"
)

// routeSnapshot 不可变路由快照：权重 + 按优先级降序排好的规则
// 以及客户端显式指定版本的 header/cookie/query 名称
type routeSnapshot struct {
	weight     int
	rules      []config.GrayRule
	header     string
	cookie     string
	queryParam string
}

// Router evaluates gray rules in priority order; first match wins.
// No match falls through to weighted random selection. Weight and rules
// live in an RCU snapshot so updates never require a restart.
type Router struct {
	snap   *rcu.Snapshot[routeSnapshot]
	logger *slog.Logger
	randFn func() int // uniform draw in [0,100)
}

func NewRouter(cfg config.GrayCfg, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		snap:   rcu.NewSnapshot(buildSnapshot(cfg)),
		logger: logger,
		randFn: func() int { return rand.Intn(100) },
	}
}

func buildSnapshot(cfg config.GrayCfg) *routeSnapshot {
	return &routeSnapshot{
		weight:     cfg.Weight,
		rules:      sortRules(cfg.Rules),
		header:     cfg.Header,
		cookie:     cfg.Cookie,
		queryParam: cfg.QueryParam,
	}
}

// sortRules drops disabled rules and orders the rest priority-desc,
// ties broken by ID for determinism.
func sortRules(rules []config.GrayRule) []config.GrayRule {
	sorted := make([]config.GrayRule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			sorted = append(sorted, r)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority == sorted[j].Priority {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}

// Route returns the target for the request: an explicit client version
// pin first, then the first matching rule's target, else gray with
// probability weight/100, else stable.
func (g *Router) Route(rc *types.RequestContext) string {
	snap := g.snap.Load()
	if target := pinnedTarget(snap, rc); target != "" {
		return target
	}
	for _, r := range snap.rules {
		if matches(r, rc) {
			target := r.Target
			if target == "" {
				target = TargetGray
			}
			return target
		}
	}
	if snap.weight > 0 && g.randFn() < snap.weight {
		return TargetGray
	}
	return TargetStable
}

// SetWeight replaces the gray percentage, effective immediately.
func (g *Router) SetWeight(weight int) error {
	if weight < 0 || weight > 100 {
		return fmt.Errorf("gray weight out of range [0,100]: %d", weight)
	}
	g.snap.Update(func(cur routeSnapshot) routeSnapshot {
		cur.weight = weight
		return cur
	})
	g.logger.Info("gray weight updated", "weight", weight)
	return nil
}

// UpsertRule validates and installs a rule, replacing any rule with the
// same ID.
func (g *Router) UpsertRule(rule config.GrayRule) error {
	if rule.ID == "" {
		return fmt.Errorf("gray rule id is required")
	}
	if rule.Target == "" {
		rule.Target = TargetGray
	}
	if err := config.ValidateGrayRule(rule); err != nil {
		return err
	}
	g.snap.Update(func(cur routeSnapshot) routeSnapshot {
		merged := make([]config.GrayRule, 0, len(cur.rules)+1)
		for _, r := range cur.rules {
			if r.ID != rule.ID {
				merged = append(merged, r)
			}
		}
		if rule.Enabled {
			merged = append(merged, rule)
		}
		cur.rules = sortRules(merged)
		return cur
	})
	g.logger.Info("gray rule upserted", "rule_id", rule.ID, "enabled", rule.Enabled)
	return nil
}

// Reload replaces the whole snapshot from configuration.
func (g *Router) Reload(cfg config.GrayCfg) {
	g.snap.Replace(buildSnapshot(cfg))
	g.logger.Info("gray config reloaded", "weight", cfg.Weight, "rules", len(cfg.Rules))
}

// State returns the current weight and rules for the admin API.
func (g *Router) State() (int, []config.GrayRule) {
	snap := g.snap.Load()
	rules := make([]config.GrayRule, len(snap.rules))
	copy(rules, snap.rules)
	return snap.weight, rules
}
