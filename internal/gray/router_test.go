package gray

import (
	"net/http"
	"net/url"
	"testing"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

func newRequest() *types.RequestContext {
	return &types.RequestContext{
		Method: "GET",
		Path:   "/api/orders",
		Header: http.Header{},
		Query:  url.Values{},
	}
}

func TestRouteFirstMatchWinsByPriority(t *testing.T) {
	cfg := config.GrayCfg{
		Weight: 0,
		Rules: []config.GrayRule{
			{ID: "low", Priority: 1, Kind: "header", Name: "X-Canary", Value: "on", Target: "stable", Enabled: true},
			{ID: "high", Priority: 10, Kind: "header", Name: "X-Canary", Value: "on", Target: "gray", Enabled: true},
		},
	}
	router := NewRouter(cfg, nil)

	rc := newRequest()
	rc.Header.Set("X-Canary", "on")
	if got := router.Route(rc); got != TargetGray {
		t.Fatalf("higher-priority rule must win, got %q", got)
	}
}

func TestRouteMatcherKinds(t *testing.T) {
	rules := []config.GrayRule{
		{ID: "h", Priority: 5, Kind: "header", Name: "X-Gray", Value: "1", Enabled: true},
		{ID: "hp", Priority: 5, Kind: "header", Name: "X-Build", Value: "beta-", Prefix: true, Enabled: true},
		{ID: "c", Priority: 5, Kind: "cookie", Name: "gray", Value: "yes", Enabled: true},
		{ID: "q", Priority: 5, Kind: "query", Name: "canary", Enabled: true}, // presence only
		{ID: "u", Priority: 5, Kind: "user", Users: []string{"user-7"}, Enabled: true},
		{ID: "n", Priority: 5, Kind: "cidr", CIDRs: []string{"10.1.0.0/16"}, Enabled: true},
	}
	router := NewRouter(config.GrayCfg{Weight: 0, Rules: rules}, nil)

	cases := []struct {
		name  string
		setup func(rc *types.RequestContext)
		want  string
	}{
		{"header exact", func(rc *types.RequestContext) { rc.Header.Set("X-Gray", "1") }, TargetGray},
		{"header exact miss", func(rc *types.RequestContext) { rc.Header.Set("X-Gray", "0") }, TargetStable},
		{"header prefix", func(rc *types.RequestContext) { rc.Header.Set("X-Build", "beta-42") }, TargetGray},
		{"cookie", func(rc *types.RequestContext) { rc.Header.Set("Cookie", "gray=yes") }, TargetGray},
		{"query presence", func(rc *types.RequestContext) { rc.Query.Set("canary", "anything") }, TargetGray},
		{"user subject", func(rc *types.RequestContext) { rc.Subject = "user-7" }, TargetGray},
		{"user header", func(rc *types.RequestContext) { rc.Header.Set("X-User-Id", "user-7") }, TargetGray},
		{"user miss", func(rc *types.RequestContext) { rc.Subject = "user-8" }, TargetStable},
		{"cidr member", func(rc *types.RequestContext) { rc.ClientIP = "10.1.200.3" }, TargetGray},
		{"cidr outside", func(rc *types.RequestContext) { rc.ClientIP = "10.2.0.1" }, TargetStable},
		{"no signal", func(rc *types.RequestContext) {}, TargetStable},
	}
	for _, tc := range cases {
		rc := newRequest()
		tc.setup(rc)
		if got := router.Route(rc); got != tc.want {
			t.Fatalf("%s: want %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestRouteWeightBoundaries(t *testing.T) {
	router := NewRouter(config.GrayCfg{Weight: 0}, nil)
	for i := 0; i < 100; i++ {
		if got := router.Route(newRequest()); got != TargetStable {
			t.Fatalf("weight 0 must always route stable, got %q", got)
		}
	}

	if err := router.SetWeight(100); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	for i := 0; i < 100; i++ {
		if got := router.Route(newRequest()); got != TargetGray {
			t.Fatalf("weight 100 must always route gray, got %q", got)
		}
	}
}

func TestRouteWeightDrawUsesThreshold(t *testing.T) {
	router := NewRouter(config.GrayCfg{Weight: 30}, nil)

	draw := 29
	router.randFn = func() int { return draw }
	if got := router.Route(newRequest()); got != TargetGray {
		t.Fatalf("draw 29 under weight 30 must route gray, got %q", got)
	}
	draw = 30
	if got := router.Route(newRequest()); got != TargetStable {
		t.Fatalf("draw 30 under weight 30 must route stable, got %q", got)
	}
}

func TestRouteWeightConverges(t *testing.T) {
	const weight, trials = 30, 20000
	router := NewRouter(config.GrayCfg{Weight: weight}, nil)

	gray := 0
	for i := 0; i < trials; i++ {
		if router.Route(newRequest()) == TargetGray {
			gray++
		}
	}
	ratio := float64(gray) / trials * 100
	if ratio < weight-3 || ratio > weight+3 {
		t.Fatalf("gray share %.1f%% too far from %d%%", ratio, weight)
	}
}

func TestRouteClientVersionPin(t *testing.T) {
	cfg := config.GrayCfg{
		Weight:     100, // the draw would always pick gray
		Header:     "X-Gray-Version",
		Cookie:     "gray_version",
		QueryParam: "gray",
		Rules: []config.GrayRule{
			{ID: "canary", Priority: 5, Kind: "header", Name: "X-Canary", Value: "on", Target: TargetGray, Enabled: true},
		},
	}
	router := NewRouter(cfg, nil)

	rc := newRequest()
	rc.Header.Set("X-Gray-Version", "stable")
	rc.Header.Set("X-Canary", "on")
	if got := router.Route(rc); got != TargetStable {
		t.Fatalf("explicit pin must outrank rules and weight, got %q", got)
	}

	rc = newRequest()
	rc.Header.Set("Cookie", "gray_version=gray")
	if got := router.Route(rc); got != TargetGray {
		t.Fatalf("cookie pin must route gray, got %q", got)
	}

	rc = newRequest()
	rc.Query.Set("gray", "stable")
	if got := router.Route(rc); got != TargetStable {
		t.Fatalf("query pin must route stable, got %q", got)
	}

	// unknown values are not a pin; weight 100 sends them gray
	rc = newRequest()
	rc.Header.Set("X-Gray-Version", "v3")
	if got := router.Route(rc); got != TargetGray {
		t.Fatalf("unknown pin value falls through to the draw, got %q", got)
	}
}

func TestSetWeightRejectsOutOfRange(t *testing.T) {
	router := NewRouter(config.GrayCfg{Weight: 10}, nil)
	for _, w := range []int{-1, 101} {
		if err := router.SetWeight(w); err == nil {
			t.Fatalf("weight %d must be rejected", w)
		}
	}
	if w, _ := router.State(); w != 10 {
		t.Fatalf("rejected update must not change weight, got %d", w)
	}
}

func TestUpsertRuleTakesEffectImmediately(t *testing.T) {
	router := NewRouter(config.GrayCfg{Weight: 0}, nil)

	rc := newRequest()
	rc.Header.Set("X-Team", "platform")
	if got := router.Route(rc); got != TargetStable {
		t.Fatalf("no rules yet, want stable, got %q", got)
	}

	rule := config.GrayRule{ID: "team", Priority: 5, Kind: "header", Name: "X-Team", Value: "platform", Enabled: true}
	if err := router.UpsertRule(rule); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if got := router.Route(rc); got != TargetGray {
		t.Fatalf("after upsert want gray, got %q", got)
	}

	// replace by ID with a disabled version: rule disappears
	rule.Enabled = false
	if err := router.UpsertRule(rule); err != nil {
		t.Fatalf("upsert disabled: %v", err)
	}
	if got := router.Route(rc); got != TargetStable {
		t.Fatalf("disabled rule must not match, got %q", got)
	}
	if _, rules := router.State(); len(rules) != 0 {
		t.Fatalf("disabled rule must be dropped from state, got %d rules", len(rules))
	}
}

func TestUpsertRuleValidation(t *testing.T) {
	router := NewRouter(config.GrayCfg{}, nil)
	cases := []config.GrayRule{
		{Priority: 1, Kind: "header", Name: "X", Value: "1", Enabled: true},       // missing id
		{ID: "bad-kind", Priority: 1, Kind: "teleport", Enabled: true},           // unknown kind
		{ID: "bad-cidr", Priority: 1, Kind: "cidr", CIDRs: []string{"10.0.0.0"}}, // not a prefix
	}
	for _, rule := range cases {
		if err := router.UpsertRule(rule); err == nil {
			t.Fatalf("rule %+v must be rejected", rule)
		}
	}
}

func TestReloadReplacesSnapshot(t *testing.T) {
	router := NewRouter(config.GrayCfg{
		Weight: 50,
		Rules:  []config.GrayRule{{ID: "old", Priority: 1, Kind: "header", Name: "X-Old", Value: "1", Enabled: true}},
	}, nil)

	router.Reload(config.GrayCfg{
		Weight: 0,
		Rules:  []config.GrayRule{{ID: "new", Priority: 1, Kind: "header", Name: "X-New", Value: "1", Enabled: true}},
	})

	rc := newRequest()
	rc.Header.Set("X-Old", "1")
	if got := router.Route(rc); got != TargetStable {
		t.Fatalf("old rule must be gone after reload, got %q", got)
	}
	rc2 := newRequest()
	rc2.Header.Set("X-New", "1")
	if got := router.Route(rc2); got != TargetGray {
		t.Fatalf("new rule must match after reload, got %q", got)
	}
	if w, rules := router.State(); w != 0 || len(rules) != 1 || rules[0].ID != "new" {
		t.Fatalf("unexpected state after reload: weight=%d rules=%#v", w, rules)
	}
}
