package limiter

import (
	"errors"
	"strings"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

const (
	StrategyUser   = "user"
	StrategyIP     = "ip"
	StrategyPath   = "path"
	StrategyTenant = "tenant"
)

// Key shards both local and distributed bucket state: a resolved client
// identifier plus a logical bucket name.
type Key struct {
	Bucket   string
	Strategy string
	Value    string
}

// String returns the canonical key form used by both limiter tiers.
func (k Key) String() string {
	return k.Bucket + ":" + k.Strategy + ":" + k.Value
}

// KeyResolver resolves a rate limit key from the request context.
// The strategy chain is configuration; the default order is
// user -> ip -> path -> tenant.
type KeyResolver struct {
	Bucket     string
	Strategies []string
}

func NewKeyResolver(bucket string, strategies []string) *KeyResolver {
	if len(strategies) == 0 {
		strategies = []string{StrategyUser, StrategyIP, StrategyPath, StrategyTenant}
	}
	return &KeyResolver{Bucket: bucket, Strategies: strategies}
}

// Resolve walks the strategy chain and returns the first resolvable key.
func (r *KeyResolver) Resolve(rc *types.RequestContext) (Key, error) {
	if rc == nil {
		return Key{}, errors.New("nil request context")
	}
	for _, s := range r.Strategies {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case StrategyUser:
			if user := resolveUser(rc); user != "" {
				return Key{Bucket: r.Bucket, Strategy: StrategyUser, Value: user}, nil
			}
		case StrategyIP:
			if rc.ClientIP != "" {
				return Key{Bucket: r.Bucket, Strategy: StrategyIP, Value: rc.ClientIP}, nil
			}
		case StrategyPath:
			if rc.Path != "" {
				return Key{Bucket: r.Bucket, Strategy: StrategyPath, Value: rc.Path}, nil
			}
		case StrategyTenant:
			if tenant := resolveTenant(rc); tenant != "" {
				return Key{Bucket: r.Bucket, Strategy: StrategyTenant, Value: tenant}, nil
			}
		}
	}
	return Key{}, errors.New("no rate limit key resolved")
}

// resolveUser prefers the authenticated subject over the bare header.
func resolveUser(rc *types.RequestContext) string {
	if rc.Authenticated && rc.Subject != "" {
		return rc.Subject
	}
	return strings.TrimSpace(rc.Header.Get("X-User-Id"))
}

func resolveTenant(rc *types.RequestContext) string {
	if rc.TenantID != "" {
		return rc.TenantID
	}
	return strings.TrimSpace(rc.Header.Get("X-Tenant-Id"))
}
