package gray

import (
	"net/netip"
	"strings"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

// matches reports whether a single rule is satisfied by the request.
// Matcher kinds: header / cookie / query value (exact or prefix),
// explicit user-ID allowlist, IP/CIDR membership.
func matches(r config.GrayRule, rc *types.RequestContext) bool {
	switch strings.ToLower(strings.TrimSpace(r.Kind)) {
	case "header":
		return matchValue(rc.Header.Get(r.Name), r.Value, r.Prefix)
	case "cookie":
		return matchValue(rc.Cookie(r.Name), r.Value, r.Prefix)
	case "query":
		return matchValue(rc.Query.Get(r.Name), r.Value, r.Prefix)
	case "user":
		return matchUser(r.Users, rc)
	case "cidr":
		return matchCIDR(r.CIDRs, rc.ClientIP)
	}
	return false
}

// pinnedTarget returns the version the client explicitly asked for via
// the configured header, cookie or query parameter, or "" when the
// request carries no pin. Only known targets are honored.
func pinnedTarget(snap *routeSnapshot, rc *types.RequestContext) string {
	for _, raw := range []string{
		headerValue(rc, snap.header),
		rc.Cookie(snap.cookie),
		queryValue(rc, snap.queryParam),
	} {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case TargetGray:
			return TargetGray
		case TargetStable:
			return TargetStable
		}
	}
	return ""
}

func headerValue(rc *types.RequestContext, name string) string {
	if name == "" {
		return ""
	}
	return rc.Header.Get(name)
}

func queryValue(rc *types.RequestContext, name string) string {
	if name == "" || rc.Query == nil {
		return ""
	}
	return rc.Query.Get(name)
}

func matchValue(got, want string, prefix bool) bool {
	got = strings.TrimSpace(got)
	if got == "" {
		return false
	}
	if want == "" {
		// presence-only match
		return true
	}
	if prefix {
		return strings.HasPrefix(got, want)
	}
	return got == want
}

func matchUser(users []string, rc *types.RequestContext) bool {
	id := rc.Subject
	if id == "" {
		id = strings.TrimSpace(rc.Header.Get("X-User-Id"))
	}
	if id == "" {
		return false
	}
	for _, u := range users {
		if u == id {
			return true
		}
	}
	return false
}

func matchCIDR(cidrs []string, ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	for _, c := range cidrs {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(c))
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}
