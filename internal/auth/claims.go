package auth

import (
	"time"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/util"
)

// Claims 已验证令牌的声明集
// 每个唯一令牌串只构造一次，构造后不可变
type Claims struct {
	Subject  string
	Username string
	Issuer   string
	Roles    []string
	TenantID string
	IssuedAt time.Time
	Expiry   time.Time
	Extra    map[string]interface{}
}

// Expired is a pure function of now vs expiry, with a clock-skew
// allowance for tokens issued by a slightly fast clock.
func (c *Claims) Expired(now time.Time, skew time.Duration) bool {
	return now.After(c.Expiry.Add(skew))
}

// Fingerprint derives the stable cache/revocation key from the raw
// token string. The key is computed from the raw token, not from
// claims: the signature must still be trusted on first sight.
func Fingerprint(rawToken string) string {
	return util.FNV64(rawToken)
}
