package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

import (
	"github.com/go-jose/go-jose/v3/jwt"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/types"
	"github.com/nanjiek/pixiu-gateway/internal/util"
)

// ErrKeyNotFound marks a kid lookup that failed after a refresh; the
// token is unverifiable and treated as an invalid signature.
var ErrKeyNotFound = errors.New("auth: verification key not found")

const bearerPrefix = "Bearer "

// Validator 认证阶段：Bearer 解析、免认证路径、缓存优先的签名校验
// 缓存命中时返回已验证声明，零密码学开销（可通过 Verifications 观测）
type Validator struct {
	cfg    config.JWTCfg
	cache  *CredentialCache
	keys   KeySource
	logger *slog.Logger
	now    func() time.Time

	verifications atomic.Int64
}

func NewValidator(cfg config.JWTCfg, cache *CredentialCache, keys KeySource, logger *slog.Logger) *Validator {
	if cache == nil {
		panic("auth: nil credential cache")
	}
	if keys == nil {
		panic("auth: nil key source")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		cfg:    cfg,
		cache:  cache,
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
}

// Verifications returns how many cryptographic verifications have run.
func (v *Validator) Verifications() int64 {
	return v.verifications.Load()
}

// Bypass reports whether the path skips validation entirely.
func (v *Validator) Bypass(path string) bool {
	return util.MatchPath(v.cfg.IgnorePaths, path)
}

// Validate checks the Authorization header of rc and returns the
// verified claims. On success it also populates rc with subject, roles
// and tenant for downstream stages. Failures are *Error (→ 401) or a
// key-source error (upstream unavailable).
func (v *Validator) Validate(ctx context.Context, rc *types.RequestContext) (*Claims, error) {
	raw, err := extractBearer(rc.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	now := v.now()
	fp := Fingerprint(raw)

	if claims, ok := v.cache.Get(fp, now); ok {
		if claims.Expired(now, v.cfg.ClockSkew()) {
			v.cache.Evict(fp)
			return nil, newError(ErrExpired, "token expired")
		}
		attach(rc, claims)
		return claims, nil
	}

	claims, err := v.verify(ctx, raw, now)
	if err != nil {
		return nil, err
	}

	// Never cache beyond the token's own validity.
	ttl := v.cfg.CacheTTL()
	if remain := claims.Expiry.Sub(now); remain < ttl {
		ttl = remain
	}
	v.cache.Put(fp, claims, ttl, now)

	attach(rc, claims)
	return claims, nil
}

// verify does the cryptographic work: signature against the current key
// set, exp with clock skew, iss equality.
func (v *Validator) verify(ctx context.Context, raw string, now time.Time) (*Claims, error) {
	tok, err := jwt.ParseSigned(raw)
	if err != nil {
		return nil, newError(ErrMalformed, "not a signed JWT")
	}

	kid := ""
	for _, h := range tok.Headers {
		if h.KeyID != "" {
			kid = h.KeyID
			break
		}
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, newError(ErrInvalidSignature, "unknown key id")
		}
		return nil, err
	}

	var std jwt.Claims
	var extra map[string]interface{}
	if err := tok.Claims(key, &std, &extra); err != nil {
		return nil, newError(ErrInvalidSignature, "signature verification failed")
	}
	v.verifications.Add(1)

	if std.Expiry == nil {
		return nil, newError(ErrMalformed, "missing exp claim")
	}
	expiry := std.Expiry.Time()
	if now.After(expiry.Add(v.cfg.ClockSkew())) {
		return nil, newError(ErrExpired, "token expired")
	}
	if std.Issuer != v.cfg.Issuer {
		return nil, newError(ErrIssuerMismatch, "unexpected issuer "+std.Issuer)
	}

	claims := &Claims{
		Subject:  std.Subject,
		Issuer:   std.Issuer,
		Expiry:   expiry,
		Username: stringClaim(extra, "username"),
		TenantID: stringClaim(extra, "tenant_id"),
		Roles:    stringsClaim(extra, "roles"),
		Extra:    extra,
	}
	if std.IssuedAt != nil {
		claims.IssuedAt = std.IssuedAt.Time()
	}
	return claims, nil
}

func attach(rc *types.RequestContext, claims *Claims) {
	rc.Authenticated = true
	rc.Subject = claims.Subject
	rc.Username = claims.Username
	rc.Roles = claims.Roles
	rc.TenantID = claims.TenantID
}

func extractBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", newError(ErrMalformed, "missing Authorization header")
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", newError(ErrMalformed, "authorization scheme is not Bearer")
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
	if raw == "" {
		return "", newError(ErrMalformed, "empty bearer token")
	}
	return raw, nil
}

func stringClaim(m map[string]interface{}, name string) string {
	if s, ok := m[name].(string); ok {
		return s
	}
	return ""
}

func stringsClaim(m map[string]interface{}, name string) []string {
	raw, ok := m[name].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
