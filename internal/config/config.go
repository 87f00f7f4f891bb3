package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"
)

import (
	"gopkg.in/yaml.v3"
)

// ServerCfg —— HTTP 服务端口/地址配置
type ServerCfg struct {
	HTTPAddr string `yaml:"httpAddr"` // 监听地址，例如 ":8080" 或 "0.0.0.0:8080"
}

// RedisCfg —— Redis 连接与命名空间配置
type RedisCfg struct {
	Addr              string   `yaml:"addr"`              // Redis address, e.g. "127.0.0.1:6379"
	Addrs             []string `yaml:"addrs"`             // Optional shard addresses
	Password          string   `yaml:"password"`          // Redis password
	DB                int      `yaml:"db"`                // Redis DB index
	Prefix            string   `yaml:"prefix"`            // Key prefix
	RevokeChannel     string   `yaml:"revokeChannel"`     // Pub/Sub channel for token revocations
	PoolSize          int      `yaml:"poolSize"`          // Connection pool size
	MinIdleConns      int      `yaml:"minIdleConns"`      // Minimum idle connections
	MaxRetries        int      `yaml:"maxRetries"`        // Command retry count
	ReadTimeoutMs     int      `yaml:"readTimeoutMs"`     // Read timeout (ms)
	WriteTimeoutMs    int      `yaml:"writeTimeoutMs"`    // Write timeout (ms)
	DialTimeoutMs     int      `yaml:"dialTimeoutMs"`     // Dial timeout (ms)
	DefaultTimeoutMs  int      `yaml:"defaultTimeoutMs"`  // Per-op timeout (ms)
}

// Enabled reports whether a shared store is configured at all.
func (r RedisCfg) Enabled() bool {
	return r.Addr != "" || len(r.Addrs) > 0
}

// JWTCfg —— 认证阶段配置
type JWTCfg struct {
	Enabled             bool     `yaml:"enabled"`             // 是否启用 JWT 校验
	IgnorePaths         []string `yaml:"ignorePaths"`         // 免认证路径（glob 匹配）
	CacheTTLSec         int      `yaml:"cacheTtl"`            // 已验证令牌缓存 TTL（秒）
	CacheMaxSize        int      `yaml:"cacheMaxSize"`        // 缓存条目上限
	ClockSkewSec        int      `yaml:"clockSkew"`           // exp 校验允许的时钟偏差（秒）
	JWKSUrl             string   `yaml:"jwksUrl"`             // JWKS endpoint
	Issuer              string   `yaml:"issuer"`              // 期望签发者
	JWKSRefreshSec      int      `yaml:"jwksRefreshInterval"` // 密钥集刷新间隔（秒）
	JWKSTimeoutMs       int      `yaml:"jwksTimeoutMs"`       // 密钥拉取超时（毫秒）
}

func (j JWTCfg) CacheTTL() time.Duration     { return time.Duration(j.CacheTTLSec) * time.Second }
func (j JWTCfg) ClockSkew() time.Duration    { return time.Duration(j.ClockSkewSec) * time.Second }
func (j JWTCfg) JWKSRefresh() time.Duration  { return time.Duration(j.JWKSRefreshSec) * time.Second }

// RateLimitCfg —— 限流阶段配置
type RateLimitCfg struct {
	Enabled         bool     `yaml:"enabled"`         // 是否启用限流
	DefaultRate     float64  `yaml:"defaultRate"`     // 令牌补充速率（个/秒）
	DefaultCapacity float64  `yaml:"defaultCapacity"` // 桶容量
	Distributed     bool     `yaml:"distributed"`     // 是否启用分布式层（需要 Redis）
	EnableFallback  bool     `yaml:"enableFallback"`  // 分布式层故障时是否本地退化
	FallbackRate    float64  `yaml:"fallbackRate"`    // 退化速率（个/秒，通常低于 defaultRate）
	KeyStrategy     []string `yaml:"keyStrategy"`     // 键解析顺序，如 ["user","ip","path","tenant"]
	Bucket          string   `yaml:"bucket"`          // 逻辑桶名
	StoreTimeoutMs  int      `yaml:"storeTimeoutMs"`  // 分布式层单次往返超时（毫秒）
}

// GrayRule —— 单条灰度路由规则
// 按 Priority 降序求值，首个命中的规则决定 Target。
type GrayRule struct {
	ID       string   `yaml:"id"       json:"id"`       // 规则唯一 ID
	Priority int      `yaml:"priority" json:"priority"` // higher wins
	Kind     string   `yaml:"kind"     json:"kind"`     // header | cookie | query | user | cidr
	Name     string   `yaml:"name"     json:"name"`     // header/cookie/query 名
	Value    string   `yaml:"value"    json:"value"`    // 期望值
	Prefix   bool     `yaml:"prefix"   json:"prefix"`   // 值前缀匹配（仅 header/cookie/query）
	Users    []string `yaml:"users"    json:"users"`    // user 规则的放行名单
	CIDRs    []string `yaml:"cidrs"    json:"cidrs"`    // cidr 规则的网段列表
	Target   string   `yaml:"target"   json:"target"`   // 命中后的目标版本，默认 "gray"
	Enabled  bool     `yaml:"enabled"  json:"enabled"`  // 是否启用
}

// GrayCfg —— 灰度路由配置
type GrayCfg struct {
	Enabled    bool       `yaml:"enabled"`    // 是否启用灰度路由
	Weight     int        `yaml:"weight"`     // 无规则命中时进入灰度的百分比 [0,100]
	Header     string     `yaml:"header"`     // 版本头名，默认 X-Gray-Version
	Cookie     string     `yaml:"cookie"`     // 版本 cookie 名，默认 gray_version
	QueryParam string     `yaml:"queryParam"` // 版本 query 参数名，默认 gray
	Rules      []GrayRule `yaml:"rules"`      // 显式规则
}

// Config —— 全量配置
type Config struct {
	Server    ServerCfg    `yaml:"server"`
	Redis     RedisCfg     `yaml:"redis"`
	JWT       JWTCfg       `yaml:"jwt"`
	RateLimit RateLimitCfg `yaml:"rateLimit"`
	Gray      GrayCfg      `yaml:"gray"`
}

// Load —— 从 YAML 文件加载配置并校验
// 校验失败即启动失败，绝不把配置错误留到请求期
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(b))
	var c Config
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, err
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "gw"
	}
	if c.Redis.RevokeChannel == "" {
		c.Redis.RevokeChannel = c.Redis.Prefix + ":revoked"
	}
	if c.JWT.CacheTTLSec <= 0 {
		c.JWT.CacheTTLSec = 300
	}
	if c.JWT.CacheMaxSize <= 0 {
		c.JWT.CacheMaxSize = 10000
	}
	if c.JWT.ClockSkewSec <= 0 {
		c.JWT.ClockSkewSec = 5
	}
	if c.JWT.JWKSRefreshSec <= 0 {
		c.JWT.JWKSRefreshSec = 300
	}
	if c.JWT.JWKSTimeoutMs <= 0 {
		c.JWT.JWKSTimeoutMs = 2000
	}
	if c.RateLimit.DefaultRate <= 0 {
		c.RateLimit.DefaultRate = 100
	}
	if c.RateLimit.DefaultCapacity <= 0 {
		c.RateLimit.DefaultCapacity = c.RateLimit.DefaultRate
	}
	if c.RateLimit.FallbackRate <= 0 {
		c.RateLimit.FallbackRate = c.RateLimit.DefaultRate / 10
		if c.RateLimit.FallbackRate <= 0 {
			c.RateLimit.FallbackRate = 1
		}
	}
	if len(c.RateLimit.KeyStrategy) == 0 {
		c.RateLimit.KeyStrategy = []string{"user", "ip", "path", "tenant"}
	}
	if c.RateLimit.Bucket == "" {
		c.RateLimit.Bucket = "default"
	}
	if c.RateLimit.StoreTimeoutMs <= 0 {
		c.RateLimit.StoreTimeoutMs = 100
	}
	if c.Gray.Header == "" {
		c.Gray.Header = "X-Gray-Version"
	}
	if c.Gray.Cookie == "" {
		c.Gray.Cookie = "gray_version"
	}
	if c.Gray.QueryParam == "" {
		c.Gray.QueryParam = "gray"
	}
	for i := range c.Gray.Rules {
		if c.Gray.Rules[i].Target == "" {
			c.Gray.Rules[i].Target = "gray"
		}
	}
}

// Validate checks the whole configuration. Any error here is fatal.
func (c *Config) Validate() error {
	if c.JWT.Enabled {
		if c.JWT.JWKSUrl == "" {
			return errors.New("jwt.jwksUrl is required when jwt.enabled")
		}
		if c.JWT.Issuer == "" {
			return errors.New("jwt.issuer is required when jwt.enabled")
		}
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.DefaultRate <= 0 || c.RateLimit.DefaultCapacity <= 0 {
			return errors.New("rateLimit.defaultRate and defaultCapacity must be positive")
		}
		if c.RateLimit.Distributed && !c.Redis.Enabled() {
			return errors.New("rateLimit.distributed requires redis.addr")
		}
		for _, s := range c.RateLimit.KeyStrategy {
			switch strings.ToLower(strings.TrimSpace(s)) {
			case "user", "ip", "path", "tenant":
			default:
				return fmt.Errorf("unknown rateLimit.keyStrategy entry: %q", s)
			}
		}
	}
	if c.Gray.Enabled {
		if c.Gray.Weight < 0 || c.Gray.Weight > 100 {
			return fmt.Errorf("gray.weight out of range [0,100]: %d", c.Gray.Weight)
		}
		for _, r := range c.Gray.Rules {
			if err := ValidateGrayRule(r); err != nil {
				return err
			}
		}
	}
	return nil
}

func ValidateGrayRule(r GrayRule) error {
	switch strings.ToLower(strings.TrimSpace(r.Kind)) {
	case "header", "cookie", "query":
		if r.Name == "" {
			return fmt.Errorf("gray rule %q: name is required for kind %s", r.ID, r.Kind)
		}
	case "user":
		if len(r.Users) == 0 {
			return fmt.Errorf("gray rule %q: users list is empty", r.ID)
		}
	case "cidr":
		if len(r.CIDRs) == 0 {
			return fmt.Errorf("gray rule %q: cidrs list is empty", r.ID)
		}
		for _, cidr := range r.CIDRs {
			if _, err := netip.ParsePrefix(cidr); err != nil {
				return fmt.Errorf("gray rule %q: bad cidr %q: %w", r.ID, cidr, err)
			}
		}
	default:
		return fmt.Errorf("gray rule %q: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}
