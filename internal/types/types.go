package types

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Decision 限流判定结果
// 原位于limiter包，移至公共类型包避免循环依赖
type Decision struct {
	Allowed    bool          // 是否允许请求
	Remaining  int64         // 剩余可用令牌
	RetryAfter time.Duration // 建议重试时间
	Degraded   bool          // 是否处于本地退化模式
	Reason     string        // 判定原因
	Err        error         // 错误信息(如有)
}

// OutcomeKind tags the result of a pipeline stage.
type OutcomeKind int

const (
	OutcomeContinue OutcomeKind = iota // next stage may run
	OutcomeReject                      // terminal: reject with status
	OutcomeRoute                       // terminal: forward to target
)

// Outcome is the tagged result of a pipeline stage. It is terminal
// once Kind is OutcomeReject or OutcomeRoute.
type Outcome struct {
	Kind    OutcomeKind
	Status  int
	Reason  string
	Headers map[string]string
	Target  string
}

func Continue() Outcome {
	return Outcome{Kind: OutcomeContinue}
}

func Reject(status int, reason string, headers map[string]string) Outcome {
	return Outcome{Kind: OutcomeReject, Status: status, Reason: reason, Headers: headers}
}

func RouteTo(target string) Outcome {
	return Outcome{Kind: OutcomeRoute, Target: target}
}

// RequestContext 每请求上下文
// 在管道入口创建，仅被该次调用持有，响应后丢弃。
// 请求属性（方法/路径/IP/头部）在创建后只读；RequestID/TraceID 与
// 认证结果由对应阶段填充一次。
type RequestContext struct {
	Method    string
	Path      string
	ClientIP  string
	Header    http.Header
	Query     url.Values
	ArrivedAt time.Time

	// Assigned by the request-id stage.
	RequestID string
	TraceID   string

	// Populated by the auth stage on successful validation.
	Authenticated bool
	Subject       string
	Username      string
	Roles         []string
	TenantID      string

	// Headers the pipeline wants echoed on the response.
	ReplyHeaders http.Header
}

// FromRequest builds a RequestContext from an inbound request.
// Client IP resolution order: X-Forwarded-For (first hop), X-Real-IP,
// then RemoteAddr.
func FromRequest(r *http.Request) *RequestContext {
	return &RequestContext{
		Method:       r.Method,
		Path:         r.URL.Path,
		ClientIP:     clientIP(r),
		Header:       r.Header,
		Query:        r.URL.Query(),
		ArrivedAt:    time.Now(),
		RequestID:    strings.TrimSpace(r.Header.Get("X-Request-Id")),
		TraceID:      strings.TrimSpace(r.Header.Get("X-Trace-Id")),
		ReplyHeaders: http.Header{},
	}
}

// Cookie returns the named cookie value, or "".
func (rc *RequestContext) Cookie(name string) string {
	req := http.Request{Header: rc.Header}
	c, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
