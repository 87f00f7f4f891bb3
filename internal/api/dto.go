package api

import (
	"github.com/nanjiek/pixiu-gateway/internal/config"
)

type RouteResponse struct {
	Target    string `json:"target"`
	RequestID string `json:"requestId"`
	TraceID   string `json:"traceId"`
}

type WeightRequest struct {
	Weight int `json:"weight"`
}

type GrayStateResponse struct {
	Weight int               `json:"weight"`
	Rules  []config.GrayRule `json:"rules"`
}

type RevokeRequest struct {
	Token       string `json:"token,omitempty"`       // raw token; fingerprint is derived
	Fingerprint string `json:"fingerprint,omitempty"` // pre-computed fingerprint
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
