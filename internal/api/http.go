package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

import (
	"github.com/gorilla/mux"
)

import (
	"github.com/nanjiek/pixiu-gateway/internal/auth"
	"github.com/nanjiek/pixiu-gateway/internal/config"
	"github.com/nanjiek/pixiu-gateway/internal/gray"
	"github.com/nanjiek/pixiu-gateway/internal/pipeline"
	"github.com/nanjiek/pixiu-gateway/internal/types"
)

// RevocationPublisher fans revocations out to the fleet. Nil when the
// gateway runs without a shared store; local eviction still happens.
type RevocationPublisher interface {
	PublishRevocation(ctx context.Context, fingerprint string) error
}

type Server struct {
	cfg       config.ServerCfg
	chain     *pipeline.Chain
	gray      *gray.Router
	cache     *auth.CredentialCache
	publisher RevocationPublisher
	logger    *slog.Logger
	srv       *http.Server
}

func NewServer(cfg config.ServerCfg, chain *pipeline.Chain, grayRouter *gray.Router, cache *auth.CredentialCache, publisher RevocationPublisher, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		chain:     chain,
		gray:      grayRouter,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

func (s *Server) RegisterRoutes(r *mux.Router) {
	// Admin surface first so the gateway catch-all does not shadow it.
	r.HandleFunc("/v1/gray/weight", s.setWeightHandler).Methods(http.MethodPut)
	r.HandleFunc("/v1/gray/rules", s.getGrayHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/gray/rules", s.upsertRuleHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/auth/revoke", s.revokeHandler).Methods(http.MethodPost)

	// Everything else enters the traffic-control pipeline.
	r.PathPrefix("/").HandlerFunc(s.gatewayHandler)
}

func (s *Server) ListenAndServe() error {
	r := mux.NewRouter()
	s.RegisterRoutes(r)
	s.srv = &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// ---------------- Handlers ----------------

// gatewayHandler runs the pipeline and renders the terminal outcome:
// the forward decision for admitted requests, the rejecting status
// otherwise. Request/trace IDs are echoed on every response.
func (s *Server) gatewayHandler(w http.ResponseWriter, r *http.Request) {
	rc := types.FromRequest(r)
	out := s.chain.Run(r.Context(), rc)

	w.Header().Set("X-Request-Id", rc.RequestID)
	w.Header().Set("X-Trace-Id", rc.TraceID)
	for k, vals := range rc.ReplyHeaders {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	for k, v := range out.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "application/json")

	switch out.Kind {
	case types.OutcomeReject:
		w.WriteHeader(out.Status)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Code: out.Status, Message: out.Reason})
	case types.OutcomeRoute:
		w.Header().Set("X-Route-Target", out.Target)
		_ = json.NewEncoder(w).Encode(RouteResponse{
			Target:    out.Target,
			RequestID: rc.RequestID,
			TraceID:   rc.TraceID,
		})
	default:
		// A chain always terminates; Continue leaking out is a bug.
		errResp(w, http.StatusInternalServerError, "pipeline produced no terminal outcome")
	}
}

func (s *Server) setWeightHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.gray == nil {
		errResp(w, http.StatusNotFound, "gray routing is disabled")
		return
	}
	var req WeightRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.gray.SetWeight(req.Weight); err != nil {
		errResp(w, http.StatusBadRequest, err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "success", "weight": req.Weight})
}

func (s *Server) getGrayHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.gray == nil {
		errResp(w, http.StatusNotFound, "gray routing is disabled")
		return
	}
	weight, rules := s.gray.State()
	_ = json.NewEncoder(w).Encode(GrayStateResponse{Weight: weight, Rules: rules})
}

func (s *Server) upsertRuleHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.gray == nil {
		errResp(w, http.StatusNotFound, "gray routing is disabled")
		return
	}
	var rule config.GrayRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.gray.UpsertRule(rule); err != nil {
		errResp(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "success", "rule_id": rule.ID})
}

// revokeHandler evicts a credential immediately and, when a shared
// store is configured, publishes the fingerprint to the fleet.
func (s *Server) revokeHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.cache == nil {
		errResp(w, http.StatusNotFound, "jwt validation is disabled")
		return
	}
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	fp := req.Fingerprint
	if fp == "" && req.Token != "" {
		fp = auth.Fingerprint(req.Token)
	}
	if fp == "" {
		errResp(w, http.StatusBadRequest, "token or fingerprint is required")
		return
	}

	s.cache.Evict(fp)
	if s.publisher != nil {
		if err := s.publisher.PublishRevocation(r.Context(), fp); err != nil {
			s.logger.Warn("revocation publish failed, local eviction done", "err", err)
		}
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "success", "fingerprint": fp})
}

func errResp(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
