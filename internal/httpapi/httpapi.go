// Package httpapi exposes the gateway facade over plain net/http: the
// external surface is small (two JSON endpoints plus metrics and a health
// probe), so a router library has no work to do here that net/http's own
// mux can't; see DESIGN.md for the full justification.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/anthony/grpc-gateway/internal/apperr"
	"github.com/anthony/grpc-gateway/internal/registry"
)

// Invoker is the subset of gateway.Gateway this package depends on.
type Invoker interface {
	Invoke(ctx context.Context, req apperr.CallRequest) *apperr.CallResponse
}

// Registrar is the subset of registry.Registry this package depends on.
type Registrar interface {
	Register(ctx context.Context, req registry.RegisterRequest) (string, error)
}

// Server wires the facade and registry to HTTP handlers.
type Server struct {
	mux *http.ServeMux
}

// New builds a Server. metricsEnabled controls whether /metrics is mounted.
func New(gw Invoker, reg Registrar, log *zap.Logger, metricsEnabled bool) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("POST /v1/invoke", handleInvoke(gw, log))
	mux.HandleFunc("POST /v1/services", handleRegister(reg, log))
	if metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return &Server{mux: mux}
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.mux }

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func handleInvoke(gw Invoker, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req apperr.CallRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, apperr.FromError(apperr.New(apperr.BadRequest, "malformed request body")))
			return
		}
		resp := gw.Invoke(r.Context(), req)
		writeJSON(w, resp)
	}
}

func handleRegister(reg Registrar, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var extReq apperr.ServiceRegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&extReq); err != nil {
			writeJSON(w, apperr.FromError(apperr.New(apperr.BadRequest, "malformed request body")))
			return
		}

		regReq, err := toRegisterRequest(extReq)
		if err != nil {
			writeJSON(w, apperr.FromError(err))
			return
		}

		endpoint, err := reg.Register(r.Context(), regReq)
		if err != nil {
			log.Warn("registration failed", zap.String("service", extReq.ServiceName), zap.Error(err))
			writeJSON(w, apperr.FromError(err))
			return
		}

		writeJSON(w, apperr.SuccessResponse(mustJSON(map[string]string{"endpoint": endpoint})))
	}
}

func writeJSON(w http.ResponseWriter, resp *apperr.CallResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	json.NewEncoder(w).Encode(resp)
}

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// oauthConfigWire is the external JSON shape of the tagged Credential
// union, per the data model's ApiKey/BearerToken variants.
type oauthConfigWire struct {
	Kind              string `json:"kind"`
	HeaderName        string `json:"header_name"`
	Value             string `json:"value"`
	AccessToken       string `json:"access_token"`
	RefreshToken      string `json:"refresh_token"`
	ExpiresAtUnixSecs uint64 `json:"expires_at_unix_secs"`
	Refresher         struct {
		ServiceName string `json:"service_name"`
		Method      string `json:"method"`
	} `json:"refresher"`
}

func toRegisterRequest(ext apperr.ServiceRegisterRequest) (registry.RegisterRequest, error) {
	port, err := strconv.Atoi(ext.Port)
	if err != nil {
		return registry.RegisterRequest{}, apperr.Wrap(apperr.BadRequest, "port must be numeric", err)
	}

	req := registry.RegisterRequest{
		ServiceName:         ext.ServiceName,
		Host:                ext.Host,
		Port:                port,
		HealthCheckEndpoint: ext.HealthCheckEndpoint,
	}

	if len(ext.OAuthConfig) > 0 {
		var wire oauthConfigWire
		if err := json.Unmarshal(ext.OAuthConfig, &wire); err != nil {
			return registry.RegisterRequest{}, apperr.Wrap(apperr.BadRequest, "malformed oauth_config", err)
		}
		req.OAuthConfig = &registry.OAuthConfig{
			Kind:              wire.Kind,
			HeaderName:        wire.HeaderName,
			APIKeyValue:       wire.Value,
			AccessToken:       wire.AccessToken,
			RefreshToken:      wire.RefreshToken,
			ExpiresAtUnixSecs: wire.ExpiresAtUnixSecs,
			RefresherService:  wire.Refresher.ServiceName,
			RefresherMethod:   wire.Refresher.Method,
		}
	}

	return req, nil
}
