// Package registry holds the process-wide mapping from service name to its
// ServiceConfig: endpoint, credential, and per-endpoint circuit breaker. It
// is created once at process startup and passed as an explicit dependency
// to the gateway facade, not retained as an ambient global.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthony/grpc-gateway/internal/apperr"
	"github.com/anthony/grpc-gateway/internal/auth"
	"github.com/anthony/grpc-gateway/internal/breaker"
)

// ServiceConfig is the registry's stored entry for one upstream.
type ServiceConfig struct {
	Endpoint    string
	ServiceName string
	Auth        auth.Credential // nil when unauthenticated
	Breaker     *breaker.Breaker
}

// RegisterRequest mirrors the external register() surface.
type RegisterRequest struct {
	ServiceName         string
	Host                string
	Port                int
	HealthCheckEndpoint string
	OAuthConfig         *OAuthConfig
}

// OAuthConfig describes a credential to validate and attach at
// registration time. Kind selects which Credential variant it produces.
type OAuthConfig struct {
	Kind string // "api_key" or "bearer"

	// api_key
	HeaderName  string
	APIKeyValue string

	// bearer
	AccessToken       string
	RefreshToken      string
	ExpiresAtUnixSecs uint64
	RefresherService  string
	RefresherMethod   string
}

const (
	KindAPIKey = "api_key"
	KindBearer = "bearer"
)

// Registry is safe for concurrent use. Its lock guards only constant-time
// map operations; it is never held across a refresher RPC.
type Registry struct {
	mu       sync.RWMutex
	services map[string]*ServiceConfig

	breakerCfg breaker.Config
	refresher  auth.Refresher
}

// New creates an empty Registry. refresher is used to validate bearer
// credentials at registration time (it drives the refresher RPC through
// the invocation engine); breakerCfg is applied to every breaker this
// registry creates.
func New(refresher auth.Refresher, breakerCfg breaker.Config) *Registry {
	return &Registry{
		services:   make(map[string]*ServiceConfig),
		breakerCfg: breakerCfg,
		refresher:  refresher,
	}
}

// Register validates req and, on success, inserts (overwriting any
// existing entry for the same service name) and returns the endpoint.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (string, error) {
	if req.ServiceName == "" {
		return "", apperr.New(apperr.BadRequest, "service_name is required")
	}

	endpoint := fmt.Sprintf("http://%s:%d", req.Host, req.Port)

	cred, err := r.buildCredential(req.OAuthConfig)
	if err != nil {
		return "", err
	}

	if bearer, ok := cred.(*auth.BearerToken); ok {
		result, err := r.refresher.RefreshToken(ctx, endpoint, bearer.Refresher.ServiceName, bearer.Refresher.Method, bearer.RefreshToken)
		if err != nil {
			return "", apperr.Wrap(apperr.Unauthorized, "bearer credential failed validation at registration", err)
		}
		bearer.AccessToken = result.AccessToken
		bearer.RefreshToken = result.RefreshToken
		bearer.ExpiresAtUnix = result.ExpiresAt
	}

	cfg := &ServiceConfig{
		Endpoint:    endpoint,
		ServiceName: req.ServiceName,
		Auth:        cred,
		Breaker:     breaker.New(r.breakerCfg, endpoint),
	}

	r.mu.Lock()
	r.services[req.ServiceName] = cfg
	r.mu.Unlock()

	return endpoint, nil
}

func (r *Registry) buildCredential(cfg *OAuthConfig) (auth.Credential, error) {
	if cfg == nil {
		return nil, nil
	}
	switch cfg.Kind {
	case KindAPIKey:
		return &auth.APIKey{HeaderNameValue: cfg.HeaderName, APIKeyValue: cfg.APIKeyValue}, nil
	case KindBearer:
		if cfg.RefresherService == "" || cfg.RefresherMethod == "" {
			return nil, apperr.New(apperr.BadRequest, "bearer credential requires a non-empty refresher service and method")
		}
		return auth.NewBearerToken(
			cfg.HeaderName,
			cfg.AccessToken,
			cfg.RefreshToken,
			cfg.ExpiresAtUnixSecs,
			auth.RefresherTarget{ServiceName: cfg.RefresherService, Method: cfg.RefresherMethod},
			nil,
		), nil
	default:
		return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("unknown credential kind %q", cfg.Kind))
	}
}

// Discover returns the registered config for service, or false if absent.
func (r *Registry) Discover(service string) (*ServiceConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.services[service]
	return cfg, ok
}

// UpdateAuth atomically replaces the stored credential for service. The
// bearer refresh path does not call it: a BearerToken stores newly issued
// tokens on itself, and the registry holds that same *BearerToken.
func (r *Registry) UpdateAuth(service string, cred auth.Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cfg, ok := r.services[service]; ok {
		cfg.Auth = cred
	}
}
