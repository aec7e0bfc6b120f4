package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthony/grpc-gateway/internal/auth"
	"github.com/anthony/grpc-gateway/internal/breaker"
)

type stubRefresher struct {
	result auth.RefreshResult
	err    error
}

func (s *stubRefresher) RefreshToken(ctx context.Context, endpoint, service, method, refreshToken string) (auth.RefreshResult, error) {
	return s.result, s.err
}

func testBreakerConfig() breaker.Config {
	return breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, HalfOpenMaxCalls: 1}
}

func TestRegisterBuildsHTTPEndpointFromHostAndPort(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())

	endpoint, err := r.Register(context.Background(), RegisterRequest{ServiceName: "demo.Greeter", Host: "127.0.0.1", Port: 50051})
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:50051", endpoint)

	cfg, ok := r.Discover("demo.Greeter")
	require.True(t, ok)
	require.Equal(t, endpoint, cfg.Endpoint)
	require.Nil(t, cfg.Auth)
	require.NotNil(t, cfg.Breaker)
}

func TestRegisterRejectsEmptyServiceName(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())
	_, err := r.Register(context.Background(), RegisterRequest{Host: "localhost", Port: 1})
	require.Error(t, err)
}

func TestRegisterAPIKeyCredentialNeverContactsRefresher(t *testing.T) {
	r := New(&stubRefresher{err: context.DeadlineExceeded}, testBreakerConfig())
	_, err := r.Register(context.Background(), RegisterRequest{
		ServiceName: "demo.Greeter",
		Host:        "localhost",
		Port:        1,
		OAuthConfig: &OAuthConfig{Kind: KindAPIKey, HeaderName: "X-Api-Key", APIKeyValue: "secret"},
	})
	require.NoError(t, err)
}

func TestRegisterBearerCredentialValidatesAtRegistrationTime(t *testing.T) {
	refresher := &stubRefresher{err: context.DeadlineExceeded}
	r := New(refresher, testBreakerConfig())

	_, err := r.Register(context.Background(), RegisterRequest{
		ServiceName: "demo.Greeter",
		Host:        "localhost",
		Port:        1,
		OAuthConfig: &OAuthConfig{
			Kind:              KindBearer,
			ExpiresAtUnixSecs: uint64(time.Now().Add(-time.Hour).Unix()),
			RefresherService:  "demo.TokenService",
			RefresherMethod:   "Refresh",
		},
	})
	require.Error(t, err, "an already-expired bearer credential must fail registration if the refresher RPC fails")
	_, ok := r.Discover("demo.Greeter")
	require.False(t, ok, "a registration that fails validation must not be stored")
}

func TestRegisterBearerCredentialRequiresRefresherTarget(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())
	_, err := r.Register(context.Background(), RegisterRequest{
		ServiceName: "demo.Greeter",
		Host:        "localhost",
		Port:        1,
		OAuthConfig: &OAuthConfig{Kind: KindBearer},
	})
	require.Error(t, err)
}

func TestRegisterRejectsUnknownCredentialKind(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())
	_, err := r.Register(context.Background(), RegisterRequest{
		ServiceName: "demo.Greeter",
		Host:        "localhost",
		Port:        1,
		OAuthConfig: &OAuthConfig{Kind: "mystery"},
	})
	require.Error(t, err)
}

func TestDiscoverMissingServiceReturnsFalse(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())
	_, ok := r.Discover("nope")
	require.False(t, ok)
}

func TestUpdateAuthReplacesStoredCredential(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())
	_, err := r.Register(context.Background(), RegisterRequest{ServiceName: "demo.Greeter", Host: "localhost", Port: 1})
	require.NoError(t, err)

	r.UpdateAuth("demo.Greeter", &auth.APIKey{HeaderNameValue: "X-Api-Key", APIKeyValue: "rotated"})

	cfg, ok := r.Discover("demo.Greeter")
	require.True(t, ok)
	require.Equal(t, "rotated", cfg.Auth.Value())
}

func TestUpdateAuthOnUnknownServiceIsANoop(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())
	require.NotPanics(t, func() {
		r.UpdateAuth("nope", &auth.APIKey{})
	})
}

func TestRegisterOverwritesExistingEntry(t *testing.T) {
	r := New(&stubRefresher{}, testBreakerConfig())
	_, err := r.Register(context.Background(), RegisterRequest{ServiceName: "demo.Greeter", Host: "127.0.0.1", Port: 1})
	require.NoError(t, err)

	endpoint, err := r.Register(context.Background(), RegisterRequest{ServiceName: "demo.Greeter", Host: "127.0.0.1", Port: 2})
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:2", endpoint)

	cfg, ok := r.Discover("demo.Greeter")
	require.True(t, ok)
	require.Equal(t, endpoint, cfg.Endpoint)
}
