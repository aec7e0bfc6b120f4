package gateway

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/anthony/grpc-gateway/internal/apperr"
	"github.com/anthony/grpc-gateway/internal/auth"
	"github.com/anthony/grpc-gateway/internal/breaker"
	"github.com/anthony/grpc-gateway/internal/clientpool"
	"github.com/anthony/grpc-gateway/internal/invoke"
	"github.com/anthony/grpc-gateway/internal/registry"
	"github.com/anthony/grpc-gateway/internal/testutil"
)

type noopRefresher struct{}

func (noopRefresher) RefreshToken(ctx context.Context, endpoint, service, method, refreshToken string) (auth.RefreshResult, error) {
	return auth.RefreshResult{}, nil
}

func newTestGateway(t *testing.T, breakerCfg breaker.Config) (*Gateway, *registry.Registry, string) {
	t.Helper()
	addr := testutil.StartEchoServer(t)

	pool := clientpool.New()
	engine := invoke.New(pool, nil)
	reg := registry.New(noopRefresher{}, breakerCfg)
	gw := New(reg, pool, engine, nil, nil)
	return gw, reg, addr
}

func registerDemo(t *testing.T, reg *registry.Registry, addr string) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), registry.RegisterRequest{
		ServiceName: "test.Greeter",
		Host:        host,
		Port:        port,
	})
	require.NoError(t, err)
}

func TestInvokeHappyPath(t *testing.T) {
	gw, reg, addr := newTestGateway(t, breaker.DefaultConfig())
	registerDemo(t, reg, addr)

	resp := gw.Invoke(context.Background(), apperr.CallRequest{
		Service: "test.Greeter",
		Method:  "SayHello",
		Data:    json.RawMessage(`{"name":"Ada"}`),
	})

	require.Equal(t, 200, resp.StatusCode)
	var decoded struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &decoded))
	require.Equal(t, "hello, Ada", decoded.Message)
}

func TestInvokeUnregisteredServiceReturnsServiceNotRegistered(t *testing.T) {
	gw, _, _ := newTestGateway(t, breaker.DefaultConfig())

	resp := gw.Invoke(context.Background(), apperr.CallRequest{Service: "nope.Service", Method: "Foo"})
	require.Equal(t, 400, resp.StatusCode)
	require.Contains(t, resp.Message, "nope.Service is not register, please register the service")
}

func TestInvokeBreakerOpensAfterRepeatedFailures(t *testing.T) {
	cfg := breaker.Config{FailureThreshold: 2, RecoveryTimeout: time.Hour, HalfOpenMaxCalls: 1}
	gw, reg, addr := newTestGateway(t, cfg)
	registerDemo(t, reg, addr)

	for i := 0; i < 2; i++ {
		resp := gw.Invoke(context.Background(), apperr.CallRequest{Service: "test.Greeter", Method: "NoSuchMethod"})
		require.Equal(t, 400, resp.StatusCode)
	}

	resp := gw.Invoke(context.Background(), apperr.CallRequest{Service: "test.Greeter", Method: "SayHello", Data: json.RawMessage(`{"name":"Ada"}`)})
	require.Equal(t, 503, resp.StatusCode, "breaker must refuse even a well-formed call once open")
}

func TestInvokeTransportFailureAgainstUnreachableEndpoint(t *testing.T) {
	gw, reg, _ := newTestGateway(t, breaker.DefaultConfig())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), registry.RegisterRequest{ServiceName: "dead.Service", Host: host, Port: port})
	require.NoError(t, err)

	resp := gw.Invoke(context.Background(), apperr.CallRequest{Service: "dead.Service", Method: "Anything"})
	require.Equal(t, 502, resp.StatusCode)
	require.Equal(t, "Unknown transport failure", resp.Message)
}

func TestInvokeBearerRefreshAttachesNewTokenAndSucceeds(t *testing.T) {
	gw, reg, addr := newTestGateway(t, breaker.DefaultConfig())
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	_, err = reg.Register(context.Background(), registry.RegisterRequest{
		ServiceName: "test.Greeter",
		Host:        host,
		Port:        port,
		OAuthConfig: &registry.OAuthConfig{
			Kind:              registry.KindBearer,
			HeaderName:        "Authorization",
			AccessToken:       "stale-token",
			RefreshToken:      "old-refresh-token",
			ExpiresAtUnixSecs: uint64(time.Now().Add(-time.Hour).Unix()),
			RefresherService:  "test.TokenService",
			RefresherMethod:   "Refresh",
		},
	})
	require.NoError(t, err)

	resp := gw.Invoke(context.Background(), apperr.CallRequest{Service: "test.Greeter", Method: "SayHello", Data: json.RawMessage(`{"name":"Ada"}`)})
	require.Equal(t, 200, resp.StatusCode)

	cfg, ok := reg.Discover("test.Greeter")
	require.True(t, ok)
	require.Equal(t, "new-access-token", cfg.Auth.Value(), "a successful call must leave the refreshed access token attached to the service")
}

func TestInvokeBreakerRecoversAfterCooldown(t *testing.T) {
	cfg := breaker.Config{FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond, HalfOpenMaxCalls: 1}
	gw, reg, addr := newTestGateway(t, cfg)
	registerDemo(t, reg, addr)

	resp := gw.Invoke(context.Background(), apperr.CallRequest{Service: "test.Greeter", Method: "NoSuchMethod"})
	require.Equal(t, 400, resp.StatusCode)

	time.Sleep(20 * time.Millisecond)

	resp = gw.Invoke(context.Background(), apperr.CallRequest{Service: "test.Greeter", Method: "SayHello", Data: json.RawMessage(`{"name":"Ada"}`)})
	require.Equal(t, 200, resp.StatusCode, "a successful probe after cooldown must close the breaker")
}
