package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anthony/grpc-gateway/internal/apperr"
	"github.com/anthony/grpc-gateway/internal/registry"
)

type stubInvoker struct {
	resp *apperr.CallResponse
	got  apperr.CallRequest
}

func (s *stubInvoker) Invoke(ctx context.Context, req apperr.CallRequest) *apperr.CallResponse {
	s.got = req
	return s.resp
}

type stubRegistrar struct {
	endpoint string
	err      error
	got      registry.RegisterRequest
}

func (s *stubRegistrar) Register(ctx context.Context, req registry.RegisterRequest) (string, error) {
	s.got = req
	return s.endpoint, s.err
}

func TestHandleHealthz(t *testing.T) {
	srv := New(&stubInvoker{}, &stubRegistrar{}, nil, false)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleInvokeDecodesAndDelegates(t *testing.T) {
	invoker := &stubInvoker{resp: apperr.SuccessResponse(json.RawMessage(`{"ok":true}`))}
	srv := New(invoker, &stubRegistrar{}, nil, false)

	body := bytes.NewBufferString(`{"service":"demo.Greeter","method":"SayHello","data":{"name":"Ada"}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "demo.Greeter", invoker.got.Service)
	require.Equal(t, "SayHello", invoker.got.Method)
}

func TestHandleInvokeMalformedBodyIsBadRequest(t *testing.T) {
	srv := New(&stubInvoker{}, &stubRegistrar{}, nil, false)

	req := httptest.NewRequest(http.MethodPost, "/v1/invoke", bytes.NewBufferString(`not json`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterParsesPortAndOAuthConfig(t *testing.T) {
	registrar := &stubRegistrar{endpoint: "http://127.0.0.1:50051"}
	srv := New(&stubInvoker{}, registrar, nil, false)

	body := bytes.NewBufferString(`{
		"service_name": "demo.Greeter",
		"host": "127.0.0.1",
		"port": "50051",
		"oauth_config": {
			"kind": "bearer",
			"header_name": "Authorization",
			"access_token": "a",
			"refresh_token": "r",
			"expires_at_unix_secs": 123,
			"refresher": {"service_name": "demo.TokenService", "method": "Refresh"}
		}
	}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/services", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 50051, registrar.got.Port)
	require.NotNil(t, registrar.got.OAuthConfig)
	require.Equal(t, registry.KindBearer, registrar.got.OAuthConfig.Kind)
	require.Equal(t, "demo.TokenService", registrar.got.OAuthConfig.RefresherService)
}

func TestHandleRegisterRejectsNonNumericPort(t *testing.T) {
	srv := New(&stubInvoker{}, &stubRegistrar{}, nil, false)

	body := bytes.NewBufferString(`{"service_name":"demo.Greeter","host":"localhost","port":"not-a-number"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/services", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleRegisterPropagatesRegistrarError(t *testing.T) {
	registrar := &stubRegistrar{err: apperr.New(apperr.BadRequest, "service_name is required")}
	srv := New(&stubInvoker{}, registrar, nil, false)

	body := bytes.NewBufferString(`{"service_name":"demo.Greeter","host":"localhost","port":"1"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/services", body)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
