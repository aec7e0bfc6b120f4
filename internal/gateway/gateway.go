// Package gateway is the facade: the single Invoke entry point that ties
// the service registry, client pool, circuit breaker, and invocation
// engine together into one call, and classifies the outcome into the
// external envelope.
package gateway

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/anthony/grpc-gateway/internal/apperr"
	"github.com/anthony/grpc-gateway/internal/clientpool"
	"github.com/anthony/grpc-gateway/internal/invoke"
	"github.com/anthony/grpc-gateway/internal/metrics"
	"github.com/anthony/grpc-gateway/internal/registry"
)

// Gateway is the process-wide facade. It holds no state of its own beyond
// its collaborators, all passed in explicitly rather than retained as
// package-level globals.
type Gateway struct {
	registry *registry.Registry
	pool     *clientpool.Pool
	engine   *invoke.Engine
	metrics  *metrics.Metrics
	log      *zap.Logger
}

// New creates a Gateway. m may be nil, in which case invocations are not
// instrumented.
func New(reg *registry.Registry, pool *clientpool.Pool, engine *invoke.Engine, m *metrics.Metrics, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{registry: reg, pool: pool, engine: engine, metrics: m, log: log}
}

// Invoke implements the facade's invoke(request) -> CallResponse per §4.8.
func (g *Gateway) Invoke(ctx context.Context, req apperr.CallRequest) *apperr.CallResponse {
	requestID := uuid.NewString()
	log := g.log.With(zap.String("request_id", requestID), zap.String("service", req.Service), zap.String("method", req.Method))
	start := time.Now()

	resp := g.invoke(ctx, log, req)

	if g.metrics != nil {
		g.metrics.InvocationsTotal.WithLabelValues(req.Service, req.Method, strconv.Itoa(resp.StatusCode)).Inc()
		g.metrics.InvocationDuration.WithLabelValues(req.Service, req.Method).Observe(time.Since(start).Seconds())
	}
	return resp
}

func (g *Gateway) invoke(ctx context.Context, log *zap.Logger, req apperr.CallRequest) *apperr.CallResponse {
	cfg, ok := g.registry.Discover(req.Service)
	if !ok {
		log.Info("service not registered")
		return apperr.FromError(apperr.ServiceNotRegisteredf(req.Service))
	}

	handle, err := g.pool.GetOrCreate(ctx, cfg.Endpoint)
	if err != nil {
		log.Warn("client pool failed to obtain a handle", zap.Error(err))
		return apperr.FromError(classifyConnectError(err))
	}

	var data json.RawMessage
	callErr := cfg.Breaker.Call(ctx, func(ctx context.Context) error {
		resp, err := g.engine.Invoke(ctx, handle, cfg.Auth, req.Service, req.Method, req.Data)
		if err != nil {
			return err
		}
		data = resp
		return nil
	})

	if callErr != nil {
		log.Info("call failed", zap.Error(callErr))
		return apperr.FromError(legacyCompatibilityReclassify(callErr))
	}

	log.Info("call succeeded")
	return apperr.SuccessResponse(data)
}

// classifyConnectError implements §4.8 step 2: a dial/initial-reflection
// failure whose text mentions transport becomes TransportFailure; anything
// else is a plain BadRequest carrying the error.
func classifyConnectError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "transport") {
		return apperr.Wrap(apperr.TransportFailure, "Unknown transport failure", err)
	}
	return apperr.New(apperr.BadRequest, err.Error())
}

// legacyCompatibilityReclassify is the documented string-contains
// compatibility hook from §4.8: classification is by Kind wherever
// possible, but a downstream status whose message still says "unavailable"
// or "transport error" after passing through layers that predate the Kind
// taxonomy is mapped to ServiceUnavailable rather than left as a generic
// failure.
func legacyCompatibilityReclassify(err error) error {
	if apperr.AsKind(err) != apperr.InternalServerError {
		return err
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "status: unavailable") || strings.Contains(msg, "transport error") {
		return apperr.Wrap(apperr.ServiceUnavailable, "upstream unavailable", err)
	}
	return err
}
