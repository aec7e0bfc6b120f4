// Package reflection owns the upstream channel for one registered service
// and drives the gRPC server reflection protocol to build and publish a
// descriptor.Cache for it. A Manager is created once per endpoint and lives
// for as long as that endpoint is registered.
package reflection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/grpcreflect"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/anthony/grpc-gateway/internal/descriptor"
	"github.com/anthony/grpc-gateway/internal/metrics"
)

// DefaultRefreshInterval is how often RefreshIfDue reloads descriptors when
// not forced, per spec.
const DefaultRefreshInterval = 5 * time.Minute

const reflectionServiceName = "grpc.reflection.v1.ServerReflection"

// Manager drives reflection-based schema discovery for one upstream
// channel and publishes the result as an immutable descriptor.Cache.
type Manager struct {
	channel         *grpc.ClientConn
	endpoint        string
	refreshInterval time.Duration
	log             *zap.Logger
	metrics         *metrics.Metrics

	cache       atomic.Pointer[descriptor.Cache]
	lastRefresh atomic.Pointer[time.Time]

	refreshMu sync.Mutex
	inflight  *refreshCall
}

type refreshCall struct {
	done chan struct{}
	err  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithRefreshInterval overrides DefaultRefreshInterval.
func WithRefreshInterval(d time.Duration) Option {
	return func(m *Manager) { m.refreshInterval = d }
}

// WithLogger attaches a logger; a no-op logger is used otherwise.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithMetrics attaches a metrics.Metrics to count refresh outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithEndpoint labels refresh metrics with endpoint's address.
func WithEndpoint(endpoint string) Option {
	return func(m *Manager) { m.endpoint = endpoint }
}

// New creates a Manager bound to channel and performs its initial
// reflection load. The returned error, if any, is the initial load's
// failure — there is no cache to fall back to yet.
func New(ctx context.Context, channel *grpc.ClientConn, opts ...Option) (*Manager, error) {
	m := &Manager{
		channel:         channel,
		refreshInterval: DefaultRefreshInterval,
		log:             zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := m.ForceRefresh(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Cache returns the currently published descriptor.Cache. Readers never
// block on an in-flight refresh: they observe either the previous or the
// new cache, never a torn one.
func (m *Manager) Cache() *descriptor.Cache {
	return m.cache.Load()
}

// RefreshIfDue refreshes only if the refresh interval has elapsed since the
// last successful refresh.
func (m *Manager) RefreshIfDue(ctx context.Context) error {
	last := m.lastRefresh.Load()
	if last != nil && time.Since(*last) < m.refreshInterval {
		return nil
	}
	return m.ForceRefresh(ctx)
}

// ForceRefresh refreshes unconditionally. Concurrent callers coalesce onto
// a single in-flight refresh rather than racing independent reflection
// round-trips against the same upstream.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	m.refreshMu.Lock()
	if call := m.inflight; call != nil {
		m.refreshMu.Unlock()
		<-call.done
		return call.err
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	m.refreshMu.Unlock()

	err := m.refresh(ctx)

	m.refreshMu.Lock()
	m.inflight = nil
	m.refreshMu.Unlock()

	call.err = err
	close(call.done)
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	var services []*desc.ServiceDescriptor

	op := func() error {
		svcs, err := m.loadServices(ctx)
		if err != nil {
			return err
		}
		services = svcs
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(100*time.Millisecond),
	), 2)

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		m.log.Warn("reflection refresh failed, keeping previous cache", zap.Error(err))
		m.recordRefresh("failure")
		return fmt.Errorf("reflection: refresh failed: %w", err)
	}

	newCache, err := descriptor.New(services)
	if err != nil {
		m.log.Warn("reflection refresh produced an invalid descriptor set, keeping previous cache", zap.Error(err))
		m.recordRefresh("failure")
		return err
	}

	m.cache.Store(newCache)
	now := time.Now()
	m.lastRefresh.Store(&now)
	m.recordRefresh("success")
	m.log.Info("descriptor cache refreshed",
		zap.String("generation", newCache.Generation()),
		zap.Int("services", len(newCache.ListServices())),
	)
	return nil
}

func (m *Manager) recordRefresh(outcome string) {
	if m.metrics == nil {
		return
	}
	m.metrics.DescriptorRefreshes.WithLabelValues(m.endpoint, outcome).Inc()
}

// loadServices performs steps 1-3 of the reflection protocol: list every
// service the upstream exposes, then resolve each one (which, in turn,
// pulls in and links every file descriptor that service transitively
// depends on).
func (m *Manager) loadServices(ctx context.Context) ([]*desc.ServiceDescriptor, error) {
	client := grpcreflect.NewClientAuto(ctx, m.channel)
	defer client.Reset()

	names, err := client.ListServices()
	if err != nil {
		return nil, fmt.Errorf("reflection: ListServices: %w", err)
	}

	services := make([]*desc.ServiceDescriptor, 0, len(names))
	for _, name := range names {
		if name == reflectionServiceName || name == "grpc.reflection.v1alpha.ServerReflection" {
			continue
		}
		sd, err := client.ResolveService(name)
		if err != nil {
			return nil, fmt.Errorf("reflection: FileContainingSymbol(%s): %w", name, err)
		}
		services = append(services, sd)
	}
	return services, nil
}
