// Package clientpool holds the process-wide mapping from upstream endpoint
// to a reusable dynamic-client handle: one gRPC channel plus the
// reflection.Manager that keeps its descriptor cache warm.
package clientpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/retry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/anthony/grpc-gateway/internal/metrics"
	"github.com/anthony/grpc-gateway/internal/reflection"
)

// retryOpts bounds transient-failure retries at the transport level, below
// the circuit breaker: a single flaky RPC is retried a couple of times
// before the breaker ever sees it as a failure, so the breaker's failure
// count reflects sustained unavailability rather than one dropped packet.
var retryOpts = []grpc_retry.CallOption{
	grpc_retry.WithMax(2),
	grpc_retry.WithBackoff(grpc_retry.BackoffLinear(50 * time.Millisecond)),
	grpc_retry.WithCodes(codes.Unavailable, codes.DeadlineExceeded),
}

// Handle is one endpoint's dialed channel and its live descriptor source.
type Handle struct {
	Endpoint   string
	Channel    *grpc.ClientConn
	Reflection *reflection.Manager
}

// Pool is safe for concurrent use. Readers never block on writers: a
// lookup takes a read lock for the constant-time map probe only.
type Pool struct {
	mu      sync.RWMutex
	handles map[string]*Handle

	log             *zap.Logger
	metrics         *metrics.Metrics
	refreshInterval time.Duration
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger attaches a logger passed through to every Manager this pool
// creates.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithMetrics attaches a metrics.Metrics passed through to every Manager
// this pool creates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithRefreshInterval overrides the descriptor refresh interval applied to
// every Manager this pool creates.
func WithRefreshInterval(d time.Duration) Option {
	return func(p *Pool) { p.refreshInterval = d }
}

// New creates an empty Pool.
func New(opts ...Option) *Pool {
	p := &Pool{
		handles:         make(map[string]*Handle),
		log:             zap.NewNop(),
		refreshInterval: reflection.DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreate returns the cached handle for endpoint, or dials a new
// channel and performs its initial reflection load. Dialing and the
// initial load happen outside any lock; a losing concurrent creator
// discards its own handle and adopts the winner's.
func (p *Pool) GetOrCreate(ctx context.Context, endpoint string) (*Handle, error) {
	p.mu.RLock()
	h, ok := p.handles[endpoint]
	p.mu.RUnlock()
	if ok {
		return h, nil
	}

	target, err := dialTarget(endpoint)
	if err != nil {
		return nil, err
	}

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithChainUnaryInterceptor(grpc_retry.UnaryClientInterceptor(retryOpts...)),
	)
	if err != nil {
		return nil, fmt.Errorf("clientpool: transport failure dialing %s: %w", endpoint, err)
	}

	mgr, err := reflection.New(ctx, conn,
		reflection.WithLogger(p.log),
		reflection.WithMetrics(p.metrics),
		reflection.WithEndpoint(endpoint),
		reflection.WithRefreshInterval(p.refreshInterval),
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("clientpool: initial reflection load for %s: %w", endpoint, err)
	}

	h = &Handle{Endpoint: endpoint, Channel: conn, Reflection: mgr}

	p.mu.Lock()
	if existing, ok := p.handles[endpoint]; ok {
		p.mu.Unlock()
		conn.Close()
		return existing, nil
	}
	p.handles[endpoint] = h
	p.mu.Unlock()

	return h, nil
}

// dialTarget strips the "http://" scheme the registry prefixes onto every
// endpoint; grpc.NewClient wants a bare host:port target.
func dialTarget(endpoint string) (string, error) {
	const prefix = "http://"
	if len(endpoint) <= len(prefix) || endpoint[:len(prefix)] != prefix {
		return "", fmt.Errorf("clientpool: endpoint %q missing expected http:// prefix", endpoint)
	}
	return endpoint[len(prefix):], nil
}
