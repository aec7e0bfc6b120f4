package reflection

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/anthony/grpc-gateway/internal/testutil"
)

func dialTestServer(t *testing.T) *grpc.ClientConn {
	t.Helper()
	addr := testutil.StartEchoServer(t)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestNewPerformsInitialLoad(t *testing.T) {
	conn := dialTestServer(t)
	m, err := New(context.Background(), conn)
	require.NoError(t, err)

	require.ElementsMatch(t, []string{"test.Greeter", "test.TokenService"}, m.Cache().ListServices())
}

func TestRefreshIfDueSkipsWithinInterval(t *testing.T) {
	conn := dialTestServer(t)
	m, err := New(context.Background(), conn, WithRefreshInterval(time.Hour))
	require.NoError(t, err)

	firstGen := m.Cache().Generation()
	require.NoError(t, m.RefreshIfDue(context.Background()))
	require.Equal(t, firstGen, m.Cache().Generation(), "refresh within the interval must not replace the cache")
}

func TestRefreshIfDueRefreshesOnceIntervalElapsed(t *testing.T) {
	conn := dialTestServer(t)
	m, err := New(context.Background(), conn, WithRefreshInterval(time.Millisecond))
	require.NoError(t, err)

	firstGen := m.Cache().Generation()
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, m.RefreshIfDue(context.Background()))
	require.NotEqual(t, firstGen, m.Cache().Generation(), "refresh after the interval must replace the cache")
	require.ElementsMatch(t, []string{"test.Greeter", "test.TokenService"}, m.Cache().ListServices())
}

func TestForceRefreshCoalescesConcurrentCallers(t *testing.T) {
	conn := dialTestServer(t)
	m, err := New(context.Background(), conn)
	require.NoError(t, err)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.ForceRefresh(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
}
