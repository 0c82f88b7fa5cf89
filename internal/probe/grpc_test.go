package probe

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

type flag struct{ fresh atomic.Bool }

func (f *flag) Fresh() bool { return f.fresh.Load() }

func TestServingStatusFollowsFreshness(t *testing.T) {
	checker := &flag{}
	srv, err := Listen("127.0.0.1:0", checker, 10*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	conn, err := gogrpc.NewClient(srv.Addr(), gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	check := func(service string) grpc_health_v1.HealthCheckResponse_ServingStatus {
		callCtx, callCancel := context.WithTimeout(context.Background(), time.Second)
		defer callCancel()
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, check(ServiceName))

	checker.fresh.Store(true)
	assert.Eventually(t, func() bool {
		return check(ServiceName) == grpc_health_v1.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}

func TestListenRejectsBadAddr(t *testing.T) {
	_, err := Listen("not-an-addr", &flag{}, time.Second)
	assert.Error(t, err)
}
