package ratelimit

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func startHealthServer(t *testing.T, cfg InterceptorConfig) healthpb.HealthClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(
		grpc.UnaryInterceptor(UnaryServerInterceptor(cfg)),
		grpc.StreamInterceptor(StreamServerInterceptor(cfg)),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return healthpb.NewHealthClient(conn)
}

func TestUnaryServerInterceptor(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 2, WindowSize: time.Minute})
	observer := &recordingObserver{}
	client := startHealthServer(t, InterceptorConfig{
		Limiter:  limiter,
		Policy:   "grpc",
		Observer: observer,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, DefaultKeyMetadata, "tenant-a")

	for i := 0; i < 2; i++ {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
	}

	var header metadata.MD
	_, err := client.Check(ctx, &healthpb.HealthCheckRequest{}, grpc.Header(&header))
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Contains(t, status.Convert(err).Message(), "rate limit exceeded")
	assert.Equal(t, []string{"90"}, header.Get("retry-after"))

	// A different tenant has its own quota.
	other := metadata.AppendToOutgoingContext(context.Background(), DefaultKeyMetadata, "tenant-b")
	_, err = client.Check(other, &healthpb.HealthCheckRequest{})
	assert.NoError(t, err)

	observer.mu.Lock()
	defer observer.mu.Unlock()
	assert.Len(t, observer.decisions, 4)
	assert.Equal(t, "grpc", observer.policies[0])
}

func TestUnaryServerInterceptor_ExcludedMethod(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 1, WindowSize: time.Minute})
	client := startHealthServer(t, InterceptorConfig{
		Limiter:         limiter,
		ExcludedMethods: []string{healthpb.Health_Check_FullMethodName},
	})

	for i := 0; i < 3; i++ {
		_, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, limiter.Len())
}

func TestStreamServerInterceptor(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{MaxRequestsPerKey: 1, WindowSize: time.Minute})
	client := startHealthServer(t, InterceptorConfig{Limiter: limiter})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := client.Watch(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	resp, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	denied, err := client.Watch(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	_, err = denied.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestMetadataKeyFunc(t *testing.T) {
	keyFunc := MetadataKeyFunc("x-tenant")

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-tenant", "acme"))
	assert.Equal(t, "acme", keyFunc(ctx, "/svc/Method"))

	assert.Empty(t, keyFunc(context.Background(), "/svc/Method"))
}
