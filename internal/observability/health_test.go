package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func ok(ctx context.Context) (bool, error)   { return true, nil }
func down(ctx context.Context) (bool, error) { return false, errors.New("connection refused") }

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &status))
	return status
}

func TestHealthCheckHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthCheckHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	status := decodeStatus(t, rec)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "scribe-gateway", status.Service)
}

func TestReadinessHandler_AllHealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadinessHandler(Checks{"deepgram": ok, "database": ok, "openai": nil})(
		rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	status := decodeStatus(t, rec)
	assert.Equal(t, "ready", status.Status)
	assert.Len(t, status.Dependencies, 2)
	assert.Equal(t, "healthy", status.Dependencies["deepgram"].Status)
}

func TestReadinessHandler_Unhealthy(t *testing.T) {
	rec := httptest.NewRecorder()
	ReadinessHandler(Checks{"deepgram": ok, "database": down})(
		rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	status := decodeStatus(t, rec)
	assert.Equal(t, "not_ready", status.Status)
	assert.Equal(t, "unhealthy", status.Dependencies["database"].Status)
	assert.Equal(t, "connection refused", status.Dependencies["database"].Message)
}

func TestChecks_Names(t *testing.T) {
	assert.Equal(t, []string{"database", "deepgram", "openai"},
		Checks{"openai": ok, "deepgram": ok, "database": ok}.Names())
}

func TestGRPCHealthServer(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	checks := Checks{"deepgram": func(ctx context.Context) (bool, error) { return healthy.Load(), nil }}
	hs := NewGRPCHealthServer(checks, time.Hour)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hs.ServeListener(ctx, lis) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	require.Eventually(t, func() bool {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "scribe-gateway"})
		return err == nil && resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	}, 5*time.Second, 20*time.Millisecond)

	healthy.Store(false)
	assert.False(t, hs.Refresh(ctx))
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("gRPC health server did not stop")
	}
}
