package control

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/GPT012/pyoz-orchestrator/internal/core/domain"
)

type stubController struct {
	snap    Snapshot
	stopped int
}

func (s *stubController) Snapshot() Snapshot { return s.snap }
func (s *stubController) RequestStop()       { s.stopped++ }

func TestServerHealth(t *testing.T) {
	tests := []struct {
		name   string
		status HealthStatus
		code   int
	}{
		{"healthy", StatusHealthy, http.StatusOK},
		{"degraded", StatusDegraded, http.StatusOK},
		{"critical", StatusCritical, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &stubController{snap: Snapshot{Status: tt.status}}
			rec := httptest.NewRecorder()
			NewServer(ctl, 0).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.code, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, string(tt.status), body["status"])
		})
	}
}

func TestServerStatus(t *testing.T) {
	block := uint64(42)
	ctl := &stubController{snap: Snapshot{
		RunID:       "run-1",
		Mode:        "database",
		Status:      StatusHealthy,
		EngineAlive: true,
		PID:         1234,
		Networks: []domain.NetworkStatus{
			{Network: "ethereum_mainnet", LastProcessedBlock: &block},
			{Network: "stellar_mainnet"},
		},
	}}
	rec := httptest.NewRecorder()
	NewServer(ctl, 0).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-1", got.RunID)
	require.Len(t, got.Networks, 2)
	require.NotNil(t, got.Networks[0].LastProcessedBlock)
	assert.EqualValues(t, 42, *got.Networks[0].LastProcessedBlock)
	assert.Nil(t, got.Networks[1].LastProcessedBlock)
	assert.Contains(t, rec.Body.String(), `"last_processed_block":null`)
}

func TestServerStop(t *testing.T) {
	ctl := &stubController{}
	handler := NewServer(ctl, 0).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stop", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, ctl.stopped)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stop", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ctl.stopped)
}

func TestGRPCHealth(t *testing.T) {
	h := NewGRPCHealth()
	ctx := t.Context()

	status, err := h.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	h.SetServing(true)
	status, err = h.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	h.SetServing(false)
	status, err = h.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}
