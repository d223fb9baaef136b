package observability_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/chainstat/internal/observability"
)

var errStoreMissing = errors.New("store missing")

type healthBody struct {
	Status string   `json:"status"`
	Failed []string `json:"failed"`
}

func serve(t *testing.T, h http.Handler, path string) (int, healthBody) {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body healthBody

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	return rec.Code, body
}

func TestHealthHandler_ReturnsOK(t *testing.T) {
	t.Parallel()

	code, body := serve(t, observability.HealthHandler(), "/healthz")

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)
}

func TestReadyHandler(t *testing.T) {
	t.Parallel()

	pass := observability.ReadyCheck{Name: "config", Check: func(context.Context) error { return nil }}
	fail := observability.ReadyCheck{Name: "stores", Check: func(context.Context) error { return errStoreMissing }}

	code, body := serve(t, observability.ReadyHandler(), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body.Status)

	code, body = serve(t, observability.ReadyHandler(pass), "/readyz")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body.Failed)

	code, body = serve(t, observability.ReadyHandler(pass, fail), "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", body.Status)
	assert.Equal(t, []string{"stores"}, body.Failed)
}

func TestReadiness(t *testing.T) {
	t.Parallel()

	var r observability.Readiness

	handler := observability.ReadyHandler(r.Check("pipeline"))

	code, body := serve(t, handler, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, []string{"pipeline"}, body.Failed)

	r.Set(true)

	code, _ = serve(t, handler, "/readyz")
	assert.Equal(t, http.StatusOK, code)
}

func TestDiagnosticsServer_Endpoints(t *testing.T) {
	t.Parallel()

	metrics := http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(rw, "chainstat_up 1\n")
	})

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", metrics)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close(context.Background())) })

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req, reqErr := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+srv.Addr()+path, http.NoBody)
		require.NoError(t, reqErr)

		resp, getErr := http.DefaultClient.Do(req)
		require.NoError(t, getErr)

		resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestDiagnosticsServer_NoMetricsHandler(t *testing.T) {
	t.Parallel()

	srv, err := observability.NewDiagnosticsServer("127.0.0.1:0", nil)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, srv.Close(context.Background())) })

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+srv.Addr()+"/metrics", http.NoBody)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDiagnosticsServer_BadAddress(t *testing.T) {
	t.Parallel()

	_, err := observability.NewDiagnosticsServer("not-an-address", nil)
	require.Error(t, err)
}
