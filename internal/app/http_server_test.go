package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/shoporder/internal/health"
	"github.com/vladislavdragonenkov/shoporder/internal/version"
)

func TestOpsRouter_Endpoints(t *testing.T) {
	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error { return nil }))
	srv := httptest.NewServer(newOpsRouter(healthHandler))
	t.Cleanup(srv.Close)

	tests := []struct {
		path     string
		wantCode int
		wantBody string
	}{
		{path: "/metrics", wantCode: http.StatusOK, wantBody: "go_goroutines"},
		{path: "/healthz", wantCode: http.StatusOK, wantBody: `"status":"healthy"`},
		{path: "/livez", wantCode: http.StatusOK, wantBody: "ok"},
		{path: "/readyz", wantCode: http.StatusOK, wantBody: "ready"},
		{path: "/version", wantCode: http.StatusOK, wantBody: `"version"`},
		{path: "/unknown", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			require.Equal(t, tt.wantCode, resp.StatusCode)
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			require.Contains(t, string(body), tt.wantBody)
		})
	}
}

func TestOpsRouter_ReadinessFailsWhenStorageIsDown(t *testing.T) {
	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func(context.Context) error {
		return errors.New("connection refused")
	}))
	srv := httptest.NewServer(newOpsRouter(healthHandler))
	t.Cleanup(srv.Close)

	for _, path := range []string{"/readyz", "/healthz"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, path)
	}

	resp, err := http.Get(srv.URL + "/livez")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartMetricsServer_StopsOnContextCancel(t *testing.T) {
	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())

	srv := startMetricsServer(ctx, addr, log.WithField("test", "http"), healthcheck.NewHandler(version.String()))
	require.NotNil(t, srv)

	url := "http://" + addr + "/livez"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		_, err := http.Get(url)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestShutdownHTTP_NilServer(_ *testing.T) {
	shutdownHTTP(nil, log.WithField("test", "http-nil"))
}
