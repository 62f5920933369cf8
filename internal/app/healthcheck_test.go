package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/specialistvlad/taskgrid/internal/ctxlog"
	"github.com/specialistvlad/taskgrid/internal/metrics"
)

func TestRouter(t *testing.T) {
	app := &App{ctx: ctxlog.Discard(context.Background())}
	metrics.CacheMisses.Inc()

	server := httptest.NewServer(app.router())
	defer server.Close()

	testCases := []struct {
		path     string
		status   int
		contains string
	}{
		{path: "/health", status: http.StatusOK, contains: "OK"},
		{path: "/metrics", status: http.StatusOK, contains: "taskgrid_cache_misses_total"},
		{path: "/missing", status: http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			resp, err := http.Get(server.URL + tc.path)
			require.NoError(t, err)
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Contains(t, string(body), tc.contains)
		})
	}
}

func TestHealthCheckServer_Disabled(t *testing.T) {
	app := &App{ctx: ctxlog.Discard(context.Background()), config: &Config{}}

	require.NoError(t, app.healthCheckServer())
	assert.Nil(t, app.httpServer)
	assert.NoError(t, app.closeHealthCheckServer())
}
