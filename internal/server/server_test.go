package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"knowledge-agent-be/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterHealthRoutes(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	registerHealthRoutes(app)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	metrics.TurnsTotal.WithLabelValues("completed").Inc()
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentType), "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `agent_turns_total{status="completed"}`)
}
