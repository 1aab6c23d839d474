package router

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go-relayer/internal/handlers"
	"go-relayer/internal/middleware"
	"go-relayer/internal/relayer"
	"go-relayer/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTrigger struct{}

func (stubTrigger) Trigger() (*relayer.PassResult, error) {
	return &relayer.PassResult{}, nil
}

func (stubTrigger) LastStatus() *services.PassStatus { return nil }

func testEngine(origins []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return SetupRouter(Dependencies{
		Admin:          handlers.NewAdminHandler(stubTrigger{}, logger),
		Health:         handlers.NewHealthHandler(nil),
		AdminSecret:    "secret",
		AllowedOrigins: origins,
		Logger:         logger,
	})
}

func get(r http.Handler, method, path string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "127.0.0.1:5000"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRouter_PublicRoutes(t *testing.T) {
	r := testEngine(nil)

	assert.Equal(t, http.StatusOK, get(r, http.MethodGet, "/ping", nil).Code)
	assert.Equal(t, http.StatusOK, get(r, http.MethodGet, "/health", nil).Code)

	w := get(r, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "relayer_")

	assert.Equal(t, http.StatusNotFound, get(r, http.MethodGet, "/nope", nil).Code)
}

func TestSetupRouter_AdminRoutesRequireToken(t *testing.T) {
	r := testEngine(nil)

	assert.Equal(t, http.StatusUnauthorized, get(r, http.MethodPost, "/api/admin/reconcile", nil).Code)

	token, err := middleware.IssueAdminToken("secret", "ops", time.Minute)
	require.NoError(t, err)
	w := get(r, http.MethodPost, "/api/admin/reconcile", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS(t *testing.T) {
	r := testEngine([]string{"https://app.example.com"})

	w := get(r, http.MethodOptions, "/api/requests", map[string]string{"Origin": "https://app.example.com"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	w = get(r, http.MethodGet, "/ping", map[string]string{"Origin": "https://evil.example.com"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	w = get(testEngine(nil), http.MethodGet, "/ping", map[string]string{"Origin": "https://any.example.com"})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
