package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(enabled bool) *gin.Engine {
	router := gin.New()
	group := router.Group("/", AuthRequired(enabled, testSecret, logger.NewNop()))
	group.POST("/alerts", RequireRole(utils.UserTypeHospital, utils.UserTypeAdmin), func(c *gin.Context) {
		userID, _ := c.Get(ContextUserID)
		c.JSON(http.StatusOK, gin.H{"user_id": userID})
	})
	group.PUT("/donors/:donor_id", RequireSelfOrRole("donor_id", utils.UserTypeAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func bearer(t *testing.T, userID, userType string) string {
	t.Helper()
	token, err := utils.GenerateToken(userID, userType, testSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func serve(router *gin.Engine, method, path, auth string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	router := newAuthRouter(true)

	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/alerts", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/alerts", "Token abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(router, http.MethodPost, "/alerts", "Bearer not-a-jwt").Code)

	w := serve(router, http.MethodPost, "/alerts", bearer(t, "H1", utils.UserTypeHospital))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"H1"`)

	token, err := utils.GenerateToken("H2", utils.UserTypeHospital, testSecret, time.Hour)
	require.NoError(t, err)
	w = serve(router, http.MethodPost, "/alerts?access_token="+token, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":"H2"`)
}

func TestRequireRole(t *testing.T) {
	router := newAuthRouter(true)

	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPost, "/alerts", bearer(t, "D1", utils.UserTypeDonor)).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/alerts", bearer(t, "A1", utils.UserTypeAdmin)).Code)
}

func TestRequireSelfOrRole(t *testing.T) {
	router := newAuthRouter(true)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPut, "/donors/D1", bearer(t, "D1", utils.UserTypeDonor)).Code)
	assert.Equal(t, http.StatusForbidden, serve(router, http.MethodPut, "/donors/D2", bearer(t, "D1", utils.UserTypeDonor)).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPut, "/donors/D2", bearer(t, "A1", utils.UserTypeAdmin)).Code)
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	router := newAuthRouter(false)

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/alerts", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPut, "/donors/D9", "").Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(router, http.MethodGet, "/", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get("X-Request-ID"))
}

func TestCORSMiddleware(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware([]string{"https://console.bloodsos.org"}))
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://console.bloodsos.org")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "https://console.bloodsos.org", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRateLimiter(t *testing.T) {
	limiter := NewRateLimiter(RateLimiterConfig{
		Rate:          "2-M",
		PerRouteRates: map[string]string{"/location": "3-M"},
		SkipPaths:     []string{"/health"},
	}, nil, logger.NewNop())

	router := gin.New()
	router.Use(limiter.Middleware())
	router.POST("/alerts", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/location", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/alerts", "").Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/alerts", "").Code)
	w := serve(router, http.MethodPost, "/alerts", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Separate bucket and a higher rate for the location route.
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/location", "").Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, serve(router, http.MethodPost, "/location", "").Code)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/health", "").Code)
	}
}
