package routes

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloodsos/internal/config"
	handlers "bloodsos/internal/handlers/shared"
	"bloodsos/internal/middleware"
	"bloodsos/internal/repositories/memory"
	"bloodsos/internal/services"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "routes-secret"

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	cfg := &config.DispatchConfig{SearchRadiusKM: 10, FallbackETAMinutes: 15, LocationTTL: time.Hour, DefaultHospitalName: "City Hospital"}

	index := memory.NewGeoIndex(time.Now)
	ledger := services.NewDispatchLedger(memory.NewSOSRequestRepository(), log)
	sosService := services.NewSOSService(cfg, ledger,
		services.NewMatchEngine(index, cfg.SearchRadiusKM, log),
		services.NewNotificationFanout(nil, nil, services.FanoutConfig{}, nil, log),
		services.NewETAService(nil, time.Second, cfg.FallbackETAMinutes, log),
		index, nil, log)

	router := gin.New()
	v1 := router.Group("/api/v1")
	auth := middleware.AuthRequired(true, secret, log)
	SetupSOSRoutes(v1, handlers.NewSOSHandler(sosService), handlers.NewDonorHandler(sosService), auth)
	SetupLegacyRoutes(v1, handlers.NewSOSHandler(sosService), auth)
	return router
}

func call(t *testing.T, router *gin.Engine, method, path, userID, userType, body string) int {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := utils.GenerateToken(userID, userType, secret, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

const alertBody = `{"hospital_id":"H1","hospital_lat":13.08,"hospital_lng":80.27,"blood_type":"O+","units_needed":1}`

func TestAlertRoutesRequireHospital(t *testing.T) {
	router := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, call(t, router, http.MethodPost, "/api/v1/sos/alerts", "", "", alertBody))
	assert.Equal(t, http.StatusForbidden, call(t, router, http.MethodPost, "/api/v1/sos/alerts", "D1", utils.UserTypeDonor, alertBody))
	assert.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/api/v1/sos/alerts", "H1", utils.UserTypeHospital, alertBody))
	assert.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/api/v1/notify-service", "H1", utils.UserTypeHospital, alertBody))
	assert.Equal(t, http.StatusOK, call(t, router, http.MethodGet, "/api/v1/update-status/H1", "H1", utils.UserTypeHospital, ""))
}

func TestDonorRoutesRequireDonor(t *testing.T) {
	router := newRouter(t)
	respond := `{"donor_id":"D1","donor_lat":13.09,"donor_lng":80.28}`

	assert.Equal(t, http.StatusForbidden, call(t, router, http.MethodPost, "/api/v1/sos/alerts/65f1c2d3e4b5a69788990011/responses", "H1", utils.UserTypeHospital, respond))
	assert.Equal(t, http.StatusNotFound, call(t, router, http.MethodPost, "/api/v1/sos/alerts/65f1c2d3e4b5a69788990011/responses", "D1", utils.UserTypeDonor, respond))
	assert.Equal(t, http.StatusForbidden, call(t, router, http.MethodPost, "/api/v1/respond-to-call/65f1c2d3e4b5a69788990011", "H1", utils.UserTypeHospital, respond))
}

func TestDonorAvailabilityIsSelfService(t *testing.T) {
	router := newRouter(t)
	body := `{"lat":13.09,"lng":80.28,"blood_type":"O+"}`

	assert.Equal(t, http.StatusOK, call(t, router, http.MethodPut, "/api/v1/donors/D1/location", "D1", utils.UserTypeDonor, body))
	assert.Equal(t, http.StatusForbidden, call(t, router, http.MethodPut, "/api/v1/donors/D2/location", "D1", utils.UserTypeDonor, body))
}

func TestRoutesRejectActingForOthers(t *testing.T) {
	router := newRouter(t)
	require.Equal(t, http.StatusCreated, call(t, router, http.MethodPost, "/api/v1/sos/alerts", "H1", utils.UserTypeHospital, alertBody))
	alert := "/api/v1/sos/alerts/65f1c2d3e4b5a69788990011"

	tests := []struct {
		name     string
		method   string
		path     string
		userID   string
		userType string
		body     string
		want     int
	}{
		{"respond as another donor", http.MethodPost, alert + "/responses", "mallory", utils.UserTypeDonor, `{"donor_id":"victim","donor_lat":13.09,"donor_lng":80.28}`, http.StatusForbidden},
		{"legacy respond as another donor", http.MethodPost, "/api/v1/respond-to-call/65f1c2d3e4b5a69788990011", "mallory", utils.UserTypeDonor, `{"donor_id":"victim","donor_lat":13.09,"donor_lng":80.28}`, http.StatusForbidden},
		{"stream another donor's location", http.MethodPost, alert + "/location", "mallory", utils.UserTypeDonor, `{"donor_id":"victim","lat":13.09,"lng":80.28}`, http.StatusForbidden},
		{"cancel another donor's response", http.MethodPost, alert + "/responses/victim/cancel", "mallory", utils.UserTypeDonor, "", http.StatusForbidden},
		{"mark another donor arrived", http.MethodPost, alert + "/responses/victim/arrive", "mallory", utils.UserTypeDonor, "", http.StatusForbidden},
		{"list another hospital's alerts", http.MethodGet, "/api/v1/sos/hospitals/H1/alerts", "H2", utils.UserTypeHospital, "", http.StatusForbidden},
		{"legacy list another hospital's alerts", http.MethodGet, "/api/v1/update-status/H1", "H2", utils.UserTypeHospital, "", http.StatusForbidden},
		{"create alert for another hospital", http.MethodPost, "/api/v1/sos/alerts", "H2", utils.UserTypeHospital, alertBody, http.StatusForbidden},
		{"legacy create alert for another hospital", http.MethodPost, "/api/v1/notify-service", "H2", utils.UserTypeHospital, alertBody, http.StatusForbidden},

		{"own hospital list", http.MethodGet, "/api/v1/sos/hospitals/H1/alerts", "H1", utils.UserTypeHospital, "", http.StatusOK},
		{"admin lists any hospital", http.MethodGet, "/api/v1/sos/hospitals/H1/alerts", "ops", utils.UserTypeAdmin, "", http.StatusOK},
		{"admin responds for a donor", http.MethodPost, alert + "/responses", "ops", utils.UserTypeAdmin, `{"donor_id":"victim","donor_lat":13.09,"donor_lng":80.28}`, http.StatusNotFound},
		{"hospital confirms arrival", http.MethodPost, alert + "/responses/victim/arrive", "H1", utils.UserTypeHospital, "", http.StatusNotFound},
		{"donor cancels own response", http.MethodPost, alert + "/responses/mallory/cancel", "mallory", utils.UserTypeDonor, "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, call(t, router, tt.method, tt.path, tt.userID, tt.userType, tt.body))
		})
	}
}
