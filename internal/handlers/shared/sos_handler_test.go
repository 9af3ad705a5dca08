package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bloodsos/internal/config"
	"bloodsos/internal/repositories/memory"
	"bloodsos/internal/services"
	"bloodsos/internal/utils"
	"bloodsos/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *utils.APIError `json:"error"`
	Meta   *utils.Meta     `json:"meta"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	log := logger.NewNop()
	cfg := &config.DispatchConfig{
		SearchRadiusKM:      10,
		FallbackETAMinutes:  15,
		LocationTTL:         30 * time.Minute,
		DonationGapDays:     90,
		DefaultHospitalName: "City Hospital",
	}

	index := memory.NewGeoIndex(time.Now)
	ledger := services.NewDispatchLedger(memory.NewSOSRequestRepository(), log)
	matcher := services.NewMatchEngine(index, cfg.SearchRadiusKM, log)
	fanout := services.NewNotificationFanout(nil, nil, services.FanoutConfig{Timeout: time.Second, Concurrency: 4}, nil, log)
	eta := services.NewETAService(nil, time.Second, cfg.FallbackETAMinutes, log)
	sosService := services.NewSOSService(cfg, ledger, matcher, fanout, eta, index, nil, log)

	sosHandler := NewSOSHandler(sosService)
	donorHandler := NewDonorHandler(sosService)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.POST("/sos/alerts", sosHandler.CreateAlert)
	v1.GET("/sos/alerts/:id", sosHandler.GetAlert)
	v1.POST("/sos/alerts/:id/close", sosHandler.CloseAlert)
	v1.GET("/sos/hospitals/:hospital_id/alerts", sosHandler.ListActiveAlerts)
	v1.POST("/sos/alerts/:id/responses", sosHandler.Respond)
	v1.POST("/sos/alerts/:id/location", sosHandler.UpdateLocation)
	v1.POST("/sos/alerts/:id/responses/:donor_id/arrive", sosHandler.MarkArrived)
	v1.POST("/sos/alerts/:id/responses/:donor_id/cancel", sosHandler.CancelResponse)
	v1.PUT("/donors/:donor_id/location", donorHandler.UpdateAvailability)
	v1.GET("/update-status/:hospital_id", sosHandler.LegacyListActive)
	v1.POST("/respond-to-call/:id", sosHandler.LegacyRespond)
	return router
}

func doJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func registerDonor(t *testing.T, router *gin.Engine, donorID string, lat, lng float64, bloodType string) {
	t.Helper()
	w := doJSON(router, http.MethodPut, "/api/v1/donors/"+donorID+"/location", map[string]interface{}{
		"lat": lat, "lng": lng, "blood_type": bloodType, "push_token": "tok-" + donorID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func createAlert(t *testing.T, router *gin.Engine, units int) string {
	t.Helper()
	w := doJSON(router, http.MethodPost, "/api/v1/sos/alerts", map[string]interface{}{
		"hospital_id":  "H1",
		"hospital_lat": 13.0827,
		"hospital_lng": 80.2707,
		"blood_type":   "o+",
		"units_needed": units,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result struct {
		RequestID      string `json:"request_id"`
		CandidateCount int    `json:"candidate_count"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	require.NotEmpty(t, result.RequestID)
	return result.RequestID
}

func TestCreateAlertMatchesNearbyDonors(t *testing.T) {
	router := newTestRouter(t)
	registerDonor(t, router, "near", 13.09, 80.28, "O+")
	registerDonor(t, router, "far", 13.60, 80.27, "O+")
	registerDonor(t, router, "wrong-type", 13.09, 80.28, "A+")

	w := doJSON(router, http.MethodPost, "/api/v1/sos/alerts", map[string]interface{}{
		"hospital_id":  "H1",
		"hospital_lat": 13.0827,
		"hospital_lng": 80.2707,
		"blood_type":   "O+",
		"units_needed": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var result struct {
		CandidateCount int `json:"candidate_count"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, 1, result.CandidateCount)
}

func TestCreateAlertValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodPost, "/api/v1/sos/alerts", map[string]interface{}{
		"hospital_id": "H1", "hospital_lat": 13.08, "blood_type": "O+", "units_needed": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts", map[string]interface{}{
		"hospital_id": "H1", "hospital_lat": 13.08, "hospital_lng": 80.27, "blood_type": "Z+", "units_needed": 1,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	env := decode(t, w)
	assert.Equal(t, "VALIDATION_ERROR", env.Error.Code)
	assert.Contains(t, env.Error.Details, "BloodType")

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts", map[string]interface{}{
		"hospital_id": "H1", "hospital_lat": 95.0, "hospital_lng": 80.27, "blood_type": "O+", "units_needed": 1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRespondFlow(t *testing.T) {
	router := newTestRouter(t)
	requestID := createAlert(t, router, 1)

	body := map[string]interface{}{"donor_id": "D1", "donor_lat": 13.09, "donor_lng": 80.28}
	w := doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/responses", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result struct {
		Status string `json:"status"`
		ETA    int    `json:"eta"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &result))
	assert.Equal(t, "success", result.Status)
	assert.Equal(t, 15, result.ETA)

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/responses", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_DONOR", decode(t, w).Error.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/location", map[string]interface{}{
		"donor_id": "D1", "lat": 13.085, "lng": 80.275,
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/responses/D1/arrive", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var request struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &request))
	assert.Equal(t, "FULFILLED", request.Status)
}

func TestCancelThenCloseRejectsResponses(t *testing.T) {
	router := newTestRouter(t)
	requestID := createAlert(t, router, 2)

	doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/responses", map[string]interface{}{
		"donor_id": "D1", "donor_lat": 13.09, "donor_lng": 80.28,
	})
	w := doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/responses/D1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/responses/D1/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+requestID+"/responses", map[string]interface{}{
		"donor_id": "D2", "donor_lat": 13.09, "donor_lng": 80.28,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "REQUEST_CLOSED", decode(t, w).Error.Code)
}

func TestGetAlertErrors(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodGet, "/api/v1/sos/alerts/not-an-id", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_REQUEST_ID", decode(t, w).Error.Code)

	w = doJSON(router, http.MethodGet, "/api/v1/sos/alerts/65f1c2d3e4b5a69788990011", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListActiveAlerts(t *testing.T) {
	router := newTestRouter(t)
	first := createAlert(t, router, 1)
	createAlert(t, router, 1)
	doJSON(router, http.MethodPost, "/api/v1/sos/alerts/"+first+"/close", nil)

	w := doJSON(router, http.MethodGet, "/api/v1/sos/hospitals/H1/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Meta)
	assert.Equal(t, 1, env.Meta.Count)

	w = doJSON(router, http.MethodGet, "/api/v1/sos/hospitals/H2/alerts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", string(decode(t, w).Data))
}

func TestLegacyRoutesKeepBareShapes(t *testing.T) {
	router := newTestRouter(t)
	requestID := createAlert(t, router, 1)

	w := doJSON(router, http.MethodPost, "/api/v1/respond-to-call/"+requestID, map[string]interface{}{
		"donor_id": "D1", "donor_lat": 13.09, "donor_lng": 80.28,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success","eta":15}`, w.Body.String())

	w = doJSON(router, http.MethodGet, "/api/v1/update-status/H1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var requests []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &requests))
	require.Len(t, requests, 1)
	assert.Equal(t, requestID, requests[0]["id"])
}

func TestUpdateAvailabilityValidation(t *testing.T) {
	router := newTestRouter(t)

	w := doJSON(router, http.MethodPut, "/api/v1/donors/D1/location", map[string]interface{}{
		"lat": 13.0, "lng": 80.0, "blood_type": "O+", "phone": "12345",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(router, http.MethodPut, "/api/v1/donors/D1/location", map[string]interface{}{
		"lat": 13.0, "lng": 80.0, "blood_type": "ab-", "phone": "+919876543210",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var location struct {
		BloodType string `json:"blood_type"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &location))
	assert.Equal(t, "AB-", location.BloodType)
}
