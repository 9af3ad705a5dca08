package utils

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestAppErrorWrapKeepsIdentity(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("failed to load request: %w", ErrStoreUnavailable.Wrap(cause))

	assert.True(t, errors.Is(err, ErrStoreUnavailable))
	assert.True(t, errors.Is(err, cause))
	assert.False(t, errors.Is(err, ErrIndexUnavailable))
	assert.Equal(t, KindDependencyUnavailable, KindOf(err))
	assert.Nil(t, ErrStoreUnavailable.Err)
}

func TestStatusCodeForKind(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusCodeForKind(KindOf(ErrInvalidCoordinates)))
	assert.Equal(t, http.StatusNotFound, StatusCodeForKind(KindOf(ErrRequestNotFound)))
	assert.Equal(t, http.StatusConflict, StatusCodeForKind(KindOf(ErrDuplicateDonor)))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCodeForKind(KindOf(ErrStoreUnavailable)))
	assert.Equal(t, http.StatusInternalServerError, StatusCodeForKind(KindOf(errors.New("boom"))))
}

func TestHandleServiceError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	HandleServiceError(c, fmt.Errorf("failed to add response: %w", ErrRequestClosed))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "REQUEST_CLOSED")

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	HandleServiceError(c, errors.New("mongo: secret detail"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret detail")
}
