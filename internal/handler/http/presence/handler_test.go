package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	online map[uuid.UUID]bool
}

func (s *stubChecker) IsOnline(ctx context.Context, identity uuid.UUID) (bool, error) {
	return s.online[identity], nil
}

func (s *stubChecker) GetOnline(ctx context.Context) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(s.online))
	for id, on := range s.online {
		if on {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func setupRouter(checker Checker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(checker)

	router := gin.New()
	router.GET("/v1/presence", handler.List)
	router.GET("/v1/presence/:userId", handler.Get)
	return router
}

func decodeData(t *testing.T, body []byte) map[string]interface{} {
	t.Helper()
	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &envelope))
	require.True(t, envelope.Success)
	return envelope.Data
}

func TestGet_ReportsOnlineState(t *testing.T) {
	online, offline := uuid.New(), uuid.New()
	router := setupRouter(&stubChecker{online: map[uuid.UUID]bool{online: true}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/presence/"+online.String(), nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w.Body.Bytes())
	assert.Equal(t, true, data["online"])
	assert.Equal(t, online.String(), data["user_id"])

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/v1/presence/"+offline.String(), nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	data = decodeData(t, w.Body.Bytes())
	assert.Equal(t, false, data["online"])
}

func TestGet_InvalidUserID(t *testing.T) {
	router := setupRouter(&stubChecker{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/presence/not-a-uuid", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestList_ReturnsOnlineIdentities(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	router := setupRouter(&stubChecker{online: map[uuid.UUID]bool{a: true, b: false}})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/presence", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w.Body.Bytes())
	got, ok := data["online"].([]interface{})
	require.True(t, ok)
	require.Len(t, got, 1)
	assert.Equal(t, a.String(), got[0])
}
