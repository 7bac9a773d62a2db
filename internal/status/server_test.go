package status

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeSentinel/internal/model"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func get(t *testing.T, r *gin.Engine, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestHealthReportsErrorStreak(t *testing.T) {
	streak := 0
	r := NewRouter(Deps{ErrorStreak: func() int { return streak }})

	code, body := get(t, r, "/healthz")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	streak = 2
	_, body = get(t, r, "/healthz")
	assert.Equal(t, "degraded", body["status"])
	assert.EqualValues(t, 2, body["consecutive_errors"])
}

func TestPositions(t *testing.T) {
	r := NewRouter(Deps{Positions: func() []model.Position {
		return []model.Position{{Code: "005930", Quantity: 10, State: model.StateHeld}}
	}})
	code, body := get(t, r, "/positions")
	require.Equal(t, http.StatusOK, code)
	list := body["positions"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "005930", list[0].(map[string]any)["code"])
}

func TestWatchlist(t *testing.T) {
	r := NewRouter(Deps{Watchlist: func() ([]model.WatchItem, error) { return nil, nil }})
	code, body := get(t, r, "/watchlist")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["watchlist"])

	r = NewRouter(Deps{Watchlist: func() ([]model.WatchItem, error) { return nil, errors.New("db locked") }})
	code, body = get(t, r, "/watchlist")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, body["error"], "db locked")
}

func TestTokenNeverExposesSecret(t *testing.T) {
	now := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	cred := model.Credential{Token: "secret-token", IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(22 * time.Hour)}
	r := NewRouter(Deps{
		Credential: func() (model.Credential, bool) { return cred, true },
		Now:        func() time.Time { return now },
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/token", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret-token")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["valid"])
	assert.EqualValues(t, 22*3600, body["remaining_seconds"])

	r = NewRouter(Deps{Credential: func() (model.Credential, bool) { return model.Credential{}, false }})
	_, body = get(t, r, "/token")
	assert.Equal(t, false, body["valid"])
}

func TestDisabledEndpoints(t *testing.T) {
	r := NewRouter(Deps{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/positions", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
