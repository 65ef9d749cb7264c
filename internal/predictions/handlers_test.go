package predictions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/churnguard/churnguard/internal/event"
	"github.com/churnguard/churnguard/internal/profile"
	"github.com/churnguard/churnguard/internal/tenant"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router   *gin.Engine
	key      string
	clientID string
	events   *event.MemoryStore
}

func setupRouter(t *testing.T) testEnv {
	t.Helper()

	tenants := tenant.NewMemoryStore()
	resolver := tenant.NewResolver(tenants)
	rawKey, client, err := resolver.Provision(context.Background(), "Acme")
	require.NoError(t, err)

	events := event.NewMemoryStore()
	svc := NewService(NewMemoryStore(), events, profile.NewMemoryStore(), 24*time.Hour, slog.Default())
	handler := NewHandler(svc, resolver)

	r := gin.New()
	handler.RegisterRoutes(&r.RouterGroup)
	return testEnv{router: r, key: rawKey, clientID: client.ID, events: events}
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPredictChurn_SingleUser(t *testing.T) {
	env := setupRouter(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, env.events.Insert(context.Background(), &event.Event{
			ID: fmt.Sprintf("evt_%d", i), ClientID: env.clientID,
			UserID: "user-a", SessionID: "sess_1",
			Type: event.TypePageView, Timestamp: time.Now().UTC(),
		}))
	}

	w := postJSON(env.router, "/predict-churn", gin.H{"api_key": env.key, "user_id": "user-a"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Prediction Prediction `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-a", resp.Prediction.UserID)
	assert.GreaterOrEqual(t, resp.Prediction.RiskScore, 0.0)
	assert.LessOrEqual(t, resp.Prediction.RiskScore, 1.0)
}

func TestPredictChurn_TenantList(t *testing.T) {
	env := setupRouter(t)

	// Seed two user predictions via the single-user path.
	for _, user := range []string{"user-a", "user-b"} {
		w := postJSON(env.router, "/predict-churn", gin.H{"api_key": env.key, "user_id": user})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := postJSON(env.router, "/predict-churn", gin.H{"api_key": env.key})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Predictions []Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Predictions, 2)
}

func TestPredictChurn_GetQueryParams(t *testing.T) {
	env := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/predict-churn?api_key="+env.key+"&user_id=user-a", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Prediction Prediction `json:"prediction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "user-a", resp.Prediction.UserID)
}

func TestPredictChurn_InvalidKey(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(env.router, "/predict-churn", gin.H{"api_key": "cg_bogus", "user_id": "user-a"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPredictChurn_MissingKey(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(env.router, "/predict-churn", gin.H{"user_id": "user-a"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPredictChurn_EmptyTenantList(t *testing.T) {
	env := setupRouter(t)

	w := postJSON(env.router, "/predict-churn", gin.H{"api_key": env.key})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"predictions":[]}`, w.Body.String())
}
