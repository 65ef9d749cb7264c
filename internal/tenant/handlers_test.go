package tenant

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminSecret = "test-admin-secret-0123456789"

func setupRouter() (*gin.Engine, *MemoryStore) {
	store := NewMemoryStore()
	handler := NewHandler(NewResolver(store), store, testAdminSecret)

	r := gin.New()
	v1 := r.Group("/v1")
	handler.RegisterRoutes(v1)
	return r, store
}

func doRequest(r *gin.Engine, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateClient_Success(t *testing.T) {
	r, store := setupRouter()

	w := doRequest(r, http.MethodPost, "/v1/clients", gin.H{"name": "Acme"}, true)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp struct {
		Success bool   `json:"success"`
		APIKey  string `json:"apiKey"`
		Client  Client `json:"client"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.APIKey, "cg_")
	assert.Equal(t, "Acme", resp.Client.Name)

	stored, err := store.Get(t.Context(), resp.Client.ID)
	require.NoError(t, err)
	assert.Equal(t, HashKey(resp.APIKey), stored.KeyHash)
}

func TestCreateClient_MissingName(t *testing.T) {
	r, _ := setupRouter()
	w := doRequest(r, http.MethodPost, "/v1/clients", gin.H{}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateClient_NoAdminSecret(t *testing.T) {
	r, _ := setupRouter()
	w := doRequest(r, http.MethodPost, "/v1/clients", gin.H{"name": "Acme"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListClients(t *testing.T) {
	r, _ := setupRouter()
	_ = doRequest(r, http.MethodPost, "/v1/clients", gin.H{"name": "One"}, true)
	_ = doRequest(r, http.MethodPost, "/v1/clients", gin.H{"name": "Two"}, true)

	w := doRequest(r, http.MethodGet, "/v1/clients", nil, true)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Clients []Client `json:"clients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Clients, 2)
}
