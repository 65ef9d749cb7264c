package tenant

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/churnguard/churnguard/internal/logging"
	"github.com/churnguard/churnguard/internal/validation"
)

// Handler provides HTTP endpoints for client provisioning.
type Handler struct {
	resolver    *Resolver
	store       Store
	adminSecret string
}

// NewHandler creates a new tenant handler.
func NewHandler(resolver *Resolver, store Store, adminSecret string) *Handler {
	return &Handler{resolver: resolver, store: store, adminSecret: adminSecret}
}

// RegisterRoutes sets up the admin-only client management routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/clients", h.RequireAdmin(), h.CreateClient)
	r.GET("/clients", h.RequireAdmin(), h.ListClients)
}

// RequireAdmin guards provisioning routes with the X-Admin-Secret header.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := c.GetHeader("X-Admin-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(h.adminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Admin-Secret header required",
			})
			return
		}
		c.Next()
	}
}

// CreateClient handles POST /v1/clients (admin only).
// Returns the raw API key exactly once.
func (h *Handler) CreateClient(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name is required"})
		return
	}

	req.Name = validation.SanitizeString(req.Name, 200)

	rawKey, client, err := h.resolver.Provision(c.Request.Context(), req.Name)
	if err != nil {
		if err == ErrNameRequired {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "name is required"})
			return
		}
		logging.L(c.Request.Context()).Error("failed to provision client", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to create client"})
		return
	}

	logging.L(c.Request.Context()).Info("client provisioned", "client_id", client.ID, "name", client.Name)

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"client":  client,
		"apiKey":  rawKey,
		"warning": "Store this API key securely. It will not be shown again.",
	})
}

// ListClients handles GET /v1/clients (admin only).
func (h *Handler) ListClients(c *gin.Context) {
	clients, err := h.store.List(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to list clients", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list clients"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"clients": clients})
}
