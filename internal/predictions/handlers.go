package predictions

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/churnguard/churnguard/internal/logging"
	"github.com/churnguard/churnguard/internal/tenant"
)

// Handler serves the prediction endpoint.
type Handler struct {
	service  *Service
	resolver *tenant.Resolver
}

// NewHandler creates a new predictions handler.
func NewHandler(service *Service, resolver *tenant.Resolver) *Handler {
	return &Handler{service: service, resolver: resolver}
}

// RegisterRoutes sets up the prediction routes. The endpoint accepts both
// POST (JSON body) and GET (query params) for easy dashboard embedding.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/predict-churn", h.PredictChurn)
	r.GET("/predict-churn", h.PredictChurn)
}

type predictRequest struct {
	APIKey string `json:"api_key" form:"api_key"`
	UserID string `json:"user_id" form:"user_id"`
}

// PredictChurn handles POST|GET /predict-churn.
//
// With a user_id it returns that user's current prediction, computing one
// if the cached prediction is stale. Without a user_id it returns the
// tenant's existing predictions ranked by risk, and never computes.
func (h *Handler) PredictChurn(c *gin.Context) {
	var req predictRequest
	if c.Request.Method == http.MethodGet {
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed query parameters"})
			return
		}
	} else {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed JSON body"})
			return
		}
	}

	if req.APIKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "api_key is required"})
		return
	}

	clientID, err := h.resolver.Resolve(c.Request.Context(), req.APIKey)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid API key"})
		return
	}

	if req.UserID == "" {
		preds, err := h.service.ListForClient(c.Request.Context(), clientID)
		if err != nil {
			logging.L(c.Request.Context()).Error("failed to list predictions", "client_id", clientID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to list predictions"})
			return
		}
		if preds == nil {
			preds = []*Prediction{}
		}
		c.JSON(http.StatusOK, gin.H{"predictions": preds})
		return
	}

	pred, err := h.service.Predict(c.Request.Context(), clientID, req.UserID, time.Now().UTC())
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to compute prediction",
			"client_id", clientID, "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to compute prediction"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"prediction": pred})
}
