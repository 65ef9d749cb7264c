// Package ingest implements the event ingestion endpoint and the async
// risk recomputation it triggers.
package ingest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/churnguard/churnguard/internal/event"
	"github.com/churnguard/churnguard/internal/logging"
	"github.com/churnguard/churnguard/internal/metrics"
	"github.com/churnguard/churnguard/internal/profile"
	"github.com/churnguard/churnguard/internal/realtime"
	"github.com/churnguard/churnguard/internal/tenant"
	"github.com/churnguard/churnguard/internal/validation"
)

// Handler serves the ingestion endpoint.
type Handler struct {
	resolver    *tenant.Resolver
	events      event.Store
	profiles    profile.Store
	dispatcher  *Dispatcher
	hub         *realtime.Hub
	significant map[string]bool
}

// NewHandler creates an ingestion handler. dispatcher and hub may be nil.
func NewHandler(resolver *tenant.Resolver, events event.Store, profiles profile.Store, dispatcher *Dispatcher, hub *realtime.Hub, significantEvents []string) *Handler {
	significant := make(map[string]bool, len(significantEvents))
	for _, t := range significantEvents {
		significant[t] = true
	}
	return &Handler{
		resolver:    resolver,
		events:      events,
		profiles:    profiles,
		dispatcher:  dispatcher,
		hub:         hub,
		significant: significant,
	}
}

// RegisterRoutes sets up the ingestion routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/track-event", h.TrackEvent)
}

type trackRequest struct {
	APIKey     string         `json:"api_key"`
	UserID     string         `json:"user_id"`
	SessionID  string         `json:"session_id"`
	EventType  string         `json:"event_type"`
	PageURL    string         `json:"page_url"`
	Properties map[string]any `json:"properties"`
	EventID    string         `json:"event_id"`
	Timestamp  string         `json:"timestamp"`
}

// TrackEvent handles POST /track-event.
//
// The client-supplied event_id doubles as an idempotency key: a retried
// envelope whose first attempt actually landed is acknowledged without
// writing a second row.
func (h *Handler) TrackEvent(c *gin.Context) {
	var req trackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.EventsRejectedTotal.WithLabelValues("malformed_body").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "malformed JSON body"})
		return
	}

	if req.APIKey == "" || req.EventType == "" {
		metrics.EventsRejectedTotal.WithLabelValues("missing_fields").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "api_key and event_type are required"})
		return
	}

	clientID, err := h.resolver.Resolve(c.Request.Context(), req.APIKey)
	if err != nil {
		metrics.EventsRejectedTotal.WithLabelValues("invalid_key").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": "invalid API key"})
		return
	}

	if !validation.IsValidEventType(req.EventType) {
		metrics.EventsRejectedTotal.WithLabelValues("invalid_event_type").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "event_type must be snake_case, max 64 chars"})
		return
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			metrics.EventsRejectedTotal.WithLabelValues("invalid_timestamp").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "timestamp must be RFC3339"})
			return
		}
		timestamp = parsed.UTC()
	}

	eventID := req.EventID
	if eventID == "" {
		// Legacy collectors don't send an idempotency key; mint one so the
		// row still has a stable identity.
		eventID = "evt_" + ulid.Make().String()
	}

	e := &event.Event{
		ID:         validation.SanitizeString(eventID, 64),
		ClientID:   clientID,
		UserID:     validation.SanitizeString(req.UserID, 255),
		SessionID:  validation.SanitizeString(req.SessionID, 255),
		Type:       event.Type(req.EventType),
		PageURL:    validation.SanitizeString(req.PageURL, validation.MaxStringLength),
		Properties: validation.SanitizeProperties(req.Properties),
		Timestamp:  timestamp,
	}

	if err := h.events.Insert(c.Request.Context(), e); err != nil {
		if errors.Is(err, event.ErrDuplicate) {
			// The first delivery attempt won the race; acknowledge so the
			// collector stops retrying.
			metrics.EventsDedupedTotal.Inc()
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}
		logging.L(c.Request.Context()).Error("failed to store event",
			"client_id", clientID, "event_type", req.EventType, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "failed to store event"})
		return
	}
	metrics.EventsIngestedTotal.WithLabelValues(req.EventType).Inc()

	if e.UserID != "" {
		if err := h.profiles.Touch(c.Request.Context(), clientID, e.UserID, timestamp); err != nil {
			// Profile recency is best-effort; the event itself is safe.
			logging.L(c.Request.Context()).Warn("failed to touch profile",
				"client_id", clientID, "user_id", e.UserID, "error", err)
		}
	}

	if h.hub != nil {
		h.hub.BroadcastEvent(clientID, map[string]any{
			"eventType": req.EventType,
			"userId":    e.UserID,
			"sessionId": e.SessionID,
			"pageUrl":   e.PageURL,
			"timestamp": timestamp.Format(time.RFC3339),
		})
	}

	if h.dispatcher != nil && h.significant[req.EventType] {
		h.dispatcher.Enqueue(clientID, e.UserID)
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
