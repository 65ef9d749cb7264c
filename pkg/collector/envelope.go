package collector

import "time"

// Envelope is the normalized event record sent to the ingestion endpoint.
type Envelope struct {
	APIKey     string         `json:"api_key"`
	UserID     string         `json:"user_id,omitempty"`
	SessionID  string         `json:"session_id,omitempty"`
	EventType  string         `json:"event_type"`
	PageURL    string         `json:"page_url,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	EventID    string         `json:"event_id"`
	Timestamp  string         `json:"timestamp"`
}

// buildEnvelope shapes a raw observation into a wire envelope, stamping the
// active identity, session, page context, and an idempotency key. The
// caller's properties map is copied, never mutated; missing optional
// context (referrer, user agent) is simply absent.
func (c *Collector) buildEnvelope(eventType string, props map[string]any) *Envelope {
	merged := make(map[string]any, len(props)+2)
	for k, v := range props {
		merged[k] = v
	}
	if c.cfg.UserAgent != "" {
		merged["user_agent"] = c.cfg.UserAgent
	}

	c.mu.RLock()
	userID := c.userID
	sessionID := c.sessionID
	pageURL := c.pageURL
	if c.referrerURL != "" {
		merged["referrer"] = c.referrerURL
	}
	c.mu.RUnlock()

	return &Envelope{
		APIKey:     c.cfg.APIKey,
		UserID:     userID,
		SessionID:  sessionID,
		EventType:  eventType,
		PageURL:    pageURL,
		Properties: merged,
		EventID:    newEventID(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}
