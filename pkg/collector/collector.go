// Package collector is the embeddable ChurnGuard client. A host
// application constructs one Collector per user session, forwards its UI
// events (navigation, clicks, form submits, errors) into it, and the
// collector batches them to the ingestion API with bounded concurrency
// and retry. All methods are safe for concurrent use.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const (
	defaultEndpoint          = "https://api.churnguard.io"
	defaultHeartbeatInterval = 60 * time.Second
	defaultRetryAttempts     = 3
	defaultRetryDelay        = time.Second
	defaultMaxInFlight       = 10
	defaultUserIDParam       = "uid"
)

// Config configures a Collector. APIKey is the only required field;
// tracking flags default to enabled when nil.
type Config struct {
	APIKey   string
	Endpoint string

	// Optional known identity. When empty the collector loads a stored
	// anonymous identity or mints a new one.
	UserID string

	TrackClicks     *bool
	TrackPageViews  *bool
	TrackForms      *bool
	TrackErrors     *bool
	IdentifyFromURL bool
	UserIDParam     string // query parameter read when IdentifyFromURL is set, default "uid"

	HeartbeatInterval time.Duration
	RetryAttempts     int
	RetryDelay        time.Duration
	MaxInFlight       int

	IdentityStore IdentityStore
	HTTPClient    *http.Client
	UserAgent     string
	Debug         bool
	Logger        *slog.Logger
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func (c *Config) trackClicks() bool    { return boolOr(c.TrackClicks, true) }
func (c *Config) trackPageViews() bool { return boolOr(c.TrackPageViews, true) }
func (c *Config) trackForms() bool     { return boolOr(c.TrackForms, true) }
func (c *Config) trackErrors() bool    { return boolOr(c.TrackErrors, true) }

// Prediction is the churn risk returned by the API for the current user.
type Prediction struct {
	UserID      string            `json:"userId"`
	RiskScore   float64           `json:"riskScore"`
	RiskFactors map[string]string `json:"riskFactors"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Collector captures product usage events and delivers them to the
// ChurnGuard ingestion API.
type Collector struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	identity   IdentityStore
	queue      *deliveryQueue
	logger     *slog.Logger

	mu          sync.RWMutex
	userID      string
	sessionID   string
	pageURL     string
	referrerURL string
	visible     bool
	startTime   time.Time

	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}
	closeOnce     sync.Once
}

// New builds a Collector and starts its delivery machinery. Events
// tracked before New returns an error are never silently invented; an
// empty API key is the one unrecoverable misconfiguration.
func New(cfg Config) (*Collector, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("collector: api key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = defaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if cfg.UserIDParam == "" {
		cfg.UserIDParam = defaultUserIDParam
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.IdentityStore == nil {
		cfg.IdentityStore = defaultIdentityStore()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "collector")

	c := &Collector{
		cfg:           cfg,
		endpoint:      cfg.Endpoint,
		httpClient:    cfg.HTTPClient,
		identity:      cfg.IdentityStore,
		logger:        logger,
		sessionID:     newSessionID(),
		visible:       true,
		startTime:     time.Now().UTC(),
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}

	c.userID = c.resolveIdentity(cfg.UserID)

	c.queue = newDeliveryQueue(c.sendEnvelope, cfg.MaxInFlight, cfg.RetryAttempts, cfg.RetryDelay)
	c.queue.Start()

	go c.heartbeatLoop()

	if cfg.Debug {
		c.logger.Debug("collector initialized", "userId", c.userID, "sessionId", c.sessionID)
	}
	return c, nil
}

// resolveIdentity picks the active user identity: an explicitly
// configured ID wins, then a previously stored one, then a fresh
// anonymous ID. Storage failures degrade to in-session identity only.
func (c *Collector) resolveIdentity(configured string) string {
	if configured != "" {
		if err := c.identity.Save(configured); err != nil {
			c.logger.Warn("identity store save failed", "error", err)
		}
		return configured
	}
	stored, err := c.identity.Load()
	if err != nil {
		c.logger.Warn("identity store load failed", "error", err)
	}
	if stored != "" {
		return stored
	}
	id := newAnonymousID()
	if err := c.identity.Save(id); err != nil {
		c.logger.Warn("identity store save failed", "error", err)
	}
	return id
}

// Track records a custom event. Properties are copied; the caller's map
// is never retained or mutated.
func (c *Collector) Track(eventType string, properties map[string]any) {
	if eventType == "" {
		return
	}
	env := c.buildEnvelope(eventType, properties)
	c.queue.Enqueue(env)
}

// Identify switches the collector to a known user identity. Events still
// waiting in the delivery queue are retagged so the whole session lands
// under the new identity, and an identify event records the transition.
func (c *Collector) Identify(userID string, traits map[string]any) {
	if userID == "" {
		return
	}

	c.mu.Lock()
	previous := c.userID
	c.userID = userID
	c.mu.Unlock()

	if previous == userID {
		return
	}

	if err := c.identity.Save(userID); err != nil {
		c.logger.Warn("identity store save failed", "error", err)
	}
	c.queue.RetagUser(userID)

	props := make(map[string]any, len(traits)+1)
	for k, v := range traits {
		props[k] = v
	}
	if previous != "" {
		props["previous_id"] = previous
	}
	c.Track("identify", props)
}

// UserID returns the active user identity.
func (c *Collector) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SessionID returns the active session identifier.
func (c *Collector) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// ResetSession starts a new session, for example after logout. The
// session clock restarts with it.
func (c *Collector) ResetSession() {
	c.mu.Lock()
	c.sessionID = newSessionID()
	c.startTime = time.Now().UTC()
	c.mu.Unlock()
}

// SetVisible tells the collector whether the page is currently visible.
// Heartbeats are suppressed while hidden so backgrounded tabs do not
// inflate session duration.
func (c *Collector) SetVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	c.mu.Unlock()
}

// GetPrediction fetches the current churn prediction for the active
// user, computing one server-side if the cached value has expired.
func (c *Collector) GetPrediction(ctx context.Context) (*Prediction, error) {
	c.mu.RLock()
	userID := c.userID
	c.mu.RUnlock()

	payload, err := json.Marshal(map[string]string{
		"api_key": c.cfg.APIKey,
		"user_id": userID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding prediction request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict-churn", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building prediction request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting prediction: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("prediction request failed: status %d: %s", resp.StatusCode, body)
	}

	var out struct {
		Prediction *Prediction `json:"prediction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding prediction response: %w", err)
	}
	if out.Prediction == nil {
		return nil, fmt.Errorf("prediction response missing body")
	}
	return out.Prediction, nil
}

// Close stops the heartbeat and shuts the delivery queue down. In-flight
// deliveries finish; everything still pending is discarded. Safe to call
// more than once, including concurrently.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.stopHeartbeat)
		<-c.heartbeatDone
		c.queue.Close()
	})
}

func (c *Collector) heartbeatLoop() {
	defer close(c.heartbeatDone)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopHeartbeat:
			return
		case <-ticker.C:
			c.emitHeartbeat()
		}
	}
}

func (c *Collector) emitHeartbeat() {
	c.mu.RLock()
	visible := c.visible
	start := c.startTime
	c.mu.RUnlock()

	if !visible {
		return
	}
	c.Track("heartbeat", map[string]any{
		"session_duration": int(time.Since(start).Seconds()),
	})
}

// Stats is a snapshot of the delivery queue's counters.
type Stats struct {
	Pending   int
	InFlight  int
	Delivered int64
	Dropped   int64
}

// Stats reports delivery progress, mostly for diagnostics and tests.
func (c *Collector) Stats() Stats {
	return Stats{
		Pending:   c.queue.PendingCount(),
		InFlight:  c.queue.InFlight(),
		Delivered: c.queue.Delivered(),
		Dropped:   c.queue.Dropped(),
	}
}

// IdentifyFromRequest applies a known identity carried in an incoming
// request's query string, when IdentifyFromURL is enabled. Server-side
// hosts call this where a browser client would read location.search.
func (c *Collector) IdentifyFromRequest(r *http.Request) {
	if r == nil || !c.cfg.IdentifyFromURL {
		return
	}
	if id := r.URL.Query().Get(c.cfg.UserIDParam); id != "" {
		c.Identify(id, nil)
	}
}

// maybeIdentifyFromURL applies a known identity carried in a landing
// page URL, e.g. from an email campaign link.
func (c *Collector) maybeIdentifyFromURL(rawURL string) {
	if !c.cfg.IdentifyFromURL {
		return
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	if id := u.Query().Get(c.cfg.UserIDParam); id != "" {
		c.Identify(id, nil)
	}
}

// sendEnvelope is the delivery queue's transport. Any non-2xx response
// counts as a failed attempt.
func (c *Collector) sendEnvelope(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/track-event", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delivering event: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("event delivery failed: status %d", resp.StatusCode)
	}
	return nil
}
