// Package scoring derives a bounded churn-risk score from a user's event
// history. The computation is pure: for a fixed event set, profile, and
// reference time it always produces the same score and factors.
package scoring

import (
	"math"
	"time"

	"github.com/churnguard/churnguard/internal/event"
	"github.com/churnguard/churnguard/internal/profile"
)

const (
	weightRecency    = 0.30
	weightFrequency  = 0.20
	weightErrorRate  = 0.20
	weightEngagement = 0.20
	weightTenure     = 0.10

	// NeutralScore is returned when a user has no event history.
	NeutralScore = 0.5
)

const day = 24 * time.Hour

// Result is the outcome of a scoring pass.
type Result struct {
	Score   float64           `json:"riskScore"`
	Factors map[string]string `json:"riskFactors"`
}

// Compute scores a user from their event history (most recent first) and
// profile. prof may be nil when no profile exists yet. now is the reference
// time; callers pass time.Now() in production and a fixed instant in tests.
func Compute(events []*event.Event, prof *profile.Profile, now time.Time) Result {
	if len(events) == 0 {
		return Result{
			Score:   NeutralScore,
			Factors: map[string]string{"no_data": "No activity data available"},
		}
	}

	var (
		errorEvents      int
		engagementEvents int
		pageViews        int
		sessions         = make(map[string]struct{})
		lastEvent        = events[0].Timestamp
	)
	for _, e := range events {
		if e.Type.IsErrorClass() {
			errorEvents++
		}
		if e.Type.IsEngagement() {
			engagementEvents++
		}
		if e.Type == event.TypePageView {
			pageViews++
		}
		if e.SessionID != "" {
			sessions[e.SessionID] = struct{}{}
		}
		if e.Timestamp.After(lastEvent) {
			lastEvent = e.Timestamp
		}
	}

	daysSinceLast := now.Sub(lastEvent).Hours() / 24

	recency := clamp(daysSinceLast / 30)
	frequency := clamp(1 - float64(len(events))/100)
	errorRate := clamp(float64(errorEvents) / 10)
	engagement := clamp(1 - float64(engagementEvents)/50)

	tenure := NeutralScore
	tenureDays := -1.0
	if prof != nil {
		tenureDays = now.Sub(prof.FirstSeen).Hours() / 24
		tenure = clamp(1 - tenureDays/90)
	}

	score := recency*weightRecency +
		frequency*weightFrequency +
		errorRate*weightErrorRate +
		engagement*weightEngagement +
		tenure*weightTenure

	factors := map[string]string{}
	if daysSinceLast > 14 {
		factors["inactivity"] = "User has not been active for more than 2 weeks"
	}
	if len(events) < 5 {
		factors["low_engagement"] = "User has very few interactions"
	}
	if pageViews < 3 {
		factors["limited_exploration"] = "User has viewed very few pages"
	}
	if errorEvents > 3 {
		factors["error_prone"] = "User has encountered repeated errors"
	}
	if len(events) > 10 && len(sessions) < 2 {
		factors["single_session"] = "Activity is concentrated in a single session"
	}
	if tenureDays >= 0 && tenureDays < 7 {
		factors["new_user"] = "Account is less than a week old"
	}

	return Result{
		Score:   math.Round(clamp(score)*1000) / 1000, // 3 decimal places
		Factors: factors,
	}
}

func clamp(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}
