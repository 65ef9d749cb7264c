package scoring

import (
	"fmt"
	"testing"
	"time"

	"github.com/churnguard/churnguard/internal/event"
	"github.com/churnguard/churnguard/internal/profile"
)

var testNow = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

func makeEvents(n int, typ event.Type, at time.Time, sessionID string) []*event.Event {
	events := make([]*event.Event, n)
	for i := range events {
		events[i] = &event.Event{
			ID:        fmt.Sprintf("evt_%d", i),
			ClientID:  "cli_test",
			UserID:    "user-a",
			SessionID: sessionID,
			Type:      typ,
			Timestamp: at,
		}
	}
	return events
}

func TestComputeNoEvents(t *testing.T) {
	result := Compute(nil, nil, testNow)

	if result.Score != NeutralScore {
		t.Errorf("expected neutral score %v, got %v", NeutralScore, result.Score)
	}
	if _, ok := result.Factors["no_data"]; !ok {
		t.Errorf("expected no_data factor, got %v", result.Factors)
	}
}

func TestComputeStaleSinglePageView(t *testing.T) {
	// One page view 40 days ago: recency clamps to 1.0, frequency ~0.99,
	// engagement ~0.98. The combined score should land in the high-risk band.
	events := makeEvents(1, event.TypePageView, testNow.Add(-40*day), "sess_1")

	result := Compute(events, nil, testNow)

	if result.Score <= 0.6 {
		t.Errorf("expected high-risk score >0.6, got %v", result.Score)
	}
	if _, ok := result.Factors["inactivity"]; !ok {
		t.Errorf("expected inactivity factor, got %v", result.Factors)
	}
	if _, ok := result.Factors["limited_exploration"]; !ok {
		t.Errorf("expected limited_exploration factor, got %v", result.Factors)
	}
}

func TestComputeActiveTenuredUser(t *testing.T) {
	// 60 page views yesterday spread over several sessions, long-tenured
	// profile: every sub-factor sits at or near zero and no threshold fires.
	var events []*event.Event
	for i := 0; i < 60; i++ {
		events = append(events, &event.Event{
			ID:        fmt.Sprintf("evt_%d", i),
			ClientID:  "cli_test",
			UserID:    "user-a",
			SessionID: fmt.Sprintf("sess_%d", i%5),
			Type:      event.TypePageView,
			Timestamp: testNow.Add(-time.Duration(i) * time.Minute),
		})
	}
	prof := &profile.Profile{
		ClientID:   "cli_test",
		UserID:     "user-a",
		FirstSeen:  testNow.Add(-200 * day),
		LastActive: testNow,
	}

	result := Compute(events, prof, testNow)

	if result.Score > 0.15 {
		t.Errorf("expected score near 0, got %v", result.Score)
	}
	if len(result.Factors) != 0 {
		t.Errorf("expected no factors, got %v", result.Factors)
	}
}

func TestComputeDeterministic(t *testing.T) {
	events := makeEvents(7, event.TypeClick, testNow.Add(-3*day), "sess_1")
	prof := &profile.Profile{FirstSeen: testNow.Add(-20 * day)}

	a := Compute(events, prof, testNow)
	b := Compute(events, prof, testNow)

	if a.Score != b.Score {
		t.Errorf("scores differ: %v vs %v", a.Score, b.Score)
	}
	if len(a.Factors) != len(b.Factors) {
		t.Errorf("factors differ: %v vs %v", a.Factors, b.Factors)
	}
	for k, v := range a.Factors {
		if b.Factors[k] != v {
			t.Errorf("factor %q differs: %q vs %q", k, v, b.Factors[k])
		}
	}
}

func TestComputeScoreBounds(t *testing.T) {
	for _, n := range []int{0, 1, 5, 50, 500} {
		events := makeEvents(n, event.TypeError, testNow.Add(-100*day), "sess_1")
		result := Compute(events, nil, testNow)
		if result.Score < 0 || result.Score > 1 {
			t.Errorf("n=%d: score %v out of [0,1]", n, result.Score)
		}
	}
}

func TestComputeErrorProne(t *testing.T) {
	events := makeEvents(4, event.TypePromiseRejection, testNow.Add(-time.Hour), "sess_1")
	events = append(events, makeEvents(4, event.TypePageView, testNow.Add(-time.Hour), "sess_2")...)

	result := Compute(events, nil, testNow)

	if _, ok := result.Factors["error_prone"]; !ok {
		t.Errorf("expected error_prone factor, got %v", result.Factors)
	}
}

func TestComputeSingleSession(t *testing.T) {
	events := makeEvents(12, event.TypePageView, testNow.Add(-time.Hour), "sess_only")

	result := Compute(events, nil, testNow)

	if _, ok := result.Factors["single_session"]; !ok {
		t.Errorf("expected single_session factor, got %v", result.Factors)
	}
}

func TestComputeNewUser(t *testing.T) {
	events := makeEvents(6, event.TypePageView, testNow.Add(-time.Hour), "sess_1")
	events = append(events, makeEvents(6, event.TypeClick, testNow.Add(-2*time.Hour), "sess_2")...)
	prof := &profile.Profile{FirstSeen: testNow.Add(-2 * day)}

	result := Compute(events, prof, testNow)

	if _, ok := result.Factors["new_user"]; !ok {
		t.Errorf("expected new_user factor, got %v", result.Factors)
	}
}

func TestComputeUnknownProfileTenure(t *testing.T) {
	// Without a profile the tenure sub-factor defaults to neutral and the
	// new_user threshold cannot fire.
	events := makeEvents(20, event.TypePageView, testNow.Add(-time.Hour), "sess_1")
	events = append(events, makeEvents(20, event.TypeClick, testNow.Add(-time.Hour), "sess_2")...)

	result := Compute(events, nil, testNow)

	if _, ok := result.Factors["new_user"]; ok {
		t.Errorf("new_user should not fire without a profile: %v", result.Factors)
	}
}
