package match

import (
	"testing"
	"time"

	"github.com/tinkerbelle-io/tb-correlate/internal/event"
	"github.com/tinkerbelle-io/tb-correlate/internal/identity"
	"github.com/tinkerbelle-io/tb-correlate/internal/snapshot"
)

var (
	t0        = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	harborID  = identity.Resolved{Namespace: "harbor", ServiceAccount: "harbor-registry", Subject: "serviceaccount:harbor:harbor-registry"}
	harborEvt = event.AuditEvent{
		EventTime:        t0.Add(5 * time.Minute),
		EventName:        "GetObject",
		SourceAddress:    "10.0.1.5",
		PrincipalSubject: harborID.Subject,
	}
)

func harborRec(pod, addr string, start, end time.Time) snapshot.WorkloadRecord {
	return snapshot.WorkloadRecord{
		Namespace:      "harbor",
		ServiceAccount: "harbor-registry",
		PodName:        pod,
		PodAddress:     addr,
		WindowStart:    start,
		WindowEnd:      end,
	}
}

func snap(records ...snapshot.WorkloadRecord) *snapshot.Snapshot {
	return &snapshot.Snapshot{CollectedAt: t0.Add(30 * time.Minute), Records: records}
}

// Scenario A: identity, address, and window all corroborate.
func TestMatchExact(t *testing.T) {
	s := snap(harborRec("harbor-registry-x2kqp", "10.0.1.5", t0, t0.Add(time.Hour)))

	res := Matcher{}.Match(harborEvt, harborID, s)
	if res.Confidence != ConfidenceExact {
		t.Fatalf("confidence = %s, want exact", res.Confidence)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].PodName != "harbor-registry-x2kqp" {
		t.Errorf("candidates = %+v", res.Candidates)
	}
	if res.ManualReview {
		t.Error("single exact match should not need manual review")
	}
}

// Scenario B: identity and window match, address does not.
func TestMatchIdentityOnly(t *testing.T) {
	s := snap(harborRec("harbor-registry-x2kqp", "10.0.1.9", t0, t0.Add(time.Hour)))

	res := Matcher{}.Match(harborEvt, harborID, s)
	if res.Confidence != ConfidenceIdentityOnly {
		t.Fatalf("confidence = %s, want identity-only", res.Confidence)
	}
	if len(res.Candidates) != 1 {
		t.Errorf("got %d candidates, want 1", len(res.Candidates))
	}
}

// Scenario D: two records both active at the event time (bad input); both
// are returned and flagged, never arbitrarily reduced to one.
func TestMatchAmbiguousExactFlagged(t *testing.T) {
	s := snap(
		harborRec("pod-b", "10.0.1.5", t0, t0.Add(time.Hour)),
		harborRec("pod-a", "10.0.1.5", t0, t0.Add(time.Hour)),
	)

	res := Matcher{}.Match(harborEvt, harborID, s)
	if res.Confidence != ConfidenceExact {
		t.Fatalf("confidence = %s, want exact", res.Confidence)
	}
	if len(res.Candidates) != 2 {
		t.Fatalf("got %d candidates, want 2", len(res.Candidates))
	}
	if res.Candidates[0].PodName != "pod-a" || res.Candidates[1].PodName != "pod-b" {
		t.Errorf("candidates not ordered by pod name: %+v", res.Candidates)
	}
	if !res.ManualReview {
		t.Error("ambiguous exact match must be flagged for manual review")
	}
}

func TestMatchAddressOnly(t *testing.T) {
	// No record for the harbor identity; the source address belongs to a
	// different workload entirely.
	s := snap(snapshot.WorkloadRecord{
		Namespace:      "kube-system",
		ServiceAccount: "coredns",
		PodName:        "coredns-abc",
		PodAddress:     "10.0.1.5",
		WindowStart:    t0,
	})

	res := Matcher{}.Match(harborEvt, harborID, s)
	if res.Confidence != ConfidenceAddressOnly {
		t.Fatalf("confidence = %s, want address-only", res.Confidence)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].PodName != "coredns-abc" {
		t.Errorf("candidates = %+v", res.Candidates)
	}
	if len(res.Notes) == 0 {
		t.Error("address-only result must carry an explanatory note")
	}
}

func TestMatchNone(t *testing.T) {
	s := snap(snapshot.WorkloadRecord{
		Namespace:      "kube-system",
		ServiceAccount: "coredns",
		PodName:        "coredns-abc",
		PodAddress:     "10.0.9.9",
		WindowStart:    t0,
	})

	res := Matcher{}.Match(harborEvt, harborID, s)
	if res.Confidence != ConfidenceNone {
		t.Fatalf("confidence = %s, want none", res.Confidence)
	}
	if len(res.Candidates) != 0 {
		t.Errorf("candidates = %+v, want none", res.Candidates)
	}
}

// Identity matches exist but none cover the event time: never exact.
func TestMatchOutsideWindowNeverExact(t *testing.T) {
	s := snap(harborRec("harbor-registry-x2kqp", "10.0.1.5", t0.Add(-2*time.Hour), t0.Add(-time.Hour)))

	res := Matcher{}.Match(harborEvt, harborID, s)
	if res.Confidence == ConfidenceExact {
		t.Fatal("confidence exact without window coverage")
	}
	// The stale record still address-matches; it must surface as a
	// degraded address-only result, not vanish.
	if res.Confidence != ConfidenceAddressOnly {
		t.Errorf("confidence = %s, want address-only", res.Confidence)
	}
	if len(res.Candidates) != 1 || res.Candidates[0].PodName != "harbor-registry-x2kqp" {
		t.Errorf("candidates = %+v, want the stale record", res.Candidates)
	}
}

// Both degraded signals at once: identity-only primary, foreign address hit
// carried alongside rather than suppressed.
func TestMatchBothDegradedSignalsSurfaced(t *testing.T) {
	s := snap(
		harborRec("harbor-registry-x2kqp", "10.0.1.9", t0, t0.Add(time.Hour)),
		snapshot.WorkloadRecord{
			Namespace:      "default",
			ServiceAccount: "attacker",
			PodName:        "suspicious-pod",
			PodAddress:     "10.0.1.5",
			WindowStart:    t0,
		},
	)

	res := Matcher{}.Match(harborEvt, harborID, s)
	if res.Confidence != ConfidenceIdentityOnly {
		t.Fatalf("confidence = %s, want identity-only", res.Confidence)
	}
	if len(res.AddressHits) != 1 || res.AddressHits[0].PodName != "suspicious-pod" {
		t.Errorf("address hits = %+v", res.AddressHits)
	}
}

func TestMatchSlopWidensWindow(t *testing.T) {
	// Event lands 1s after the window closed.
	s := snap(harborRec("harbor-registry-x2kqp", "10.0.1.5", t0.Add(-time.Hour), harborEvt.EventTime.Add(-time.Second)))

	strict := Matcher{}.Match(harborEvt, harborID, s)
	if strict.Confidence == ConfidenceExact {
		t.Error("no slop: should not be exact")
	}

	slopped := Matcher{Slop: 2 * time.Second}.Match(harborEvt, harborID, s)
	if slopped.Confidence != ConfidenceExact {
		t.Errorf("with slop: confidence = %s, want exact", slopped.Confidence)
	}
}

func TestMatchNoSourceAddress(t *testing.T) {
	ev := harborEvt
	ev.SourceAddress = ""
	s := snap(harborRec("harbor-registry-x2kqp", "10.0.1.5", t0, t0.Add(time.Hour)))

	res := Matcher{}.Match(ev, harborID, s)
	if res.Confidence != ConfidenceIdentityOnly {
		t.Errorf("confidence = %s, want identity-only without address corroboration", res.Confidence)
	}
}
