// Package match correlates resolved workload identities with cluster
// snapshot records, grading each result with an explicit confidence level.
//
// Confidence is never inflated: exact requires identity match AND address
// match AND the event time inside the observed window. Degraded results are
// advisory; ambiguity is surfaced for manual review, never resolved by
// guessing.
package match

import (
	"fmt"
	"sort"
	"time"

	"github.com/tinkerbelle-io/tb-correlate/internal/event"
	"github.com/tinkerbelle-io/tb-correlate/internal/identity"
	"github.com/tinkerbelle-io/tb-correlate/internal/snapshot"
)

// Confidence grades how strongly a matched workload is tied to an event.
type Confidence string

const (
	// ConfidenceExact: subject, address, and time window all corroborate.
	ConfidenceExact Confidence = "exact"
	// ConfidenceIdentityOnly: identity and window match, address does not.
	ConfidenceIdentityOnly Confidence = "identity-only"
	// ConfidenceAddressOnly: no identity match, but the source address maps
	// to a workload elsewhere in the snapshot. Possible identity spoofing
	// or snapshot staleness; reported prominently.
	ConfidenceAddressOnly Confidence = "address-only"
	// ConfidenceNone: nothing in the snapshot matches.
	ConfidenceNone Confidence = "none"
)

// Result is the outcome of matching one event against the snapshot.
// Non-exact results are advisory, never proof.
type Result struct {
	Event        event.AuditEvent           `json:"event"`
	Identity     *identity.Resolved         `json:"identity,omitempty"`
	Candidates   []snapshot.WorkloadRecord  `json:"candidates,omitempty"`
	Confidence   Confidence                 `json:"confidence"`
	ManualReview bool                       `json:"manual_review,omitempty"`

	// AddressHits carries source-address matches outside the identity
	// candidate set. Both degraded signals are surfaced side by side
	// rather than collapsed into one ranked answer.
	AddressHits []snapshot.WorkloadRecord `json:"address_hits,omitempty"`
	Notes       []string                  `json:"notes,omitempty"`
}

// Matcher matches events against a read-only snapshot.
type Matcher struct {
	// Slop widens observed-window boundaries when comparing event times.
	Slop time.Duration
}

// Match grades ev against the snapshot. The snapshot is treated as
// immutable for the duration of the call.
func (m Matcher) Match(ev event.AuditEvent, id identity.Resolved, snap *snapshot.Snapshot) Result {
	res := Result{Event: ev, Identity: &id, Confidence: ConfidenceNone}

	// Step 1: exact identity filter (case-sensitive).
	var identityCands []snapshot.WorkloadRecord
	for _, r := range snap.Records {
		if r.Namespace == id.Namespace && r.ServiceAccount == id.ServiceAccount {
			identityCands = append(identityCands, r)
		}
	}

	// Step 2: restrict to records active at the event time.
	var timeCands []snapshot.WorkloadRecord
	for _, r := range identityCands {
		if r.Contains(ev.EventTime, m.Slop) {
			timeCands = append(timeCands, r)
		}
	}

	// Step 3: prefer address corroboration.
	var exact []snapshot.WorkloadRecord
	if ev.SourceAddress != "" {
		for _, r := range timeCands {
			if r.PodAddress == ev.SourceAddress {
				exact = append(exact, r)
			}
		}
	}

	switch {
	case len(exact) > 0:
		sortByPod(exact)
		res.Candidates = exact
		res.Confidence = ConfidenceExact
		if len(exact) > 1 {
			// Possible only when the no-overlap invariant is violated.
			// Escalate instead of picking one candidate.
			res.ManualReview = true
			res.Notes = append(res.Notes,
				fmt.Sprintf("%d workloads match identity, address, and window; snapshot invariant violated", len(exact)))
		}
	case len(timeCands) > 0:
		sortByPod(timeCands)
		res.Candidates = timeCands
		res.Confidence = ConfidenceIdentityOnly
		res.Notes = append(res.Notes, "identity and window match but pod address differs from event source address")
	}

	// Step 4: source-address hits across the whole snapshot, outside the
	// chosen candidate set. With no candidates at all these become the
	// (degraded) primary answer; otherwise they ride along so neither
	// degraded signal is lost.
	foreign := m.addressHits(ev, res.Candidates, snap)
	if len(foreign) > 0 {
		if res.Confidence == ConfidenceNone {
			res.Candidates = foreign
			res.Confidence = ConfidenceAddressOnly
			res.Notes = append(res.Notes,
				"source address maps to a workload not matched by identity and window; possible spoofing or stale snapshot")
		} else {
			res.AddressHits = foreign
			res.Notes = append(res.Notes,
				"source address also maps to workloads outside the identity match set")
		}
	}

	return res
}

// addressHits finds records whose pod address equals the event's source
// address, excluding records already chosen as candidates. In-window hits
// are preferred; with none, out-of-window hits are still returned since a
// stale snapshot is exactly the condition this confidence level flags.
func (m Matcher) addressHits(ev event.AuditEvent, chosen []snapshot.WorkloadRecord, snap *snapshot.Snapshot) []snapshot.WorkloadRecord {
	if ev.SourceAddress == "" {
		return nil
	}

	inIdentity := make(map[string]bool, len(chosen))
	for _, r := range chosen {
		inIdentity[recordKey(r)] = true
	}

	var inWindow, outOfWindow []snapshot.WorkloadRecord
	for _, r := range snap.Records {
		if r.PodAddress != ev.SourceAddress || inIdentity[recordKey(r)] {
			continue
		}
		if r.Contains(ev.EventTime, m.Slop) {
			inWindow = append(inWindow, r)
		} else {
			outOfWindow = append(outOfWindow, r)
		}
	}

	hits := inWindow
	if len(hits) == 0 {
		hits = outOfWindow
	}
	sortByPod(hits)
	return hits
}

func recordKey(r snapshot.WorkloadRecord) string {
	return r.Namespace + "/" + r.PodName + "@" + r.WindowStart.UTC().Format(time.RFC3339Nano)
}

func sortByPod(records []snapshot.WorkloadRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].PodName != records[j].PodName {
			return records[i].PodName < records[j].PodName
		}
		return records[i].WindowStart.Before(records[j].WindowStart)
	})
}
