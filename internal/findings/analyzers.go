package findings

import (
	"fmt"

	"github.com/tinkerbelle-io/tb-correlate/internal/match"
)

type unresolvedPrincipalAnalyzer struct{}

func (a *unresolvedPrincipalAnalyzer) Name() string { return "unresolved-principal" }

func (a *unresolvedPrincipalAnalyzer) Analyze(in Input) []Finding {
	var out []Finding
	for _, u := range in.Unresolved {
		out = append(out, Finding{
			Analyzer: a.Name(),
			Severity: "action",
			Title:    fmt.Sprintf("non-workload principal performed %q", u.Event.EventName),
			Description: fmt.Sprintf(
				"principal %q (type %q) is not a federated workload identity: %s. "+
					"A long-lived credential acting where workload identity is expected is itself a significant finding.",
				u.Event.PrincipalSubject, u.PrincipalType, u.Reason),
			EventName:   u.Event.EventName,
			Subject:     u.Event.PrincipalSubject,
			Fingerprint: MakeFingerprint(a.Name(), u.Event.EventName, u.Event.PrincipalSubject),
		})
	}
	return out
}

type addressOnlyAnalyzer struct{}

func (a *addressOnlyAnalyzer) Name() string { return "address-only-match" }

func (a *addressOnlyAnalyzer) Analyze(in Input) []Finding {
	var out []Finding
	for _, r := range in.Results {
		if r.Confidence != match.ConfidenceAddressOnly {
			continue
		}
		out = append(out, Finding{
			Analyzer: a.Name(),
			Severity: "action",
			Title:    fmt.Sprintf("source address of %q maps to an unrelated workload", r.Event.EventName),
			Description: fmt.Sprintf(
				"address %s matches %d workload(s) whose identity differs from the event's subject. "+
					"Possible identity spoofing or a stale snapshot; confirm manually before acting.",
				r.Event.SourceAddress, len(r.Candidates)),
			EventName:   r.Event.EventName,
			Subject:     r.Event.PrincipalSubject,
			Fingerprint: MakeFingerprint(a.Name(), r.Event.EventName, r.Event.PrincipalSubject),
		})
	}
	return out
}

type ambiguousMatchAnalyzer struct{}

func (a *ambiguousMatchAnalyzer) Name() string { return "ambiguous-match" }

func (a *ambiguousMatchAnalyzer) Analyze(in Input) []Finding {
	var out []Finding
	for _, r := range in.Results {
		if !r.ManualReview {
			continue
		}
		out = append(out, Finding{
			Analyzer: a.Name(),
			Severity: "action",
			Title:    fmt.Sprintf("%d workloads match %q exactly", len(r.Candidates), r.Event.EventName),
			Description: "multiple workloads satisfy identity, address, and time window at once. " +
				"The snapshot's no-overlap invariant is violated; review all candidates manually.",
			EventName:   r.Event.EventName,
			Subject:     r.Event.PrincipalSubject,
			Fingerprint: MakeFingerprint(a.Name(), r.Event.EventName, r.Event.PrincipalSubject),
		})
	}
	return out
}

type identityOnlyAnalyzer struct{}

func (a *identityOnlyAnalyzer) Name() string { return "identity-only-match" }

func (a *identityOnlyAnalyzer) Analyze(in Input) []Finding {
	var out []Finding
	for _, r := range in.Results {
		if r.Confidence != match.ConfidenceIdentityOnly {
			continue
		}
		out = append(out, Finding{
			Analyzer: a.Name(),
			Severity: "warning",
			Title:    fmt.Sprintf("identity matched %q without address corroboration", r.Event.EventName),
			Description: fmt.Sprintf(
				"workload identity and time window match but no candidate pod holds source address %s. "+
					"Advisory only; do not treat as proof.",
				r.Event.SourceAddress),
			EventName:   r.Event.EventName,
			Subject:     r.Event.PrincipalSubject,
			Fingerprint: MakeFingerprint(a.Name(), r.Event.EventName, r.Event.PrincipalSubject),
		})
	}
	return out
}

// addressDisagreementAnalyzer flags results where the identity produced
// candidates but the source address also points at workloads outside that
// set — both degraded signals surfaced side by side.
type addressDisagreementAnalyzer struct{}

func (a *addressDisagreementAnalyzer) Name() string { return "address-disagreement" }

func (a *addressDisagreementAnalyzer) Analyze(in Input) []Finding {
	var out []Finding
	for _, r := range in.Results {
		if len(r.AddressHits) == 0 {
			continue
		}
		out = append(out, Finding{
			Analyzer: a.Name(),
			Severity: "warning",
			Title:    fmt.Sprintf("source address of %q also maps outside the identity match", r.Event.EventName),
			Description: fmt.Sprintf(
				"address %s additionally belongs to %d workload(s) that do not share the event's identity; "+
					"both signals are retained for review.",
				r.Event.SourceAddress, len(r.AddressHits)),
			EventName:   r.Event.EventName,
			Subject:     r.Event.PrincipalSubject,
			Fingerprint: MakeFingerprint(a.Name(), r.Event.EventName, r.Event.PrincipalSubject),
		})
	}
	return out
}

type windowOverlapAnalyzer struct{}

func (a *windowOverlapAnalyzer) Name() string { return "snapshot-window-overlap" }

func (a *windowOverlapAnalyzer) Analyze(in Input) []Finding {
	var out []Finding
	for _, o := range in.Overlaps {
		out = append(out, Finding{
			Analyzer: a.Name(),
			Severity: "warning",
			Title:    fmt.Sprintf("pod %q has overlapping observed windows", o.PodName),
			Description: "two snapshot records for the same pod cover intersecting time ranges. " +
				"Matching tolerates this but exact-confidence results for this pod may be ambiguous.",
			Subject:     o.PodName,
			Fingerprint: MakeFingerprint(a.Name(), "", o.PodName),
		})
	}
	return out
}
