// Package findings flags forensic conditions in correlation output that
// need operator attention. Nothing here resolves ambiguity; analyzers only
// surface it.
package findings

import (
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/tinkerbelle-io/tb-correlate/internal/event"
	"github.com/tinkerbelle-io/tb-correlate/internal/match"
	"github.com/tinkerbelle-io/tb-correlate/internal/snapshot"
)

// Finding is one flagged condition from a correlation pass.
type Finding struct {
	Analyzer    string `json:"analyzer"`
	Severity    string `json:"severity"` // action, warning, info
	Title       string `json:"title"`
	Description string `json:"description"`
	EventName   string `json:"event_name,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Fingerprint string `json:"fingerprint"`
}

// UnresolvedPrincipal records an event whose principal could not be
// resolved to a workload identity. The matcher is never invoked for these.
type UnresolvedPrincipal struct {
	Event         event.AuditEvent `json:"event"`
	PrincipalType string           `json:"principal_type,omitempty"`
	Reason        string           `json:"reason"`
}

// Input is everything analyzers see from one correlation pass.
type Input struct {
	Results    []match.Result
	Unresolved []UnresolvedPrincipal
	Overlaps   []snapshot.Overlap
}

// Analyzer inspects one correlation pass and emits findings.
type Analyzer interface {
	Name() string
	Analyze(in Input) []Finding
}

// Engine runs all analyzers and returns deduplicated, severity-ordered
// findings.
type Engine struct {
	analyzers []Analyzer
}

// NewEngine creates an engine with all built-in analyzers.
func NewEngine() *Engine {
	return &Engine{
		analyzers: []Analyzer{
			&unresolvedPrincipalAnalyzer{},
			&addressOnlyAnalyzer{},
			&ambiguousMatchAnalyzer{},
			&identityOnlyAnalyzer{},
			&addressDisagreementAnalyzer{},
			&windowOverlapAnalyzer{},
		},
	}
}

// Analyze runs every analyzer over the pass.
func (e *Engine) Analyze(in Input) []Finding {
	var all []Finding
	for _, a := range e.analyzers {
		all = append(all, a.Analyze(in)...)
	}

	// Dedupe by fingerprint, keep first occurrence.
	seen := make(map[string]bool, len(all))
	deduped := all[:0]
	for _, f := range all {
		if seen[f.Fingerprint] {
			continue
		}
		seen[f.Fingerprint] = true
		deduped = append(deduped, f)
	}

	sortFindings(deduped)
	return deduped
}

// MakeFingerprint generates a stable identifier for deduplication.
// Format: sha256("analyzer:event:subject")[:16]
func MakeFingerprint(analyzer, eventName, subject string) string {
	input := fmt.Sprintf("%s:%s:%s", analyzer, eventName, subject)
	hash := sha256.Sum256([]byte(input))
	return fmt.Sprintf("%x", hash[:8])
}

var severityOrder = map[string]int{
	"action":  0,
	"warning": 1,
	"info":    2,
}

func sortFindings(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		oi, ok := severityOrder[findings[i].Severity]
		if !ok {
			oi = 9
		}
		oj, ok := severityOrder[findings[j].Severity]
		if !ok {
			oj = 9
		}
		return oi < oj
	})
}
