// Package bundle assembles write-once evidence archives. A bundle is a
// tar.gz holding the events, matches, and findings of one correlation
// pass plus any investigator-supplied artifacts, with a manifest of
// per-entry sha256 digests and an integrity hash over the manifest
// itself.
package bundle

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/tinkerbelle-io/tb-correlate/internal/event"
	"github.com/tinkerbelle-io/tb-correlate/internal/findings"
	"github.com/tinkerbelle-io/tb-correlate/internal/match"
)

// Archive entry names. Everything else lives under artifacts/.
const (
	ManifestEntry = "manifest.json"
	EventsEntry   = "events.json"
	MatchesEntry  = "matches.json"
	FindingsEntry = "findings.json"
	ArtifactDir   = "artifacts"
)

// Manifest describes a finalized bundle. IntegrityHash is the sha256 of
// the manifest serialized with IntegrityHash and Signature blanked, so a
// reviewer can recompute it from the archive alone.
type Manifest struct {
	IncidentID    string            `json:"incident_id"`
	CreatedAt     time.Time         `json:"created_at"`
	Tool          string            `json:"tool"`
	EventCount    int               `json:"event_count"`
	MatchCount    int               `json:"match_count"`
	FindingCount  int               `json:"finding_count"`
	Digests       map[string]string `json:"digests"`
	IntegrityHash string            `json:"integrity_hash,omitempty"`
	Signature     string            `json:"signature,omitempty"`
}

// Builder accumulates bundle contents before finalization. It performs
// no I/O; Store.Finalize turns a builder into an archive exactly once.
type Builder struct {
	incidentID string
	createdAt  time.Time
	events     []event.AuditEvent
	matches    []match.Result
	findings   []findings.Finding
	artifacts  map[string][]byte
	names      []string
}

// NewBuilder starts a bundle for an incident. now becomes the manifest's
// CreatedAt, normalized to UTC.
func NewBuilder(incidentID string, now time.Time) (*Builder, error) {
	if strings.TrimSpace(incidentID) == "" {
		return nil, fmt.Errorf("bundle: empty incident id")
	}
	return &Builder{
		incidentID: incidentID,
		createdAt:  now.UTC(),
		artifacts:  make(map[string][]byte),
	}, nil
}

// SetEvents records the events the bundle will carry.
func (b *Builder) SetEvents(events []event.AuditEvent) { b.events = events }

// SetMatches records the correlation results.
func (b *Builder) SetMatches(matches []match.Result) { b.matches = matches }

// SetFindings records the analyzer findings.
func (b *Builder) SetFindings(f []findings.Finding) { b.findings = f }

// AddArtifact attaches an opaque file under artifacts/<name>. Names must
// be bare file names; anything that could escape the artifact directory
// is rejected.
func (b *Builder) AddArtifact(name string, data []byte) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("bundle: invalid artifact name %q", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("bundle: artifact name %q must not contain path separators", name)
	}
	if _, dup := b.artifacts[name]; dup {
		return fmt.Errorf("bundle: duplicate artifact %q", name)
	}
	b.artifacts[name] = data
	b.names = append(b.names, name)
	return nil
}

// entry is one file destined for the archive.
type entry struct {
	name string
	data []byte
}

// entries serializes the bundle contents in a fixed order. The manifest
// is not included; it is produced afterwards from these entries.
func (b *Builder) entries() ([]entry, error) {
	out := make([]entry, 0, 3+len(b.names))

	for _, e := range []struct {
		name string
		v    any
	}{
		{EventsEntry, b.events},
		{MatchesEntry, b.matches},
		{FindingsEntry, b.findings},
	} {
		data, err := json.MarshalIndent(e.v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("bundle: marshal %s: %w", e.name, err)
		}
		out = append(out, entry{name: e.name, data: data})
	}

	for _, name := range b.names {
		out = append(out, entry{name: ArtifactDir + "/" + name, data: b.artifacts[name]})
	}
	return out, nil
}

// manifest builds the manifest for a set of entries and seals it with the
// integrity hash.
func (b *Builder) manifest(entries []entry, tool string) (Manifest, error) {
	m := Manifest{
		IncidentID:   b.incidentID,
		CreatedAt:    b.createdAt,
		Tool:         tool,
		EventCount:   len(b.events),
		MatchCount:   len(b.matches),
		FindingCount: len(b.findings),
		Digests:      make(map[string]string, len(entries)),
	}
	for _, e := range entries {
		sum := sha256.Sum256(e.data)
		m.Digests[e.name] = fmt.Sprintf("%x", sum)
	}

	hash, err := IntegrityHash(m)
	if err != nil {
		return Manifest{}, err
	}
	m.IntegrityHash = hash
	return m, nil
}

// IntegrityHash computes the canonical manifest hash: sha256 over the
// manifest JSON with IntegrityHash and Signature cleared. Map keys are
// sorted by the encoder, so the serialization is stable.
func IntegrityHash(m Manifest) (string, error) {
	m.IntegrityHash = ""
	m.Signature = ""
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("bundle: marshal manifest: %w", err)
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%x", sum), nil
}
