// Package pipeline runs one correlation pass: ingest audit events,
// resolve workload identities, match them against a cluster snapshot,
// analyze findings, and finalize an evidence bundle. Stages run strictly
// in order and a cancelled or failed run never produces a bundle.
package pipeline

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tinkerbelle-io/tb-correlate/internal/bundle"
	"github.com/tinkerbelle-io/tb-correlate/internal/config"
	"github.com/tinkerbelle-io/tb-correlate/internal/event"
	"github.com/tinkerbelle-io/tb-correlate/internal/findings"
	"github.com/tinkerbelle-io/tb-correlate/internal/identity"
	"github.com/tinkerbelle-io/tb-correlate/internal/logging"
	"github.com/tinkerbelle-io/tb-correlate/internal/match"
	"github.com/tinkerbelle-io/tb-correlate/internal/signing"
	"github.com/tinkerbelle-io/tb-correlate/internal/snapshot"
	"github.com/tinkerbelle-io/tb-correlate/internal/trail"
)

// Stage names used in reports and trail entries.
const (
	StageIngest   = "ingest"
	StageSnapshot = "snapshot"
	StageResolve  = "resolve"
	StageMatch    = "match"
	StageFindings = "findings"
	StageBundle   = "bundle"
)

// Options configures one correlation run.
type Options struct {
	IncidentID   string
	EventPaths   []string
	SnapshotPath string
	Mapping      event.FieldMapping

	// LoadSnapshot overrides SnapshotPath when set, e.g. for live capture.
	LoadSnapshot func(ctx context.Context) (*snapshot.Snapshot, error)

	// Artifacts maps bundle artifact names to local file paths.
	Artifacts map[string]string

	// SignKeyPath, when set, attests the bundle manifest at finalization.
	SignKeyPath string

	Store  *bundle.Store
	Trail  *trail.Logger
	Config *config.Config
}

// Report is the outcome of one run, successful or not. A failed run
// carries the stage and error instead of a bundle path.
type Report struct {
	RunID      string                   `json:"run_id"`
	IncidentID string                   `json:"incident_id"`
	Ingested   int                      `json:"ingested"`
	Skipped    int                      `json:"skipped"`
	Unresolved int                      `json:"unresolved"`
	Malformed  int                      `json:"malformed_subjects"`
	Matches    map[match.Confidence]int `json:"matches"`
	Results    []match.Result           `json:"-"`
	Findings   []findings.Finding       `json:"findings,omitempty"`
	Overlaps   int                      `json:"snapshot_overlaps,omitempty"`

	BundlePath    string `json:"bundle_path,omitempty"`
	IntegrityHash string `json:"integrity_hash,omitempty"`

	Failed bool   `json:"failed,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Run executes the pipeline. The returned report is non-nil even on
// failure; the error is what stopped the run.
func Run(ctx context.Context, opts Options) (*Report, error) {
	log := logging.Component("pipeline")

	report := &Report{
		RunID:      uuid.NewString(),
		IncidentID: opts.IncidentID,
		Matches:    make(map[match.Confidence]int),
	}
	if report.IncidentID == "" {
		report.IncidentID = uuid.NewString()
	}

	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Mapping == (event.FieldMapping{}) {
		opts.Mapping = event.DefaultMapping()
	}

	logTrail(opts.Trail, trail.Entry{
		RunID:      report.RunID,
		IncidentID: report.IncidentID,
		EventType:  trail.EventRunStart,
		Detail:     fmt.Sprintf("%d event file(s)", len(opts.EventPaths)),
	}, log)

	fail := func(stage string, err error) (*Report, error) {
		report.Failed = true
		report.Stage = stage
		report.Err = err.Error()
		log.Error("run failed", "stage", stage, "error", err)
		logTrail(opts.Trail, trail.Entry{
			RunID:      report.RunID,
			IncidentID: report.IncidentID,
			EventType:  trail.EventRunFailed,
			Stage:      stage,
			Detail:     err.Error(),
		}, log)
		return report, fmt.Errorf("%s: %w", stage, err)
	}

	// Ingest.
	if err := ctx.Err(); err != nil {
		return fail(StageIngest, err)
	}
	ingested, err := event.IngestFiles(opts.EventPaths, opts.Mapping)
	if err != nil {
		return fail(StageIngest, err)
	}
	report.Ingested = len(ingested.Events)
	report.Skipped = ingested.Skipped
	for _, merr := range ingested.Errors {
		log.Warn("skipped malformed record", "index", merr.Index, "field", merr.Field, "reason", merr.Reason)
	}
	stageDone(opts.Trail, report, StageIngest, report.Ingested, log)

	// Snapshot.
	if err := ctx.Err(); err != nil {
		return fail(StageSnapshot, err)
	}
	snap, err := loadSnapshot(ctx, opts)
	if err != nil {
		if errors.Is(err, snapshot.ErrUpstreamTimeout) {
			err = fmt.Errorf("cluster state fetch: %w", err)
		}
		return fail(StageSnapshot, err)
	}
	overlaps := snap.Validate()
	report.Overlaps = len(overlaps)
	for _, o := range overlaps {
		log.Warn("snapshot invariant violated", "pod", o.PodName)
	}
	stageDone(opts.Trail, report, StageSnapshot, len(snap.Records), log)

	// Resolve and match.
	if err := ctx.Err(); err != nil {
		return fail(StageResolve, err)
	}
	matcher := match.Matcher{Slop: cfg.Slop()}
	var unresolved []findings.UnresolvedPrincipal
	for _, ev := range ingested.Events {
		id, err := identity.Resolve(ev, cfg.IdentityPrefix)
		if err != nil {
			var unres *identity.UnresolvedIdentityError
			var malformed *identity.MalformedSubjectError
			switch {
			case errors.As(err, &unres):
				unresolved = append(unresolved, findings.UnresolvedPrincipal{
					Event:         ev,
					PrincipalType: unres.PrincipalType,
					Reason:        unres.Reason,
				})
			case errors.As(err, &malformed):
				report.Malformed++
				unresolved = append(unresolved, findings.UnresolvedPrincipal{
					Event:         ev,
					PrincipalType: ev.PrincipalType,
					Reason:        malformed.Reason,
				})
			default:
				return fail(StageResolve, err)
			}
			continue
		}
		report.Results = append(report.Results, matcher.Match(ev, id, snap))
	}
	report.Unresolved = len(unresolved)
	for _, r := range report.Results {
		report.Matches[r.Confidence]++
	}
	stageDone(opts.Trail, report, StageMatch, len(report.Results), log)

	// Findings.
	if err := ctx.Err(); err != nil {
		return fail(StageFindings, err)
	}
	report.Findings = findings.NewEngine().Analyze(findings.Input{
		Results:    report.Results,
		Unresolved: unresolved,
		Overlaps:   overlaps,
	})
	for _, f := range report.Findings {
		logTrail(opts.Trail, trail.Entry{
			RunID:      report.RunID,
			IncidentID: report.IncidentID,
			EventType:  trail.EventFinding,
			Detail:     fmt.Sprintf("[%s] %s", f.Severity, f.Title),
		}, log)
	}
	stageDone(opts.Trail, report, StageFindings, len(report.Findings), log)

	// Bundle. A run cancelled before this point never finalizes.
	if err := ctx.Err(); err != nil {
		return fail(StageBundle, err)
	}
	if opts.Store == nil {
		log.Info("no bundle store configured, skipping finalization")
		return report, nil
	}
	manifest, path, err := finalize(report, ingested.Events, opts)
	if err != nil {
		return fail(StageBundle, err)
	}
	report.BundlePath = path
	report.IntegrityHash = manifest.IntegrityHash

	logTrail(opts.Trail, trail.Entry{
		RunID:      report.RunID,
		IncidentID: report.IncidentID,
		EventType:  trail.EventBundleFinalized,
		Detail:     "sha256:" + manifest.IntegrityHash,
	}, log)
	log.Info("bundle finalized", "path", path, "integrity_hash", manifest.IntegrityHash)
	return report, nil
}

func loadSnapshot(ctx context.Context, opts Options) (*snapshot.Snapshot, error) {
	if opts.LoadSnapshot != nil {
		return opts.LoadSnapshot(ctx)
	}
	return snapshot.Load(opts.SnapshotPath)
}

func finalize(report *Report, events []event.AuditEvent, opts Options) (*bundle.Manifest, string, error) {
	b, err := bundle.NewBuilder(report.IncidentID, time.Now())
	if err != nil {
		return nil, "", err
	}
	b.SetEvents(events)
	b.SetMatches(report.Results)
	b.SetFindings(report.Findings)

	names := make([]string, 0, len(opts.Artifacts))
	for name := range opts.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := os.ReadFile(opts.Artifacts[name])
		if err != nil {
			return nil, "", fmt.Errorf("read artifact %s: %w", name, err)
		}
		if err := b.AddArtifact(name, data); err != nil {
			return nil, "", err
		}
	}

	var key ed25519.PrivateKey
	if opts.SignKeyPath != "" {
		key, err = signing.LoadPrivateKey(opts.SignKeyPath)
		if err != nil {
			return nil, "", err
		}
	}
	return opts.Store.Finalize(b, key)
}

func stageDone(t *trail.Logger, report *Report, stage string, count int, log *slog.Logger) {
	logTrail(t, trail.Entry{
		RunID:      report.RunID,
		IncidentID: report.IncidentID,
		EventType:  trail.EventStage,
		Stage:      stage,
		Count:      count,
	}, log)
}

// logTrail records a trail entry when a trail is configured. Trail write
// failures are logged, not fatal: losing the activity log must not abort
// evidence collection.
func logTrail(t *trail.Logger, entry trail.Entry, log *slog.Logger) {
	if t == nil {
		return
	}
	if err := t.Log(entry); err != nil {
		log.Warn("trail write failed", "error", err)
	}
}
