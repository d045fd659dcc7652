package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tinkerbelle-io/tb-correlate/internal/bundle"
	"github.com/tinkerbelle-io/tb-correlate/internal/config"
	"github.com/tinkerbelle-io/tb-correlate/internal/logging"
	"github.com/tinkerbelle-io/tb-correlate/internal/match"
	"github.com/tinkerbelle-io/tb-correlate/internal/pipeline"
	"github.com/tinkerbelle-io/tb-correlate/internal/trail"
)

var (
	flagEvents    []string
	flagSnapshot  string
	flagIncident  string
	flagArtifacts []string
	flagOut       string
	flagSignKey   string
)

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Run one correlation pass and finalize an evidence bundle",
	Long: `Ingest audit-log events, resolve federated workload identities, match
them against a cluster snapshot, and seal events, matches, and findings into
an evidence bundle for the incident.

Events may be a JSON array or JSON-lines; multiple --events files are merged
in event-time order. The snapshot is either a tb-correlate snapshot file or
the output of 'kubectl get pods -A -o json'.`,
	RunE: runCorrelate,
}

func init() {
	correlateCmd.Flags().StringArrayVar(&flagEvents, "events", nil, "Audit-log event file (repeatable)")
	correlateCmd.Flags().StringVar(&flagSnapshot, "snapshot", "", "Cluster snapshot file")
	correlateCmd.Flags().StringVar(&flagIncident, "incident", "", "Incident identifier for the bundle")
	correlateCmd.Flags().StringArrayVar(&flagArtifacts, "artifact", nil, "Extra bundle artifact as name=path (repeatable)")
	correlateCmd.Flags().StringVar(&flagOut, "out", "", "Bundle output directory (default: bundle_dir from config)")
	correlateCmd.Flags().StringVar(&flagSignKey, "sign-key", "", "Ed25519 private key file to attest the bundle")
	correlateCmd.MarkFlagRequired("events")
	correlateCmd.MarkFlagRequired("snapshot")
	correlateCmd.MarkFlagRequired("incident")
	rootCmd.AddCommand(correlateCmd)
}

func runCorrelate(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	artifacts, err := parseArtifacts(flagArtifacts)
	if err != nil {
		return err
	}

	outDir := flagOut
	if outDir == "" {
		outDir = cfg.BundleDir
	}

	var tl *trail.Logger
	if cfg.TrailPath != "" {
		tl, err = trail.New(cfg.TrailPath)
		if err != nil {
			return err
		}
		defer tl.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.Run(ctx, pipeline.Options{
		IncidentID:   flagIncident,
		EventPaths:   flagEvents,
		SnapshotPath: flagSnapshot,
		Artifacts:    artifacts,
		SignKeyPath:  flagSignKey,
		Store:        &bundle.Store{Dir: outDir},
		Trail:        tl,
		Config:       cfg,
	})
	printReport(report)
	return err
}

// parseArtifacts splits repeated name=path flags.
func parseArtifacts(specs []string) (map[string]string, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid --artifact %q: want name=path", spec)
		}
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("duplicate --artifact name %q", name)
		}
		out[name] = path
	}
	return out, nil
}

func printReport(r *pipeline.Report) {
	fmt.Printf("Incident:    %s\n", r.IncidentID)
	fmt.Printf("Run:         %s\n", r.RunID)
	fmt.Printf("Ingested:    %d (skipped %d malformed)\n", r.Ingested, r.Skipped)
	fmt.Printf("Unresolved:  %d\n", r.Unresolved)

	confs := make([]string, 0, len(r.Matches))
	for c := range r.Matches {
		confs = append(confs, string(c))
	}
	sort.Strings(confs)
	fmt.Println("Matches:")
	for _, c := range confs {
		fmt.Printf("  %-14s %d\n", c+":", r.Matches[match.Confidence(c)])
	}

	if len(r.Findings) > 0 {
		fmt.Printf("\nFindings (%d):\n", len(r.Findings))
		for _, f := range r.Findings {
			fmt.Printf("  [%s] %s\n", f.Severity, f.Title)
		}
	}

	if r.Failed {
		fmt.Printf("\nRun FAILED at stage %q: %s\n", r.Stage, r.Err)
		return
	}
	if r.BundlePath != "" {
		fmt.Printf("\nBundle:      %s\n", r.BundlePath)
		fmt.Printf("Integrity:   sha256:%s\n", r.IntegrityHash)
	}
}
