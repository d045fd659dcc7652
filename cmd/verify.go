package cmd

import (
	"crypto/ed25519"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/tinkerbelle-io/tb-correlate/internal/bundle"
	"github.com/tinkerbelle-io/tb-correlate/internal/logging"
	"github.com/tinkerbelle-io/tb-correlate/internal/signing"
)

var flagPubKey string

var verifyCmd = &cobra.Command{
	Use:   "verify <bundle.tar.gz>",
	Short: "Verify the integrity of a finalized evidence bundle",
	Long: `Recompute every entry digest and the manifest integrity hash of a
bundle archive. With --pub-key, also check the Ed25519 attestation.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&flagPubKey, "pub-key", "", "Ed25519 public key file for attestation check")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel)

	var pub ed25519.PublicKey
	if flagPubKey != "" {
		var err error
		pub, err = signing.LoadPublicKey(flagPubKey)
		if err != nil {
			return err
		}
	}

	report, err := bundle.Verify(args[0], pub)
	if err != nil {
		return err
	}

	m := report.Manifest
	fmt.Printf("Incident:    %s\n", m.IncidentID)
	fmt.Printf("Created:     %s\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("Tool:        %s\n", m.Tool)
	fmt.Printf("Entries:     %d event(s), %d match(es), %d finding(s)\n",
		m.EventCount, m.MatchCount, m.FindingCount)

	names := make([]string, 0, len(m.Digests))
	for name := range m.Digests {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-20s sha256:%s\n", name, m.Digests[name])
	}

	fmt.Printf("Integrity:   %s\n", passFail(report.IntegrityOK))
	switch {
	case report.Attested:
		fmt.Printf("Attestation: %s\n", passFail(report.AttestationOK))
	case m.Signature != "":
		fmt.Println("Attestation: present (no --pub-key, not checked)")
	default:
		fmt.Println("Attestation: none")
	}

	if !report.OK() {
		for _, name := range report.MissingEntries {
			fmt.Printf("MISSING:     %s\n", name)
		}
		for _, name := range report.ExtraEntries {
			fmt.Printf("UNEXPECTED:  %s\n", name)
		}
		for _, name := range report.BadDigests {
			fmt.Printf("BAD DIGEST:  %s\n", name)
		}
		return fmt.Errorf("bundle %s failed verification", args[0])
	}
	fmt.Println("\nBundle OK")
	return nil
}

func passFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}
