package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tinkerbelle-io/tb-correlate/internal/config"
	"github.com/tinkerbelle-io/tb-correlate/internal/logging"
	"github.com/tinkerbelle-io/tb-correlate/internal/snapshot"
)

var (
	flagKubeconfig  string
	flagNamespace   string
	flagCluster     string
	flagSnapshotOut string
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture a live cluster workload snapshot",
	Long: `Capture the current pods of a cluster as a tb-correlate snapshot file
for later correlation. The capture is bounded by the configured timeout; a
timed-out capture writes nothing.`,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().StringVar(&flagKubeconfig, "kubeconfig", "", "Kubeconfig path (default: in-cluster, then ~/.kube/config)")
	snapshotCmd.Flags().StringVar(&flagNamespace, "namespace", "", "Limit capture to one namespace")
	snapshotCmd.Flags().StringVar(&flagCluster, "cluster", "", "Cluster name recorded in the snapshot")
	snapshotCmd.Flags().StringVar(&flagSnapshotOut, "out", "snapshot.json", "Output file")
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	logging.Setup(flagLogLevel)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	clientset, err := snapshot.NewClientset(flagKubeconfig)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := snapshot.Collect(ctx, clientset, snapshot.CollectOptions{
		Namespace: flagNamespace,
		Timeout:   cfg.FetchTimeout(),
		Cluster:   flagCluster,
	})
	if err != nil {
		return err
	}

	if err := snapshot.Save(snap, flagSnapshotOut); err != nil {
		return err
	}
	fmt.Printf("Snapshot:    %s\n", flagSnapshotOut)
	fmt.Printf("Records:     %d\n", len(snap.Records))
	return nil
}
