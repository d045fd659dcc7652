package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// CollectOptions configures a live snapshot capture.
type CollectOptions struct {
	// Namespace limits the capture; empty means all namespaces.
	Namespace string
	// Timeout bounds the pod list call. Zero means no extra bound beyond ctx.
	Timeout time.Duration
	// Cluster names the source cluster in the snapshot, for the record.
	Cluster string
}

// Collect captures a live workload snapshot from the cluster. A timeout or
// context deadline surfaces as ErrUpstreamTimeout so the caller can abort
// the stage without partially committing a bundle.
func Collect(ctx context.Context, clientset kubernetes.Interface, opts CollectOptions) (*Snapshot, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	pods, err := clientset.CoreV1().Pods(opts.Namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("list pods: %w", ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("list pods: %w", err)
	}

	snap := &Snapshot{
		CollectedAt: time.Now().UTC(),
		Cluster:     opts.Cluster,
	}
	for _, pod := range pods.Items {
		snap.Records = append(snap.Records, podToRecord(pod))
	}
	return snap, nil
}

// NewClientset builds a Kubernetes client from an explicit kubeconfig path,
// falling back to in-cluster config and then the default kubeconfig.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	cfg, err := buildRestConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("k8s clientset: %w", err)
	}
	return clientset, nil
}

func buildRestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("k8s config from %s: %w", kubeconfig, err)
		}
		return cfg, nil
	}

	if cfg, err := rest.InClusterConfig(); err == nil {
		return cfg, nil
	}

	home, _ := os.UserHomeDir()
	fallback := filepath.Join(home, ".kube", "config")
	cfg, err := clientcmd.BuildConfigFromFlags("", fallback)
	if err != nil {
		return nil, fmt.Errorf("k8s config: %w", err)
	}
	return cfg, nil
}
