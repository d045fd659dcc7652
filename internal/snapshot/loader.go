package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// Load reads a snapshot file. Two formats are accepted: the native
// tb-correlate snapshot JSON, and a corev1 PodList as emitted by
// `kubectl get pods -A -o json` during an investigation.
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var probe struct {
		Kind    string          `json:"kind"`
		Records json.RawMessage `json:"records"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
	}

	if probe.Kind == "PodList" || probe.Kind == "List" {
		return loadPodList(data, path)
	}
	if probe.Records != nil {
		var snap Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, fmt.Errorf("parse snapshot %s: %w", path, err)
		}
		return &snap, nil
	}
	return nil, fmt.Errorf("snapshot %s: neither a PodList nor a tb-correlate snapshot", path)
}

func loadPodList(data []byte, path string) (*Snapshot, error) {
	var list corev1.PodList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse pod list %s: %w", path, err)
	}

	snap := &Snapshot{CollectedAt: time.Now().UTC()}
	for _, pod := range list.Items {
		snap.Records = append(snap.Records, podToRecord(pod))
	}
	return snap, nil
}

// podToRecord derives a WorkloadRecord from live pod state. The observed
// window opens at the pod's start time and closes at its deletion
// timestamp, if set.
func podToRecord(pod corev1.Pod) WorkloadRecord {
	sa := pod.Spec.ServiceAccountName
	if sa == "" {
		sa = "default"
	}

	rec := WorkloadRecord{
		Namespace:      pod.Namespace,
		ServiceAccount: sa,
		PodName:        pod.Name,
		PodAddress:     pod.Status.PodIP,
	}
	if pod.Status.StartTime != nil {
		rec.WindowStart = pod.Status.StartTime.Time.UTC()
	} else {
		rec.WindowStart = pod.CreationTimestamp.Time.UTC()
	}
	if pod.DeletionTimestamp != nil {
		rec.WindowEnd = pod.DeletionTimestamp.Time.UTC()
	}
	return rec
}

// Save writes a snapshot as indented JSON.
func Save(snap *Snapshot, path string) error {
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return nil
}
