package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const podListJSON = `{
  "kind": "PodList",
  "apiVersion": "v1",
  "items": [
    {
      "metadata": {
        "name": "harbor-registry-7d9f8b6c5-x2kqp",
        "namespace": "harbor",
        "creationTimestamp": "2026-03-01T09:00:00Z"
      },
      "spec": {"serviceAccountName": "harbor-registry"},
      "status": {"podIP": "10.0.1.5", "startTime": "2026-03-01T09:00:30Z"}
    },
    {
      "metadata": {
        "name": "no-sa-pod",
        "namespace": "default",
        "creationTimestamp": "2026-03-01T08:00:00Z"
      },
      "spec": {},
      "status": {"podIP": "10.0.2.7"}
    }
  ]
}`

func TestLoadPodList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pods.json")
	if err := os.WriteFile(path, []byte(podListJSON), 0600); err != nil {
		t.Fatal(err)
	}

	snap, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(snap.Records))
	}

	r := snap.Records[0]
	if r.Namespace != "harbor" || r.ServiceAccount != "harbor-registry" {
		t.Errorf("record identity = %s/%s", r.Namespace, r.ServiceAccount)
	}
	if r.PodAddress != "10.0.1.5" {
		t.Errorf("pod address = %q", r.PodAddress)
	}
	wantStart := time.Date(2026, 3, 1, 9, 0, 30, 0, time.UTC)
	if !r.WindowStart.Equal(wantStart) {
		t.Errorf("window start = %v, want %v", r.WindowStart, wantStart)
	}
	if !r.WindowEnd.IsZero() {
		t.Errorf("window end = %v, want open", r.WindowEnd)
	}

	// Pod without serviceAccountName falls back to "default".
	if snap.Records[1].ServiceAccount != "default" {
		t.Errorf("service account = %q, want default", snap.Records[1].ServiceAccount)
	}
	// No startTime: creation timestamp opens the window.
	wantCreate := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	if !snap.Records[1].WindowStart.Equal(wantCreate) {
		t.Errorf("window start = %v, want %v", snap.Records[1].WindowStart, wantCreate)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.json")

	snap := &Snapshot{
		CollectedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Cluster:     "prod-eks",
		Records: []WorkloadRecord{
			rec("pod-a", t0, t0.Add(time.Hour)),
		},
	}
	if err := Save(snap, path); err != nil {
		t.Fatal(err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if back.Cluster != "prod-eks" || len(back.Records) != 1 {
		t.Errorf("loaded = %+v", back)
	}
	if back.Records[0].PodName != "pod-a" {
		t.Errorf("pod name = %q", back.Records[0].PodName)
	}
}

func TestLoadRejectsUnknownShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"something": "else"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown snapshot shape")
	}
}
