// Package snapshot models cluster state as workload records with observed
// activity windows, loaded from a file or captured live via client-go.
package snapshot

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUpstreamTimeout marks an external fetch that exceeded its bound. The
// stage fails without partially committing anything downstream.
var ErrUpstreamTimeout = errors.New("upstream fetch timed out")

// WorkloadRecord ties a pod to its identity and network address over an
// observed half-open window [start, end). A zero WindowEnd means the pod
// was still running when the snapshot was taken.
type WorkloadRecord struct {
	Namespace      string    `json:"namespace"`
	ServiceAccount string    `json:"service_account"`
	PodName        string    `json:"pod_name"`
	PodAddress     string    `json:"pod_address,omitempty"`
	WindowStart    time.Time `json:"window_start"`
	WindowEnd      time.Time `json:"window_end,omitempty"`
}

// Contains reports whether t falls inside the observed window, widened by
// slop at both boundaries.
func (r WorkloadRecord) Contains(t time.Time, slop time.Duration) bool {
	if !r.WindowStart.IsZero() && t.Before(r.WindowStart.Add(-slop)) {
		return false
	}
	if r.WindowEnd.IsZero() {
		return true
	}
	return t.Before(r.WindowEnd.Add(slop))
}

// Snapshot is one immutable capture of cluster workload state.
type Snapshot struct {
	CollectedAt time.Time        `json:"collected_at"`
	Cluster     string           `json:"cluster,omitempty"`
	Records     []WorkloadRecord `json:"records"`
}

// Overlap reports two records for the same pod with intersecting windows,
// which violates the snapshot invariant. The matcher tolerates it but it
// must be surfaced, never silently resolved.
type Overlap struct {
	PodName string
	First   WorkloadRecord
	Second  WorkloadRecord
}

func (o Overlap) String() string {
	return fmt.Sprintf("pod %q has overlapping observed windows", o.PodName)
}

// Validate checks the no-overlap invariant per pod name.
func (s *Snapshot) Validate() []Overlap {
	byPod := make(map[string][]WorkloadRecord)
	for _, r := range s.Records {
		byPod[r.PodName] = append(byPod[r.PodName], r)
	}

	var overlaps []Overlap
	names := make([]string, 0, len(byPod))
	for name := range byPod {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		records := byPod[name]
		sort.Slice(records, func(i, j int) bool {
			return records[i].WindowStart.Before(records[j].WindowStart)
		})
		for i := 1; i < len(records); i++ {
			prev := records[i-1]
			// prev window reaches into the next record's start
			if prev.WindowEnd.IsZero() || prev.WindowEnd.After(records[i].WindowStart) {
				overlaps = append(overlaps, Overlap{PodName: name, First: prev, Second: records[i]})
			}
		}
	}
	return overlaps
}
