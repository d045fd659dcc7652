package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func testPod(ns, name, sa, ip string, start time.Time) *corev1.Pod {
	st := metav1.NewTime(start)
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: ns},
		Spec:       corev1.PodSpec{ServiceAccountName: sa},
		Status:     corev1.PodStatus{PodIP: ip, StartTime: &st},
	}
}

func TestCollect(t *testing.T) {
	clientset := fake.NewClientset(
		testPod("harbor", "harbor-registry-x2kqp", "harbor-registry", "10.0.1.5", t0),
		testPod("default", "web-abc", "web", "10.0.2.7", t0.Add(time.Minute)),
	)

	snap, err := Collect(context.Background(), clientset, CollectOptions{Cluster: "test"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 2 {
		t.Fatalf("got %d records, want 2", len(snap.Records))
	}
	if snap.Cluster != "test" {
		t.Errorf("cluster = %q", snap.Cluster)
	}
	if snap.CollectedAt.IsZero() {
		t.Error("collected_at not set")
	}

	found := false
	for _, r := range snap.Records {
		if r.PodName == "harbor-registry-x2kqp" {
			found = true
			if r.ServiceAccount != "harbor-registry" || r.PodAddress != "10.0.1.5" {
				t.Errorf("record = %+v", r)
			}
		}
	}
	if !found {
		t.Error("harbor pod missing from snapshot")
	}
}

func TestCollectNamespaceScoped(t *testing.T) {
	clientset := fake.NewClientset(
		testPod("harbor", "a", "sa", "10.0.1.5", t0),
		testPod("other", "b", "sa", "10.0.1.6", t0),
	)

	snap, err := Collect(context.Background(), clientset, CollectOptions{Namespace: "harbor"})
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Records) != 1 || snap.Records[0].Namespace != "harbor" {
		t.Errorf("records = %+v", snap.Records)
	}
}

func TestCollectTimeout(t *testing.T) {
	clientset := fake.NewClientset()
	clientset.PrependReactor("list", "pods", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, context.DeadlineExceeded
	})

	_, err := Collect(context.Background(), clientset, CollectOptions{Timeout: time.Second})
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("err = %v, want ErrUpstreamTimeout", err)
	}
}
