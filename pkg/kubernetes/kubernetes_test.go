package kubernetes

import (
	"context"
	"testing"
	"time"

	"github.com/zoobzio/pulse"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func pod(name string, phase corev1.PodPhase, ready corev1.ConditionStatus) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "default",
			Labels:    map[string]string{"app": "engine"},
		},
		Status: corev1.PodStatus{
			Phase: phase,
			Conditions: []corev1.PodCondition{
				{Type: corev1.PodReady, Status: ready},
			},
		},
	}
}

func expect(t *testing.T, ch <-chan pulse.Signal, id pulse.EngineID, kind pulse.SignalKind) {
	t.Helper()
	select {
	case sig := <-ch:
		if sig.Engine != id || sig.Kind != kind {
			t.Errorf("expected %s %s, got %+v", id, kind, sig)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout waiting for %s %s", id, kind)
	}
}

func TestPodSignal(t *testing.T) {
	tests := []struct {
		name    string
		pod     *corev1.Pod
		deleted bool
		want    pulse.SignalKind
	}{
		{"running and ready", pod("a", corev1.PodRunning, corev1.ConditionTrue), false, pulse.KindSuccess},
		{"running not ready", pod("a", corev1.PodRunning, corev1.ConditionFalse), false, pulse.KindFailure},
		{"pending", pod("a", corev1.PodPending, corev1.ConditionTrue), false, pulse.KindFailure},
		{"deleted", pod("a", corev1.PodRunning, corev1.ConditionTrue), true, pulse.KindFailure},
		{"no conditions", &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Name: "a"}, Status: corev1.PodStatus{Phase: corev1.PodRunning}}, false, pulse.KindFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := podSignal(tt.pod, tt.deleted)
			if sig.Engine != "a" {
				t.Errorf("expected engine a, got %s", sig.Engine)
			}
			if sig.Kind != tt.want {
				t.Errorf("expected %s, got %s", tt.want, sig.Kind)
			}
		})
	}
}

func TestPodSignal_Terminating(t *testing.T) {
	p := pod("a", corev1.PodRunning, corev1.ConditionTrue)
	now := metav1.Now()
	p.DeletionTimestamp = &now

	if sig := podSignal(p, false); sig.Kind != pulse.KindFailure {
		t.Errorf("expected terminating pod to fail, got %s", sig.Kind)
	}
}

func TestSource_ListsMatchingPods(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	other := pod("sidecar", corev1.PodRunning, corev1.ConditionTrue)
	other.Labels = map[string]string{"app": "other"}
	client := fake.NewSimpleClientset(pod("engine-1", corev1.PodRunning, corev1.ConditionTrue), other)

	ch, err := New(client, "default", "app=engine", WithResync(time.Hour)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	expect(t, ch, "engine-1", pulse.KindSuccess)

	select {
	case sig := <-ch:
		t.Errorf("unexpected signal %+v", sig)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSource_FollowsReadiness(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(pod("engine-1", corev1.PodRunning, corev1.ConditionTrue))

	ch, err := New(client, "default", "app=engine", WithResync(time.Hour)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	expect(t, ch, "engine-1", pulse.KindSuccess)

	// Allow the watch to be established
	time.Sleep(100 * time.Millisecond)

	_, err = client.CoreV1().Pods("default").Update(ctx, pod("engine-1", corev1.PodRunning, corev1.ConditionFalse), metav1.UpdateOptions{})
	if err != nil {
		t.Fatalf("failed to update pod: %v", err)
	}
	expect(t, ch, "engine-1", pulse.KindFailure)

	if err := client.CoreV1().Pods("default").Delete(ctx, "engine-1", metav1.DeleteOptions{}); err != nil {
		t.Fatalf("failed to delete pod: %v", err)
	}
	expect(t, ch, "engine-1", pulse.KindFailure)
}

func TestSource_ClosesOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := fake.NewSimpleClientset(pod("engine-1", corev1.PodRunning, corev1.ConditionTrue))

	ch, err := New(client, "default", "app=engine", WithResync(time.Hour)).Watch(ctx)
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	// Drain initial
	<-ch
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel to close")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}
