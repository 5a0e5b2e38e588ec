// Package kubernetes provides a membership pulse.Source over pod readiness,
// using the Watch API.
package kubernetes

import (
	"context"
	"fmt"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pulse"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
)

// Source reports one engine per pod matching a label selector. A pod whose
// Ready condition is true reports alive; any other phase or condition, and
// pod deletion, reports failed. The engine id is the pod name.
type Source struct {
	client    kubernetes.Interface
	namespace string
	selector  string
	resync    time.Duration
	expire    int
	clock     clockz.Clock
}

// Option configures a Source.
type Option func(*Source)

// WithResync sets the replay interval. Defaults to pulse.DefaultResyncInterval.
func WithResync(d time.Duration) Option {
	return func(s *Source) {
		s.resync = d
	}
}

// WithExpire sets how many replays a departed member receives before it is
// forgotten. Defaults to pulse.DefaultResyncExpire; zero never forgets.
func WithExpire(n int) Option {
	return func(s *Source) {
		s.expire = n
	}
}

// WithClock sets the clock driving replays.
func WithClock(clock clockz.Clock) Option {
	return func(s *Source) {
		s.clock = clock
	}
}

// New creates a Source for pods in namespace matching selector, for example
// "app=engine".
func New(client kubernetes.Interface, namespace, selector string, opts ...Option) *Source {
	s := &Source{
		client:    client,
		namespace: namespace,
		selector:  selector,
		resync:    pulse.DefaultResyncInterval,
		expire:    pulse.DefaultResyncExpire,
		clock:     clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch lists matching pods, then follows changes. The watch is re-established
// from a fresh list when the API server ends it.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	edges := make(chan pulse.Signal)

	go func() {
		defer close(edges)

		for {
			if err := s.watchLoop(ctx, edges); err != nil {
				if ctx.Err() != nil {
					return
				}
				capitan.Emit(ctx, pulse.SourceDecodeFailed,
					pulse.KeySource.Field("kubernetes:"+s.namespace+"/"+s.selector),
					pulse.KeyError.Field(err.Error()),
				)
				// Reconnect on error
				select {
				case <-ctx.Done():
					return
				case <-s.clock.After(time.Second):
				}
				continue
			}
			return
		}
	}()

	return pulse.NewResyncer(s.resync).Expire(s.expire).Clock(s.clock).Run(ctx, edges), nil
}

func (s *Source) watchLoop(ctx context.Context, out chan<- pulse.Signal) error {
	pods := s.client.CoreV1().Pods(s.namespace)

	list, err := pods.List(ctx, metav1.ListOptions{LabelSelector: s.selector})
	if err != nil {
		return fmt.Errorf("failed to list pods: %w", err)
	}
	for i := range list.Items {
		select {
		case out <- podSignal(&list.Items[i], false):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	watcher, err := pods.Watch(ctx, metav1.ListOptions{
		LabelSelector:   s.selector,
		ResourceVersion: list.ResourceVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to start watch: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed")
			}

			if event.Type == watch.Error {
				return fmt.Errorf("watch error: %v", event.Object)
			}

			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}

			select {
			case out <- podSignal(pod, event.Type == watch.Deleted):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// podSignal classifies a pod.
func podSignal(pod *corev1.Pod, deleted bool) pulse.Signal {
	kind := pulse.KindFailure
	if !deleted && pod.DeletionTimestamp == nil && podReady(pod) {
		kind = pulse.KindSuccess
	}
	return pulse.Signal{Engine: pulse.EngineID(pod.Name), Kind: kind}
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}
