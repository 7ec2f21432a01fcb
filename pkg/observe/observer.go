/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package observe polls cluster state until a condition holds or a bound
// elapses. The observer only reads; applying and deleting workloads belong
// elsewhere, which keeps the poll loops free of observer/actor races.
package observe

import (
	"context"
	"fmt"
	"io"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/scrape"
)

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 2 * time.Second

// Kubelet event reasons bracketing an image pull.
const (
	eventReasonPulling = "Pulling"
	eventReasonPulled  = "Pulled"
)

// LogReader fetches the current log text of one container.
type LogReader func(ctx context.Context, namespace, pod, container string) (string, error)

// Observer answers "has the cluster reached this state yet?" by polling at
// a fixed interval. Suspension happens only inside the poll sleep, on an
// injectable clock so tests can simulate time without real delays.
type Observer struct {
	client   kubernetes.Interface
	clock    clock.Clock
	interval time.Duration
	progress io.Writer
	logs     LogReader
}

// Option configures an Observer.
type Option func(*Observer)

// WithClock substitutes the clock used for poll sleeps and elapsed time.
func WithClock(c clock.Clock) Option {
	return func(o *Observer) { o.clock = c }
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(o *Observer) { o.interval = d }
}

// WithProgressWriter directs the dotted progress indicator, one dot per
// unsatisfied poll. Defaults to discarding it.
func WithProgressWriter(w io.Writer) Option {
	return func(o *Observer) { o.progress = w }
}

// WithLogReader substitutes how container logs are fetched.
func WithLogReader(r LogReader) Option {
	return func(o *Observer) { o.logs = r }
}

// New returns an Observer reading through the given client.
func New(client kubernetes.Interface, opts ...Option) *Observer {
	o := &Observer{
		client:   client,
		clock:    clock.RealClock{},
		interval: DefaultInterval,
		progress: io.Discard,
	}
	o.logs = o.containerLog
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State is the reduced view of the target pod that predicates see. It is
// also what a TimeoutError reports as the last observed state.
type State struct {
	PodName   string
	Namespace string
	NodeName  string
	Phase     corev1.PodPhase

	// Container is the reduced state of the measured container:
	// "running", "waiting:<reason>", "terminated:<reason>", or "absent".
	Container string

	// Ready mirrors the pod's Ready condition.
	Ready bool

	// Creation, Scheduled and ContainerStarted are the cluster-reported
	// timestamps feeding the duration report.
	Creation         time.Time
	Scheduled        time.Time
	ContainerStarted time.Time
}

func (s *State) String() string {
	if s == nil {
		return "no matching pod observed"
	}
	node := s.NodeName
	if node == "" {
		node = "<none>"
	}
	return fmt.Sprintf("pod %s phase=%s node=%s container=%s ready=%t",
		s.PodName, s.Phase, node, s.Container, s.Ready)
}

// AwaitPodScheduled waits until a matching pod exists with a node assigned
// and the PodScheduled condition recorded, so the scheduling timestamp is
// available to the reducer.
func (o *Observer) AwaitPodScheduled(ctx context.Context, target api.DeploymentTarget, timeout time.Duration) (*State, error) {
	return o.pollUntil(ctx, "waiting for pod to be scheduled", timeout, func(ctx context.Context) (*State, bool, error) {
		pod, err := o.currentPod(ctx, target)
		if err != nil || pod == nil {
			return nil, false, err
		}
		st := snapshot(pod, target.Container)
		if err := failedCheck(pod); err != nil {
			return st, false, err
		}
		return st, pod.Spec.NodeName != "" && !st.Scheduled.IsZero(), nil
	})
}

// AwaitContainerRunning waits until the measured container reports a
// running state. The returned state carries the container's start time.
func (o *Observer) AwaitContainerRunning(ctx context.Context, target api.DeploymentTarget, timeout time.Duration) (*State, error) {
	op := fmt.Sprintf("waiting for container %q to run", target.Container)
	return o.pollUntil(ctx, op, timeout, func(ctx context.Context) (*State, bool, error) {
		pod, err := o.currentPod(ctx, target)
		if err != nil || pod == nil {
			return nil, false, err
		}
		st := snapshot(pod, target.Container)
		if err := failedCheck(pod); err != nil {
			return st, false, err
		}
		return st, !st.ContainerStarted.IsZero(), nil
	})
}

// AwaitLogMarker waits until the container log contains the marker phrase.
// Log reads that fail while the container is coming up count as "no match
// yet" rather than aborting the wait; a persistent failure still surfaces
// through the timeout.
func (o *Observer) AwaitLogMarker(ctx context.Context, target api.DeploymentTarget, marker string, timeout time.Duration) (*State, error) {
	op := fmt.Sprintf("waiting for log marker %q", marker)
	logger := klog.FromContext(ctx)
	return o.pollUntil(ctx, op, timeout, func(ctx context.Context) (*State, bool, error) {
		pod, err := o.currentPod(ctx, target)
		if err != nil || pod == nil {
			return nil, false, err
		}
		st := snapshot(pod, target.Container)
		if err := failedCheck(pod); err != nil {
			return st, false, err
		}
		text, err := o.logs(ctx, pod.Namespace, pod.Name, target.Container)
		if err != nil {
			logger.V(4).Info("log read failed, treating as no match yet", "pod", pod.Name, "err", err)
			return st, false, nil
		}
		return st, scrape.ContainsMarker(text, marker), nil
	})
}

// AwaitGone waits until no pod at all matches the selector. A later run
// assumes exclusive ownership of the selector, so even pods that are
// already terminating must disappear first.
func (o *Observer) AwaitGone(ctx context.Context, target api.DeploymentTarget, timeout time.Duration) error {
	_, err := o.pollUntil(ctx, "waiting for previous pods to go away", timeout, func(ctx context.Context) (*State, bool, error) {
		list, err := o.client.CoreV1().Pods(target.Namespace).List(ctx, metav1.ListOptions{LabelSelector: target.Selector})
		if err != nil {
			return nil, false, fmt.Errorf("failed to list pods matching %q: %w", target.Selector, err)
		}
		if len(list.Items) == 0 {
			return nil, true, nil
		}
		return snapshot(&list.Items[0], target.Container), false, nil
	})
	return err
}

// ContainerLog returns the full current log text of the container.
func (o *Observer) ContainerLog(ctx context.Context, namespace, pod, container string) (string, error) {
	return o.logs(ctx, namespace, pod, container)
}

// PullEvents returns the first Pulling and Pulled event times recorded for
// the pod. Observed is true only when both are present; a mode that
// streams its image may never emit them, which is not the same thing as an
// instantaneous pull.
func (o *Observer) PullEvents(ctx context.Context, namespace, podName string) (start, end time.Time, observed bool, err error) {
	sel := fields.AndSelectors(
		fields.OneTermEqualSelector("involvedObject.kind", "Pod"),
		fields.OneTermEqualSelector("involvedObject.name", podName),
	).String()
	list, err := o.client.CoreV1().Events(namespace).List(ctx, metav1.ListOptions{FieldSelector: sel})
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("failed to list events for pod %s/%s: %w", namespace, podName, err)
	}
	for i := range list.Items {
		ev := &list.Items[i]
		// The field selector is advisory; filter locally too.
		if ev.InvolvedObject.Kind != "Pod" || ev.InvolvedObject.Name != podName {
			continue
		}
		t := eventTime(ev)
		if t.IsZero() {
			continue
		}
		switch ev.Reason {
		case eventReasonPulling:
			if start.IsZero() || t.Before(start) {
				start = t
			}
		case eventReasonPulled:
			if end.IsZero() || t.Before(end) {
				end = t
			}
		}
	}
	return start, end, !start.IsZero() && !end.IsZero(), nil
}

// pollUntil runs PollUntil with the observer's knobs, remembering the
// most recent pod sighting so a pod that vanishes mid-wait still shows up
// in the timeout diagnostics.
func (o *Observer) pollUntil(ctx context.Context, op string, timeout time.Duration, observe func(context.Context) (*State, bool, error)) (*State, error) {
	var last *State
	keepLast := func(ctx context.Context) (*State, bool, error) {
		state, done, err := observe(ctx)
		if state != nil {
			last = state
		}
		return last, done, err
	}
	cfg := PollConfig{Clock: o.clock, Interval: o.interval, Progress: o.progress}
	return PollUntil(ctx, cfg, op, timeout, keepLast)
}

// currentPod returns the most recently created matching pod that is not
// terminating, or nil when none matches. A workload controller may replace
// its pod mid-run; tracking the newest keeps the observer off the stale
// identity.
func (o *Observer) currentPod(ctx context.Context, target api.DeploymentTarget) (*corev1.Pod, error) {
	list, err := o.client.CoreV1().Pods(target.Namespace).List(ctx, metav1.ListOptions{LabelSelector: target.Selector})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods matching %q: %w", target.Selector, err)
	}
	var newest *corev1.Pod
	for i := range list.Items {
		pod := &list.Items[i]
		if pod.DeletionTimestamp != nil {
			continue
		}
		if newest == nil || pod.CreationTimestamp.Time.After(newest.CreationTimestamp.Time) {
			newest = pod
		}
	}
	return newest, nil
}

func failedCheck(pod *corev1.Pod) error {
	if pod.Status.Phase == corev1.PodFailed {
		return &PodFailedError{
			PodName: pod.Name,
			Phase:   pod.Status.Phase,
			Reason:  pod.Status.Reason,
			Message: pod.Status.Message,
		}
	}
	return nil
}

func snapshot(pod *corev1.Pod, container string) *State {
	st := &State{
		PodName:   pod.Name,
		Namespace: pod.Namespace,
		NodeName:  pod.Spec.NodeName,
		Phase:     pod.Status.Phase,
		Ready:     isPodReady(pod),
		Creation:  pod.CreationTimestamp.Time,
		Container: "absent",
	}
	for i := range pod.Status.Conditions {
		cond := &pod.Status.Conditions[i]
		if cond.Type == corev1.PodScheduled && cond.Status == corev1.ConditionTrue {
			st.Scheduled = cond.LastTransitionTime.Time
			break
		}
	}
	for i := range pod.Status.ContainerStatuses {
		cs := &pod.Status.ContainerStatuses[i]
		if cs.Name != container {
			continue
		}
		st.Container = reduceContainerState(cs.State)
		if cs.State.Running != nil {
			st.ContainerStarted = cs.State.Running.StartedAt.Time
		}
		break
	}
	return st
}

// reduceContainerState is the subset of corev1.ContainerState worth
// reporting in progress lines and errors.
func reduceContainerState(state corev1.ContainerState) string {
	switch {
	case state.Running != nil:
		return "running"
	case state.Terminated != nil:
		return "terminated:" + state.Terminated.Reason
	case state.Waiting != nil && state.Waiting.Reason != "":
		return "waiting:" + state.Waiting.Reason
	default:
		return "waiting"
	}
}

func isPodReady(pod *corev1.Pod) bool {
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady && cond.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

func (o *Observer) containerLog(ctx context.Context, namespace, pod, container string) (string, error) {
	raw, err := o.client.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{Container: container}).Do(ctx).Raw()
	if err != nil {
		return "", fmt.Errorf("failed to read log of container %q in pod %s/%s: %w", container, namespace, pod, err)
	}
	return string(raw), nil
}

func eventTime(ev *corev1.Event) time.Time {
	if !ev.FirstTimestamp.IsZero() {
		return ev.FirstTimestamp.Time
	}
	return ev.EventTime.Time
}
