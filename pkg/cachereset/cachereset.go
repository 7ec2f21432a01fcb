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

// Package cachereset evicts cached images from node container runtimes
// between runs, so a measurement labeled cold actually starts cold. The
// eviction runs as a DaemonSet that must report ready on every targeted
// node before the measurement may proceed; anything less silently turns a
// cold run into a warm one, which is why failures here are terminal.
package cachereset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/deploy"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/observe"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/utils/node"
)

// Controller runs the cache eviction workload.
type Controller struct {
	client   kubernetes.Interface
	applier  *deploy.Applier
	clock    clock.Clock
	interval time.Duration
	progress io.Writer
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock substitutes the clock used for poll sleeps.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(ctl *Controller) { ctl.interval = d }
}

// WithProgressWriter directs the dotted progress indicator.
func WithProgressWriter(w io.Writer) Option {
	return func(ctl *Controller) { ctl.progress = w }
}

// New returns a Controller working through the given client.
func New(client kubernetes.Interface, opts ...Option) *Controller {
	ctl := &Controller{
		client:   client,
		applier:  deploy.NewApplier(client),
		clock:    clock.RealClock{},
		interval: observe.DefaultInterval,
		progress: io.Discard,
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// daemonState is what the readiness poll reports.
type daemonState struct {
	Namespace string
	Name      string
	Desired   int32
	Ready     int32
}

func (s *daemonState) String() string {
	if s == nil {
		return "daemonset not observed"
	}
	return fmt.Sprintf("daemonset %s/%s ready %d/%d", s.Namespace, s.Name, s.Ready, s.Desired)
}

// ResetFile reads a cache reset manifest and runs it.
func (c *Controller) ResetFile(ctx context.Context, path, namespace string, timeout time.Duration) error {
	manifest, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read cache reset manifest %q: %w", path, err)
	}
	return c.Reset(ctx, manifest, namespace, timeout)
}

// Reset applies the eviction DaemonSet, waits until it is ready on every
// targeted node, then removes it. A timeout leaves the DaemonSet in place
// for inspection.
func (c *Controller) Reset(ctx context.Context, manifest []byte, namespace string, timeout time.Duration) error {
	logger := klog.FromContext(ctx)
	refs, err := c.applier.Apply(ctx, manifest, namespace)
	if err != nil {
		return fmt.Errorf("failed to apply cache reset manifest: %w", err)
	}

	var ds deploy.ObjectRef
	found := false
	for _, ref := range refs {
		if ref.Kind == "DaemonSet" {
			ds = ref
			found = true
			break
		}
	}
	if !found {
		if err := c.applier.Delete(ctx, refs); err != nil {
			logger.Error(err, "failed to remove objects of rejected cache reset manifest")
		}
		return errors.New("cache reset manifest must hold a DaemonSet")
	}

	if nodes, err := c.targetNodes(ctx, ds); err != nil {
		logger.Error(err, "could not determine cache reset target nodes")
	} else {
		logger.Info("resetting image caches", "daemonset", ds.Name, "nodeCount", len(nodes))
		logger.V(2).Info("cache reset target nodes", "nodes", node.Names(nodes))
	}

	op := fmt.Sprintf("waiting for cache reset daemonset %s/%s", ds.Namespace, ds.Name)
	cfg := observe.PollConfig{Clock: c.clock, Interval: c.interval, Progress: c.progress}
	_, err = observe.PollUntil(ctx, cfg, op, timeout, func(ctx context.Context) (*daemonState, bool, error) {
		obj, err := c.client.AppsV1().DaemonSets(ds.Namespace).Get(ctx, ds.Name, metav1.GetOptions{})
		if err != nil {
			return nil, false, fmt.Errorf("failed to read cache reset daemonset: %w", err)
		}
		st := &daemonState{
			Namespace: obj.Namespace,
			Name:      obj.Name,
			Desired:   obj.Status.DesiredNumberScheduled,
			Ready:     obj.Status.NumberReady,
		}
		return st, st.Desired > 0 && st.Ready >= st.Desired, nil
	})
	if err != nil {
		return fmt.Errorf("cache reset did not complete: %w", err)
	}

	logger.Info("cache reset complete", "daemonset", ds.Name)
	if err := c.applier.Delete(ctx, refs); err != nil {
		return fmt.Errorf("failed to remove cache reset workload: %w", err)
	}
	return nil
}

// targetNodes returns the nodes the eviction DaemonSet will land on,
// per its pod template's node selector.
func (c *Controller) targetNodes(ctx context.Context, ref deploy.ObjectRef) ([]corev1.Node, error) {
	ds, err := c.client.AppsV1().DaemonSets(ref.Namespace).Get(ctx, ref.Name, metav1.GetOptions{})
	if err != nil {
		return nil, err
	}
	nodes, err := c.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	return node.Filter(nodes.Items, ds.Spec.Template.Spec.NodeSelector), nil
}
