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

// Package bench drives a full startup measurement: clean slate, optional
// cache eviction, apply, then the timed waits from scheduling to
// application readiness. One Runner measures one mode at a time; modes run
// strictly one after another so they never compete for cluster capacity.
package bench

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/cachereset"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/deploy"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/observe"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/report"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/scrape"
)

// RunConfig describes one measured startup.
type RunConfig struct {
	Mode   api.Mode
	Target api.DeploymentTarget

	// ReadyMarker is the log phrase that counts as "application ready".
	// Empty selects scrape.DefaultReadyMarker.
	ReadyMarker string

	// Markers are the sub-phase markers scraped from the log after the
	// run. Empty selects scrape.DefaultMarkers.
	Markers []scrape.Marker

	// ColdStart evicts node image caches before applying, so the run
	// cannot be flattered by a previous run's cached image.
	ColdStart bool

	// CacheResetManifest is the eviction workload, required when
	// ColdStart is set.
	CacheResetManifest string
}

// Timeouts bounds each wait of a run. A run exceeding any of them fails;
// there are no retries.
type Timeouts struct {
	Cleanup    time.Duration
	CacheReset time.Duration
	Scheduled  time.Duration
	Running    time.Duration
	Ready      time.Duration
}

// Runner executes measurement runs against one cluster.
type Runner struct {
	client    kubernetes.Interface
	clock     clock.Clock
	interval  time.Duration
	out       io.Writer
	logReader observe.LogReader
	timeouts  Timeouts

	observer *observe.Observer
	applier  *deploy.Applier
	resetter *cachereset.Controller
}

// Option configures a Runner.
type Option func(*Runner)

// WithClock substitutes the clock used for waits and local timestamps.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithInterval sets the poll interval of every wait.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// WithOutput directs phase announcements and poll progress. Defaults to
// discarding them.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithLogReader substitutes how container logs are fetched.
func WithLogReader(lr observe.LogReader) Option {
	return func(r *Runner) { r.logReader = lr }
}

// New returns a Runner working through the given client.
func New(client kubernetes.Interface, timeouts Timeouts, opts ...Option) *Runner {
	r := &Runner{
		client:   client,
		clock:    clock.RealClock{},
		interval: observe.DefaultInterval,
		out:      io.Discard,
		timeouts: timeouts,
	}
	for _, opt := range opts {
		opt(r)
	}

	obsOpts := []observe.Option{
		observe.WithClock(r.clock),
		observe.WithInterval(r.interval),
		observe.WithProgressWriter(r.out),
	}
	if r.logReader != nil {
		obsOpts = append(obsOpts, observe.WithLogReader(r.logReader))
	}
	r.observer = observe.New(client, obsOpts...)
	r.applier = deploy.NewApplier(client)
	r.resetter = cachereset.New(client,
		cachereset.WithClock(r.clock),
		cachereset.WithInterval(r.interval),
		cachereset.WithProgressWriter(r.out))
	return r
}

// RunAll measures each configured mode in order, stopping at the first
// failure. The records gathered before the failure are returned alongside
// the error so a partially completed invocation still reports something.
func (r *Runner) RunAll(ctx context.Context, cfgs []RunConfig) ([]api.RunRecord, error) {
	records := make([]api.RunRecord, 0, len(cfgs))
	for _, cfg := range cfgs {
		rec, err := r.Run(ctx, cfg)
		if err != nil {
			return records, fmt.Errorf("%s run failed: %w", cfg.Mode, err)
		}
		records = append(records, *rec)
	}
	return records, nil
}

// Run executes one measurement. The phases are announced on the output
// writer as they start; any failed wait aborts the run with the wait's
// error.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*api.RunRecord, error) {
	logger := klog.FromContext(ctx)
	startedAt := r.clock.Now()
	fmt.Fprintf(r.out, "\n=== %s ===\n", cfg.Mode.DisplayName()) //nolint:errcheck

	fmt.Fprintf(r.out, "Phase 1: removing previous workloads\n") //nolint:errcheck
	if err := r.applier.DeleteBySelector(ctx, cfg.Target.Namespace, cfg.Target.Selector); err != nil {
		return nil, err
	}
	if err := r.observer.AwaitGone(ctx, cfg.Target, r.timeouts.Cleanup); err != nil {
		return nil, err
	}

	if cfg.ColdStart {
		fmt.Fprintf(r.out, "Phase 2: resetting node image caches\n") //nolint:errcheck
		if err := r.resetter.ResetFile(ctx, cfg.CacheResetManifest, cfg.Target.Namespace, r.timeouts.CacheReset); err != nil {
			return nil, err
		}
	} else {
		fmt.Fprintf(r.out, "Phase 2: cache reset not required\n") //nolint:errcheck
	}

	fmt.Fprintf(r.out, "Phase 3: applying %s\n", cfg.Target.Manifest) //nolint:errcheck
	applyAt := r.clock.Now()
	if _, err := r.applier.ApplyFile(ctx, cfg.Target.Manifest, cfg.Target.Namespace); err != nil {
		return nil, err
	}

	fmt.Fprintf(r.out, "Phase 4: waiting for pod to be scheduled\n") //nolint:errcheck
	scheduled, err := r.observer.AwaitPodScheduled(ctx, cfg.Target, r.timeouts.Scheduled)
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(r.out, "Phase 5: waiting for container %q to run\n", cfg.Target.Container) //nolint:errcheck
	running, err := r.observer.AwaitContainerRunning(ctx, cfg.Target, r.timeouts.Running)
	if err != nil {
		return nil, err
	}

	marker := cfg.ReadyMarker
	if marker == "" {
		marker = scrape.DefaultReadyMarker
	}
	fmt.Fprintf(r.out, "Phase 6: waiting for log marker %q\n", marker) //nolint:errcheck
	if _, err := r.observer.AwaitLogMarker(ctx, cfg.Target, marker, r.timeouts.Ready); err != nil {
		return nil, err
	}
	readyAt := r.clock.Now()

	fmt.Fprintf(r.out, "Phase 7: collecting measurements\n") //nolint:errcheck
	pullStart, pullEnd, pullObserved, err := r.observer.PullEvents(ctx, cfg.Target.Namespace, running.PodName)
	if err != nil {
		return nil, err
	}

	markers := cfg.Markers
	if len(markers) == 0 {
		markers = scrape.DefaultMarkers
	}
	var subPhases map[string]float64
	if text, err := r.observer.ContainerLog(ctx, cfg.Target.Namespace, running.PodName, cfg.Target.Container); err != nil {
		logger.Error(err, "could not read container log for sub-phase durations", "pod", running.PodName)
	} else {
		subPhases = scrape.ExtractPhaseDurations(text, markers)
	}

	ts := api.PhaseTimestamps{
		ApplyInvocation:  applyAt,
		Creation:         scheduled.Creation,
		Scheduled:        scheduled.Scheduled,
		PullStart:        pullStart,
		PullEnd:          pullEnd,
		PullObserved:     pullObserved,
		ContainerRunning: running.ContainerStarted,
		AppReady:         readyAt,
	}
	rec := &api.RunRecord{
		ID:        uuid.NewString(),
		Mode:      cfg.Mode,
		PodName:   running.PodName,
		NodeName:  running.NodeName,
		StartedAt: startedAt,
		Report:    report.Reduce(ts, subPhases),
	}
	logger.Info("run complete",
		"mode", cfg.Mode,
		"pod", rec.PodName,
		"node", rec.NodeName,
		"totalSec", rec.Report.TotalWallClockSec)
	return rec, nil
}
