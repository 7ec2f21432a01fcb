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

package observe

import (
	"context"
	"fmt"
	"io"
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
)

// PollConfig carries the poll loop's knobs. The zero value polls on the
// real clock at DefaultInterval and discards progress output.
type PollConfig struct {
	Clock    clock.Clock
	Interval time.Duration
	Progress io.Writer
}

func (c PollConfig) withDefaults() PollConfig {
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Progress == nil {
		c.Progress = io.Discard
	}
	return c
}

// PollUntil drives observe at a fixed interval until it reports done, the
// timeout elapses, or the context is canceled. The first observation
// happens immediately and the bound is checked after each sleep, so a 5s
// bound with a 2s interval allows at most three observations. Exceeding
// the bound always surfaces as a *TimeoutError, never a retry.
func PollUntil[S fmt.Stringer](ctx context.Context, cfg PollConfig, op string, timeout time.Duration, observe func(context.Context) (S, bool, error)) (S, error) {
	cfg = cfg.withDefaults()
	logger := klog.FromContext(ctx)
	logger.V(2).Info("polling", "op", op, "timeout", timeout, "interval", cfg.Interval)
	start := cfg.Clock.Now()
	var last S
	dots := false
	finish := func() {
		if dots {
			fmt.Fprintln(cfg.Progress) //nolint:errcheck
		}
	}
	for {
		state, done, err := observe(ctx)
		last = state
		if err != nil {
			finish()
			return last, err
		}
		if done {
			finish()
			logger.V(2).Info("condition satisfied", "op", op, "elapsed", cfg.Clock.Since(start))
			return last, nil
		}
		logger.V(4).Info("condition not satisfied yet", "op", op, "state", last)
		fmt.Fprint(cfg.Progress, ".") //nolint:errcheck
		dots = true
		if err := sleep(ctx, cfg.Clock, cfg.Interval); err != nil {
			finish()
			return last, err
		}
		if elapsed := cfg.Clock.Since(start); elapsed >= timeout {
			finish()
			return last, &TimeoutError{Op: op, Timeout: timeout, Elapsed: elapsed, LastState: last}
		}
	}
}

func sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
