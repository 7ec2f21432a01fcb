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
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
)

// TimeoutError reports a poll that exceeded its bound. It carries the
// elapsed time and the last observed state so a human can diagnose the
// failure and re-invoke; the run itself never retries.
type TimeoutError struct {
	// Op names the condition being waited for.
	Op string

	// Timeout is the configured bound; Elapsed is how long the poll
	// actually ran before giving up.
	Timeout time.Duration
	Elapsed time.Duration

	// LastState is the most recent observation. Pod waits store a *State
	// here; other waits store whatever they watch.
	LastState fmt.Stringer
}

func (e *TimeoutError) Error() string {
	last := "nothing observed"
	if e.LastState != nil {
		last = e.LastState.String()
	}
	return fmt.Sprintf("timed out %s after %s (limit %s); last observed: %s",
		e.Op, e.Elapsed, e.Timeout, last)
}

// PodFailedError reports that the target pod reached the Failed phase.
// The run aborts; a failed pod cannot produce a meaningful measurement.
type PodFailedError struct {
	PodName string
	Phase   corev1.PodPhase
	Reason  string
	Message string
}

func (e *PodFailedError) Error() string {
	msg := fmt.Sprintf("pod %s reported terminal phase %s", e.PodName, e.Phase)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Message != "" {
		msg += " (" + e.Message + ")"
	}
	return msg
}
