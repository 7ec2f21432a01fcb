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

package api

import (
	"fmt"
	"strings"
	"time"
)

// A measurement run applies one workload manifest for a chosen image
// delivery mode, drives the resulting pod through its startup phases,
// and reduces the timestamps observed along the way into a DurationReport.
// Runs are strictly sequential; the types here carry per-run state
// explicitly rather than leaning on process-wide variables.

// Mode identifies a container-image delivery strategy under measurement.
type Mode string

const (
	// ModeStandard pulls the full image from the registry before start.
	ModeStandard Mode = "standard"

	// ModeStreaming lazily loads image layers on demand at pod start.
	ModeStreaming Mode = "streaming"

	// ModeBootDisk serves image content from a pre-baked secondary disk
	// attached at node boot.
	ModeBootDisk Mode = "bootdisk"

	// ModeRunAI streams model weights from remote object storage into the
	// inference process instead of materializing them locally first.
	ModeRunAI Mode = "runai"
)

// AllModes lists every known mode in presentation order.
var AllModes = []Mode{ModeStandard, ModeStreaming, ModeBootDisk, ModeRunAI}

// ParseMode maps a user-supplied mode name to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllModes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q, known modes are %s", s, ModeNames())
}

// ModeNames returns the known mode names joined for error and help text.
func ModeNames() string {
	names := make([]string, len(AllModes))
	for i, m := range AllModes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

// DisplayName returns the mode name used in rendered tables.
func (m Mode) DisplayName() string {
	switch m {
	case ModeStandard:
		return "Standard"
	case ModeStreaming:
		return "Streaming"
	case ModeBootDisk:
		return "Boot disk"
	case ModeRunAI:
		return "RunAI"
	default:
		return string(m)
	}
}

// DeploymentTarget identifies the workload one run applies and watches.
// Immutable for the duration of the run.
type DeploymentTarget struct {
	// Manifest is the path of the YAML manifest applied for this run.
	Manifest string

	// Namespace scopes every query and mutation of the run.
	Namespace string

	// Selector is the label selector matching the workload's pods.
	Selector string

	// Container is the name of the container whose startup is measured.
	Container string
}

// PhaseTimestamps collects the wall-clock facts observed during one run.
// Each field is zero until observed and is never retracted; once set the
// collection is monotonic non-decreasing (Scheduled is not before Creation,
// and so on). Cluster metadata is authoritative for Creation through
// ContainerRunning; ApplyInvocation and AppReady come from the local clock.
type PhaseTimestamps struct {
	// ApplyInvocation is when the run issued the manifest apply.
	ApplyInvocation time.Time

	// Creation is the pod's creation timestamp.
	Creation time.Time

	// Scheduled is when the scheduler bound the pod to a node.
	Scheduled time.Time

	// PullStart and PullEnd bracket the image pull, taken from the pod's
	// Pulling and Pulled events.
	PullStart time.Time
	PullEnd   time.Time

	// PullObserved records whether both pull events were actually seen.
	// Streaming modes may legitimately never report a pull, which is not
	// the same thing as a zero-length pull.
	PullObserved bool

	// ContainerRunning is when the measured container entered the running
	// state.
	ContainerRunning time.Time

	// AppReady is when the application announced readiness in its log.
	AppReady time.Time
}

// DurationReport is the derived, read-only view over a completed
// PhaseTimestamps. Whole-phase durations are integer seconds; sub-phase
// durations scraped from application logs keep their fractional part.
type DurationReport struct {
	NodeProvisioningSec int64 `json:"nodeProvisioningSec"`

	ImagePullSec int64 `json:"imagePullSec"`

	// ImagePullMeasured distinguishes a zero-length pull from a pull that
	// was never observed.
	ImagePullMeasured bool `json:"imagePullMeasured"`

	RuntimeStartupSec int64 `json:"runtimeStartupSec"`

	TotalWallClockSec int64 `json:"totalWallClockSec"`

	// SubPhases holds durations parsed from the application log, in
	// seconds, keyed by phase name (weight load, compile, graph capture).
	SubPhases map[string]float64 `json:"subPhases,omitempty"`

	// Anomalies flags defect signals such as negative durations from clock
	// skew or out-of-order events. The offending values are reported as
	// computed, never clamped.
	Anomalies []string `json:"anomalies,omitempty"`
}

// RunRecord ties a DurationReport to the run that produced it.
type RunRecord struct {
	ID        string         `json:"id"`
	Mode      Mode           `json:"mode"`
	PodName   string         `json:"podName"`
	NodeName  string         `json:"nodeName"`
	StartedAt time.Time      `json:"startedAt"`
	Report    DurationReport `json:"report"`
}

// Comparison holds the run records of a multi-mode invocation and the
// outcome of comparing their total wall-clock times.
type Comparison struct {
	Records []RunRecord `json:"records"`

	// Fastest is empty when the minimum total is shared between modes;
	// a tie asserts no winner.
	Fastest Mode `json:"fastest,omitempty"`

	// ImprovementSec is the slowest total minus the fastest total.
	ImprovementSec int64 `json:"improvementSec"`
}

// HasWinner reports whether exactly one mode had the lowest total.
func (c Comparison) HasWinner() bool {
	return c.Fastest != ""
}
