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

// Package report reduces observed phase timestamps into named durations and
// renders single-run and side-by-side comparison reports.
package report

import (
	"fmt"
	"time"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
)

// Reduce derives the duration report from a run's timestamp set plus the
// sub-phase durations scraped from the application log.
//
//	nodeProvisioning = scheduled - creation
//	imagePull        = pullEnd - pullStart (0 unless both events observed)
//	runtimeStartup   = containerRunning - scheduled - imagePull
//	totalWallClock   = appReady - applyInvocation
//
// All whole-phase durations are integer seconds. A negative duration means
// clock skew or out-of-order events; it is flagged in Anomalies and reported
// as computed, never clamped.
func Reduce(ts api.PhaseTimestamps, subPhases map[string]float64) api.DurationReport {
	rep := api.DurationReport{
		NodeProvisioningSec: seconds(ts.Creation, ts.Scheduled),
		TotalWallClockSec:   seconds(ts.ApplyInvocation, ts.AppReady),
		SubPhases:           subPhases,
	}
	if ts.PullObserved {
		rep.ImagePullSec = seconds(ts.PullStart, ts.PullEnd)
		rep.ImagePullMeasured = true
	}
	rep.RuntimeStartupSec = seconds(ts.Scheduled, ts.ContainerRunning) - rep.ImagePullSec

	if rep.NodeProvisioningSec < 0 {
		rep.Anomalies = append(rep.Anomalies, fmt.Sprintf(
			"node provisioning is negative (%ds): pod reports being scheduled before it was created",
			rep.NodeProvisioningSec))
	}
	if rep.ImagePullSec < 0 {
		rep.Anomalies = append(rep.Anomalies, fmt.Sprintf(
			"image pull is negative (%ds): Pulled event precedes Pulling event",
			rep.ImagePullSec))
	}
	if rep.RuntimeStartupSec < 0 {
		rep.Anomalies = append(rep.Anomalies, fmt.Sprintf(
			"runtime startup is negative (%ds): container start precedes scheduling plus image pull",
			rep.RuntimeStartupSec))
	}
	if rep.TotalWallClockSec < 0 {
		rep.Anomalies = append(rep.Anomalies, fmt.Sprintf(
			"total wall clock is negative (%ds): readiness precedes the apply invocation",
			rep.TotalWallClockSec))
	}
	return rep
}

// seconds returns to-from in whole seconds, or 0 when either side was never
// observed. Missing data is not an error here; callers that care about the
// difference carry their own observed flags.
func seconds(from, to time.Time) int64 {
	if from.IsZero() || to.IsZero() {
		return 0
	}
	return int64(to.Sub(from) / time.Second)
}

// Compare ranks run records by total wall-clock time. The fastest mode is
// the argmin of the totals; when the minimum is shared there is no winner
// and callers must report "not faster" rather than asserting one.
// ImprovementSec is the spread between the slowest and fastest totals.
func Compare(records []api.RunRecord) api.Comparison {
	cmp := api.Comparison{Records: records}
	if len(records) == 0 {
		return cmp
	}

	minIdx, minCount := 0, 1
	maxIdx := 0
	for i := 1; i < len(records); i++ {
		total := records[i].Report.TotalWallClockSec
		switch {
		case total < records[minIdx].Report.TotalWallClockSec:
			minIdx, minCount = i, 1
		case total == records[minIdx].Report.TotalWallClockSec:
			minCount++
		}
		if total > records[maxIdx].Report.TotalWallClockSec {
			maxIdx = i
		}
	}

	cmp.ImprovementSec = records[maxIdx].Report.TotalWallClockSec - records[minIdx].Report.TotalWallClockSec
	if minCount == 1 {
		cmp.Fastest = records[minIdx].Mode
	}
	return cmp
}
