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

package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name     string
		ts       api.PhaseTimestamps
		sub      map[string]float64
		expected api.DurationReport
	}{
		{
			name: "complete set with observed pull",
			ts: api.PhaseTimestamps{
				ApplyInvocation:  at(0),
				Creation:         at(5),
				Scheduled:        at(95),
				PullStart:        at(100),
				PullEnd:          at(283),
				PullObserved:     true,
				ContainerRunning: at(320),
				AppReady:         at(330),
			},
			sub: map[string]float64{"weight_load": 47.32},
			expected: api.DurationReport{
				NodeProvisioningSec: 90,
				ImagePullSec:        183,
				ImagePullMeasured:   true,
				RuntimeStartupSec:   42,
				TotalWallClockSec:   330,
				SubPhases:           map[string]float64{"weight_load": 47.32},
			},
		},
		{
			name: "missing pull events default to zero, flagged unmeasured",
			ts: api.PhaseTimestamps{
				ApplyInvocation:  at(0),
				Creation:         at(2),
				Scheduled:        at(10),
				ContainerRunning: at(22),
				AppReady:         at(45),
			},
			expected: api.DurationReport{
				NodeProvisioningSec: 8,
				ImagePullSec:        0,
				ImagePullMeasured:   false,
				RuntimeStartupSec:   12,
				TotalWallClockSec:   45,
			},
		},
		{
			name: "scheduled at creation yields zero provisioning",
			ts: api.PhaseTimestamps{
				ApplyInvocation:  at(0),
				Creation:         at(3),
				Scheduled:        at(3),
				ContainerRunning: at(9),
				AppReady:         at(20),
			},
			expected: api.DurationReport{
				NodeProvisioningSec: 0,
				RuntimeStartupSec:   6,
				TotalWallClockSec:   20,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reduce(tt.ts, tt.sub)
			if got.NodeProvisioningSec != tt.expected.NodeProvisioningSec {
				t.Errorf("NodeProvisioningSec = %d, expected %d", got.NodeProvisioningSec, tt.expected.NodeProvisioningSec)
			}
			if got.ImagePullSec != tt.expected.ImagePullSec {
				t.Errorf("ImagePullSec = %d, expected %d", got.ImagePullSec, tt.expected.ImagePullSec)
			}
			if got.ImagePullMeasured != tt.expected.ImagePullMeasured {
				t.Errorf("ImagePullMeasured = %v, expected %v", got.ImagePullMeasured, tt.expected.ImagePullMeasured)
			}
			if got.RuntimeStartupSec != tt.expected.RuntimeStartupSec {
				t.Errorf("RuntimeStartupSec = %d, expected %d", got.RuntimeStartupSec, tt.expected.RuntimeStartupSec)
			}
			if got.TotalWallClockSec != tt.expected.TotalWallClockSec {
				t.Errorf("TotalWallClockSec = %d, expected %d", got.TotalWallClockSec, tt.expected.TotalWallClockSec)
			}
			if got.NodeProvisioningSec < 0 {
				t.Errorf("scheduled at or after creation must yield non-negative provisioning, got %d", got.NodeProvisioningSec)
			}
			if len(got.Anomalies) != 0 {
				t.Errorf("unexpected anomalies: %v", got.Anomalies)
			}
		})
	}
}

func TestReduceFlagsNegativeDurations(t *testing.T) {
	ts := api.PhaseTimestamps{
		ApplyInvocation:  at(0),
		Creation:         at(10),
		Scheduled:        at(5), // precedes creation: clock skew
		ContainerRunning: at(20),
		AppReady:         at(30),
	}
	got := Reduce(ts, nil)
	if got.NodeProvisioningSec != -5 {
		t.Errorf("NodeProvisioningSec = %d, expected the computed -5, not a clamp", got.NodeProvisioningSec)
	}
	if len(got.Anomalies) == 0 {
		t.Fatalf("negative duration must be flagged as an anomaly")
	}
	if !strings.Contains(got.Anomalies[0], "node provisioning is negative") {
		t.Errorf("anomaly %q does not name the offending phase", got.Anomalies[0])
	}
}

func TestCompare(t *testing.T) {
	record := func(mode api.Mode, total int64) api.RunRecord {
		return api.RunRecord{Mode: mode, Report: api.DurationReport{TotalWallClockSec: total}}
	}
	tests := []struct {
		name           string
		records        []api.RunRecord
		expectedWinner api.Mode
		expectedGain   int64
	}{
		{
			name: "streaming beats standard",
			records: []api.RunRecord{
				record(api.ModeStandard, 300),
				record(api.ModeStreaming, 45),
			},
			expectedWinner: api.ModeStreaming,
			expectedGain:   255,
		},
		{
			name: "tie asserts no winner",
			records: []api.RunRecord{
				record(api.ModeStandard, 120),
				record(api.ModeStreaming, 120),
			},
			expectedWinner: "",
			expectedGain:   0,
		},
		{
			name: "three modes, improvement is the full spread",
			records: []api.RunRecord{
				record(api.ModeStandard, 300),
				record(api.ModeStreaming, 45),
				record(api.ModeRunAI, 60),
			},
			expectedWinner: api.ModeStreaming,
			expectedGain:   255,
		},
		{
			name:           "no records",
			records:        nil,
			expectedWinner: "",
			expectedGain:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.records)
			if got.Fastest != tt.expectedWinner {
				t.Errorf("Fastest = %q, expected %q", got.Fastest, tt.expectedWinner)
			}
			if got.ImprovementSec != tt.expectedGain {
				t.Errorf("ImprovementSec = %d, expected %d", got.ImprovementSec, tt.expectedGain)
			}
			if got.HasWinner() != (tt.expectedWinner != "") {
				t.Errorf("HasWinner() = %v, expected %v", got.HasWinner(), tt.expectedWinner != "")
			}
		})
	}
}

func TestRenderComparison(t *testing.T) {
	cmp := Compare([]api.RunRecord{
		{Mode: api.ModeStandard, Report: api.DurationReport{
			NodeProvisioningSec: 90, ImagePullSec: 183, ImagePullMeasured: true,
			RuntimeStartupSec: 17, TotalWallClockSec: 300,
			SubPhases: map[string]float64{"weight_load": 47.32},
		}},
		{Mode: api.ModeStreaming, Report: api.DurationReport{
			NodeProvisioningSec: 30, RuntimeStartupSec: 10, TotalWallClockSec: 45,
		}},
	})
	var buf bytes.Buffer
	RenderComparison(&buf, cmp)
	out := buf.String()

	for _, want := range []string{
		"STARTUP COMPARISON",
		"Standard",
		"Streaming",
		"300s",
		"45s",
		"Weight load",
		"0s*", // streaming pull not observed
		"* image pull events not observed",
		"Fastest: Streaming, 255s faster than Standard",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("comparison output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderComparisonTie(t *testing.T) {
	cmp := Compare([]api.RunRecord{
		{Mode: api.ModeStandard, Report: api.DurationReport{TotalWallClockSec: 120, ImagePullMeasured: true}},
		{Mode: api.ModeStreaming, Report: api.DurationReport{TotalWallClockSec: 120, ImagePullMeasured: true}},
	})
	var buf bytes.Buffer
	RenderComparison(&buf, cmp)
	out := buf.String()
	if !strings.Contains(out, "Streaming is not faster than Standard") {
		t.Errorf("tie must report the non-winning side as not faster:\n%s", out)
	}
	if strings.Contains(out, "Fastest:") {
		t.Errorf("tie must not assert a winner:\n%s", out)
	}
}

func TestRenderRun(t *testing.T) {
	rec := api.RunRecord{
		ID: "run-1", Mode: api.ModeStreaming, PodName: "vllm-7d9", NodeName: "gke-node-1",
		Report: api.DurationReport{
			NodeProvisioningSec: 30,
			RuntimeStartupSec:   10,
			TotalWallClockSec:   45,
			Anomalies:           []string{"runtime startup is negative (-2s): container start precedes scheduling plus image pull"},
		},
	}
	var buf bytes.Buffer
	RenderRun(&buf, rec)
	out := buf.String()
	for _, want := range []string{
		"run-1",
		"Streaming",
		"vllm-7d9",
		"image pull events were not observed",
		"WARNING: runtime startup is negative",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("run output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderMarkdown(t *testing.T) {
	cmp := Compare([]api.RunRecord{
		{Mode: api.ModeStandard, Report: api.DurationReport{TotalWallClockSec: 300, ImagePullMeasured: true}},
		{Mode: api.ModeStreaming, Report: api.DurationReport{TotalWallClockSec: 45, ImagePullMeasured: true}},
	})
	var buf bytes.Buffer
	RenderMarkdown(&buf, cmp)
	out := buf.String()
	for _, want := range []string{
		"| Phase | Standard | Streaming |",
		"| Total wall clock | 300s | 45s |",
		"**Fastest: Streaming, 255s faster than Standard**",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderJSON(t *testing.T) {
	cmp := Compare([]api.RunRecord{
		{Mode: api.ModeStandard, Report: api.DurationReport{TotalWallClockSec: 300}},
		{Mode: api.ModeStreaming, Report: api.DurationReport{TotalWallClockSec: 45}},
	})
	var buf bytes.Buffer
	if err := RenderJSON(&buf, cmp); err != nil {
		t.Fatalf("RenderJSON returned error: %v", err)
	}
	var decoded api.Comparison
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Fastest != api.ModeStreaming || decoded.ImprovementSec != 255 {
		t.Errorf("decoded comparison = %+v, expected streaming winner by 255s", decoded)
	}
}
