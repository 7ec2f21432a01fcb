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

// Package scrape extracts startup sub-phase durations from free-text
// application logs. Inference servers announce how long discrete parts of
// their startup took in fixed phrases; scraping those lines is the only
// way to split "runtime startup" into its interesting parts.
package scrape

import (
	"regexp"
	"strconv"
	"strings"
)

// Marker binds a named startup sub-phase to the fixed log phrase that
// announces it. The first numeric value after the phrase is the duration
// in seconds.
type Marker struct {
	Phase  string
	Phrase string
}

// Sub-phase names used by the default marker set.
const (
	PhaseWeightLoad   = "weight_load"
	PhaseCompile      = "compile"
	PhaseGraphCapture = "graph_capture"
)

// DefaultReadyMarker is the line vLLM prints once it is serving requests.
const DefaultReadyMarker = "Application startup complete"

// DefaultMarkers targets vLLM startup logs.
var DefaultMarkers = []Marker{
	{Phase: PhaseWeightLoad, Phrase: "Loading weights took"},
	{Phase: PhaseCompile, Phrase: "torch.compile takes"},
	{Phase: PhaseGraphCapture, Phrase: "Graph capturing finished"},
}

var numberRE = regexp.MustCompile(`-?[0-9]+(\.[0-9]+)?`)

// ExtractPhaseDurations scans log text for the given marker phrases and
// returns the first numeric value found after each phrase, keyed by phase
// name. Repeated markers keep the first occurrence. Markers that never
// appear, and marker lines carrying no number, yield no entry; callers
// treat a missing entry as zero. Empty log text yields an empty mapping,
// not an error. The scan is pure, so repeated calls on the same text
// return the same mapping.
func ExtractPhaseDurations(logText string, markers []Marker) map[string]float64 {
	found := map[string]float64{}
	if logText == "" || len(markers) == 0 {
		return found
	}
	for _, line := range strings.Split(logText, "\n") {
		for _, m := range markers {
			if _, ok := found[m.Phase]; ok {
				continue
			}
			idx := strings.Index(line, m.Phrase)
			if idx < 0 {
				continue
			}
			num := numberRE.FindString(line[idx+len(m.Phrase):])
			if num == "" {
				continue
			}
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				continue
			}
			found[m.Phase] = v
		}
	}
	return found
}

// ContainsMarker reports whether the log text contains the marker phrase.
// An empty phrase never matches; matching everything would defeat the
// readiness wait built on top of this.
func ContainsMarker(logText, marker string) bool {
	return marker != "" && strings.Contains(logText, marker)
}
