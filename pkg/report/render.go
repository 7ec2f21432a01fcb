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
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/scrape"
)

// Column width for per-mode cells (display columns, emoji- and wide-glyph-safe).
const colWidth = 14

var subPhaseLabels = map[string]string{
	scrape.PhaseWeightLoad:   "Weight load",
	scrape.PhaseCompile:      "torch.compile",
	scrape.PhaseGraphCapture: "Graph capture",
}

// Known sub-phases render in startup order; anything else follows sorted.
var subPhaseOrder = []string{scrape.PhaseWeightLoad, scrape.PhaseCompile, scrape.PhaseGraphCapture}

// RenderRun writes the single-run report for one record.
func RenderRun(w io.Writer, rec api.RunRecord) {
	fmt.Fprintf(w, "\nRun %s (%s): pod %s on node %s\n", //nolint:errcheck
		rec.ID, rec.Mode.DisplayName(), rec.PodName, rec.NodeName)
	labelWidth := longestLabel(rec.Report.SubPhases)
	rows := reportRows(rec.Report)
	for _, row := range rows {
		fmt.Fprintf(w, "  %s  %s\n", padRight(row.label, labelWidth), row.cells[0]) //nolint:errcheck
	}
	if !rec.Report.ImagePullMeasured {
		fmt.Fprintf(w, "  (image pull events were not observed; 0s means unmeasured)\n") //nolint:errcheck
	}
	for _, a := range rec.Report.Anomalies {
		fmt.Fprintf(w, "  WARNING: %s\n", a) //nolint:errcheck
	}
}

// RenderComparison writes the fixed-width side-by-side table plus the
// verdict line naming the fastest mode, or "not faster" on a tie.
func RenderComparison(w io.Writer, cmp api.Comparison) {
	if len(cmp.Records) == 0 {
		fmt.Fprintln(w, "no runs to compare") //nolint:errcheck
		return
	}

	labelWidth := len("Total wall clock")
	for _, key := range subPhaseKeys(cmp.Records) {
		if l := len("  " + subPhaseLabel(key)); l > labelWidth {
			labelWidth = l
		}
	}
	totalWidth := labelWidth + (colWidth+2)*len(cmp.Records)

	fmt.Fprintf(w, "\n%s\n", strings.Repeat("═", totalWidth))   //nolint:errcheck
	fmt.Fprintf(w, " STARTUP COMPARISON\n")                     //nolint:errcheck
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("═", totalWidth))   //nolint:errcheck
	fmt.Fprintf(w, "%s", padRight("Phase", labelWidth))         //nolint:errcheck
	for _, rec := range cmp.Records {
		fmt.Fprintf(w, "  %s", padRight(rec.Mode.DisplayName(), colWidth)) //nolint:errcheck
	}
	fmt.Fprintf(w, "\n%s\n", strings.Repeat("─", totalWidth)) //nolint:errcheck

	for _, row := range comparisonRows(cmp.Records) {
		fmt.Fprintf(w, "%s", padRight(row.label, labelWidth)) //nolint:errcheck
		for _, cell := range row.cells {
			fmt.Fprintf(w, "  %s", padRight(cell, colWidth)) //nolint:errcheck
		}
		fmt.Fprintln(w) //nolint:errcheck
	}

	if anyUnmeasuredPull(cmp.Records) {
		fmt.Fprintf(w, "\n* image pull events not observed\n") //nolint:errcheck
	}
	for _, rec := range cmp.Records {
		for _, a := range rec.Report.Anomalies {
			fmt.Fprintf(w, "WARNING (%s): %s\n", rec.Mode.DisplayName(), a) //nolint:errcheck
		}
	}
	if v := verdict(cmp); v != "" {
		fmt.Fprintf(w, "\n%s\n", v) //nolint:errcheck
	}
}

// RenderJSON writes the comparison (or any report value) as indented JSON.
func RenderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// RenderMarkdown writes the comparison as a markdown table.
func RenderMarkdown(w io.Writer, cmp api.Comparison) {
	if len(cmp.Records) == 0 {
		fmt.Fprintln(w, "No runs to compare.") //nolint:errcheck
		return
	}
	fmt.Fprintf(w, "## Startup Comparison\n\n") //nolint:errcheck
	fmt.Fprintf(w, "| Phase |")                 //nolint:errcheck
	for _, rec := range cmp.Records {
		fmt.Fprintf(w, " %s |", rec.Mode.DisplayName()) //nolint:errcheck
	}
	fmt.Fprintf(w, "\n|---|")                                   //nolint:errcheck
	fmt.Fprintf(w, "%s\n", strings.Repeat("---|", len(cmp.Records))) //nolint:errcheck
	for _, row := range comparisonRows(cmp.Records) {
		fmt.Fprintf(w, "| %s |", strings.TrimLeft(row.label, " ")) //nolint:errcheck
		for _, cell := range row.cells {
			fmt.Fprintf(w, " %s |", cell) //nolint:errcheck
		}
		fmt.Fprintln(w) //nolint:errcheck
	}
	if v := verdict(cmp); v != "" {
		fmt.Fprintf(w, "\n**%s**\n", v) //nolint:errcheck
	}
}

type tableRow struct {
	label string
	cells []string
}

// reportRows lays out the single-run rows in phase order.
func reportRows(rep api.DurationReport) []tableRow {
	rows := []tableRow{
		{label: "Node provisioning", cells: []string{formatSec(rep.NodeProvisioningSec)}},
		{label: "Image pull", cells: []string{pullCell(rep)}},
		{label: "Runtime startup", cells: []string{formatSec(rep.RuntimeStartupSec)}},
	}
	for _, key := range orderedSubPhases(rep.SubPhases) {
		rows = append(rows, tableRow{
			label: "  " + subPhaseLabel(key),
			cells: []string{formatSubSec(rep.SubPhases[key])},
		})
	}
	rows = append(rows, tableRow{label: "Total wall clock", cells: []string{formatSec(rep.TotalWallClockSec)}})
	return rows
}

func comparisonRows(records []api.RunRecord) []tableRow {
	rows := []tableRow{
		{label: "Node provisioning"},
		{label: "Image pull"},
		{label: "Runtime startup"},
	}
	subKeys := subPhaseKeys(records)
	for _, key := range subKeys {
		rows = append(rows, tableRow{label: "  " + subPhaseLabel(key)})
	}
	rows = append(rows, tableRow{label: "Total wall clock"})

	for _, rec := range records {
		rep := rec.Report
		rows[0].cells = append(rows[0].cells, formatSec(rep.NodeProvisioningSec))
		rows[1].cells = append(rows[1].cells, pullCell(rep))
		rows[2].cells = append(rows[2].cells, formatSec(rep.RuntimeStartupSec))
		for i, key := range subKeys {
			cell := "-"
			if v, ok := rep.SubPhases[key]; ok {
				cell = formatSubSec(v)
			}
			rows[3+i].cells = append(rows[3+i].cells, cell)
		}
		rows[len(rows)-1].cells = append(rows[len(rows)-1].cells, formatSec(rep.TotalWallClockSec))
	}
	return rows
}

func verdict(cmp api.Comparison) string {
	if len(cmp.Records) < 2 {
		return ""
	}
	if cmp.HasWinner() {
		slowest := cmp.Records[0]
		for _, rec := range cmp.Records[1:] {
			if rec.Report.TotalWallClockSec > slowest.Report.TotalWallClockSec {
				slowest = rec
			}
		}
		return fmt.Sprintf("Fastest: %s, %ds faster than %s",
			cmp.Fastest.DisplayName(), cmp.ImprovementSec, slowest.Mode.DisplayName())
	}
	first, second := tiedPair(cmp.Records)
	return fmt.Sprintf("%s is not faster than %s, both finished in %ds",
		second.Mode.DisplayName(), first.Mode.DisplayName(), first.Report.TotalWallClockSec)
}

// tiedPair returns the first two records sharing the minimum total, in run
// order. Only called when the minimum is shared.
func tiedPair(records []api.RunRecord) (api.RunRecord, api.RunRecord) {
	min := records[0].Report.TotalWallClockSec
	for _, rec := range records[1:] {
		if rec.Report.TotalWallClockSec < min {
			min = rec.Report.TotalWallClockSec
		}
	}
	var tied []api.RunRecord
	for _, rec := range records {
		if rec.Report.TotalWallClockSec == min {
			tied = append(tied, rec)
		}
	}
	return tied[0], tied[1]
}

func pullCell(rep api.DurationReport) string {
	if !rep.ImagePullMeasured {
		return formatSec(rep.ImagePullSec) + "*"
	}
	return formatSec(rep.ImagePullSec)
}

func anyUnmeasuredPull(records []api.RunRecord) bool {
	for _, rec := range records {
		if !rec.Report.ImagePullMeasured {
			return true
		}
	}
	return false
}

func formatSec(v int64) string {
	return fmt.Sprintf("%ds", v)
}

func formatSubSec(v float64) string {
	return fmt.Sprintf("%gs", v)
}

func subPhaseLabel(key string) string {
	if label, ok := subPhaseLabels[key]; ok {
		return label
	}
	return key
}

// subPhaseKeys returns the union of sub-phase names across records, known
// phases first in startup order, the rest sorted.
func subPhaseKeys(records []api.RunRecord) []string {
	seen := map[string]bool{}
	for _, rec := range records {
		for key := range rec.Report.SubPhases {
			seen[key] = true
		}
	}
	return orderKeys(seen)
}

func orderedSubPhases(subPhases map[string]float64) []string {
	seen := map[string]bool{}
	for key := range subPhases {
		seen[key] = true
	}
	return orderKeys(seen)
}

func orderKeys(seen map[string]bool) []string {
	var keys []string
	for _, key := range subPhaseOrder {
		if seen[key] {
			keys = append(keys, key)
			delete(seen, key)
		}
	}
	var rest []string
	for key := range seen {
		rest = append(rest, key)
	}
	sort.Strings(rest)
	return append(keys, rest...)
}

func longestLabel(subPhases map[string]float64) int {
	width := len("Total wall clock")
	for key := range subPhases {
		if l := len("  " + subPhaseLabel(key)); l > width {
			width = l
		}
	}
	return width
}

// padRight pads s with spaces so its terminal display width reaches width.
func padRight(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	return s + strings.Repeat(" ", width-sw)
}
