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

import "testing"

func TestParseMode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Mode
		wantErr  bool
	}{
		{name: "standard", input: "standard", expected: ModeStandard},
		{name: "uppercase is accepted", input: "Streaming", expected: ModeStreaming},
		{name: "surrounding space is accepted", input: " runai ", expected: ModeRunAI},
		{name: "bootdisk", input: "bootdisk", expected: ModeBootDisk},
		{name: "unknown mode", input: "warp", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseMode(%q) = %q, expected an error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMode(%q) returned unexpected error: %v", tt.input, err)
			}
			if got != tt.expected {
				t.Errorf("ParseMode(%q) = %q, expected %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestModeDisplayName(t *testing.T) {
	tests := []struct {
		mode     Mode
		expected string
	}{
		{mode: ModeStandard, expected: "Standard"},
		{mode: ModeStreaming, expected: "Streaming"},
		{mode: ModeBootDisk, expected: "Boot disk"},
		{mode: ModeRunAI, expected: "RunAI"},
		{mode: Mode("custom"), expected: "custom"},
	}
	for _, tt := range tests {
		if got := tt.mode.DisplayName(); got != tt.expected {
			t.Errorf("DisplayName(%q) = %q, expected %q", tt.mode, got, tt.expected)
		}
	}
}
