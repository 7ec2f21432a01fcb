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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Namespace)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Timeouts.Cleanup)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.CacheReset)
	assert.Equal(t, 10*time.Minute, cfg.Timeouts.Scheduled)
	assert.Equal(t, 20*time.Minute, cfg.Timeouts.Running)
	assert.Equal(t, 30*time.Minute, cfg.Timeouts.Ready)
	assert.Equal(t, "manifests/cache-reset.yaml", cfg.CacheReset.Manifest)
	assert.Equal(t, "startup-bench.db", cfg.Archive.Path)

	require.Len(t, cfg.Modes, 4)
	standard := cfg.Modes["standard"]
	assert.Equal(t, "manifests/standard.yaml", standard.Manifest)
	assert.Equal(t, "app=vllm", standard.Selector)
	assert.Equal(t, "vllm", standard.Container)
	assert.Equal(t, "Application startup complete", standard.ReadyMarker)
	assert.Empty(t, standard.Markers)

	// Only streaming starts cold unless the config says otherwise.
	assert.False(t, standard.ColdStart)
	assert.True(t, cfg.Modes["streaming"].ColdStart)
	assert.False(t, cfg.Modes["bootdisk"].ColdStart)
	assert.False(t, cfg.Modes["runai"].ColdStart)

	assert.Empty(t, cfg.Kubernetes.Kubeconfig)
	assert.Empty(t, cfg.Kubernetes.Context)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	content := `
namespace: bench
kubernetes:
  context: bench-cluster
poll:
  interval: 5s
modes:
  streaming:
    manifest: custom/streaming.yaml
    cold_start: false
    markers:
    - phase: weight_load
      phrase: "Loading safetensors took"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench", cfg.Namespace)
	assert.Equal(t, "bench-cluster", cfg.Kubernetes.Context)
	assert.Equal(t, 5*time.Second, cfg.Poll.Interval)

	streaming := cfg.Modes["streaming"]
	assert.Equal(t, "custom/streaming.yaml", streaming.Manifest)
	assert.False(t, streaming.ColdStart)
	require.Len(t, streaming.Markers, 1)
	assert.Equal(t, "weight_load", streaming.Markers[0].Phase)
	assert.Equal(t, "Loading safetensors took", streaming.Markers[0].Phrase)
	// Keys the file does not touch keep their defaults.
	assert.Equal(t, "app=vllm", streaming.Selector)
	assert.Equal(t, "manifests/standard.yaml", cfg.Modes["standard"].Manifest)
}

func TestLoad_DefaultFileInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	content := "namespace: from-default-file\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "startup-bench.yaml"), []byte(content), 0o600))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-default-file", cfg.Namespace)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("STARTUP_BENCH_NAMESPACE", "env-ns")
	t.Setenv("STARTUP_BENCH_POLL_INTERVAL", "3s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-ns", cfg.Namespace)
	assert.Equal(t, 3*time.Second, cfg.Poll.Interval)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero interval",
			mutate:  func(c *Config) { c.Poll.Interval = 0 },
			wantErr: "poll.interval",
		},
		{
			name:    "zero ready timeout",
			mutate:  func(c *Config) { c.Timeouts.Ready = 0 },
			wantErr: "timeouts.ready",
		},
		{
			name:    "unknown mode section",
			mutate:  func(c *Config) { c.Modes["turbo"] = c.Modes["standard"] },
			wantErr: "unknown mode",
		},
		{
			name: "mode without manifest",
			mutate: func(c *Config) {
				mc := c.Modes["standard"]
				mc.Manifest = ""
				c.Modes["standard"] = mc
			},
			wantErr: "modes.standard.manifest",
		},
		{
			name: "cold start without reset manifest",
			mutate: func(c *Config) {
				c.CacheReset.Manifest = ""
			},
			wantErr: "cache_reset.manifest",
		},
		{
			name: "marker without phrase",
			mutate: func(c *Config) {
				mc := c.Modes["standard"]
				mc.Markers = []MarkerConfig{{Phase: "weight_load"}}
				c.Modes["standard"] = mc
			},
			wantErr: "modes.standard.markers[0]",
		},
		{
			name:    "empty archive path",
			mutate:  func(c *Config) { c.Archive.Path = "" },
			wantErr: "archive.path",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Mode(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	mc, err := cfg.Mode("runai")
	require.NoError(t, err)
	assert.Equal(t, "manifests/runai.yaml", mc.Manifest)

	delete(cfg.Modes, "runai")
	_, err = cfg.Mode("runai")
	assert.Error(t, err)
}

func TestLoadFrontend_Defaults(t *testing.T) {
	t.Setenv("INFERENCE_SERVER_URL", "http://vllm.bench.svc:8000")

	cfg, err := LoadFrontend("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "http://vllm.bench.svc:8000", cfg.Backend)
	assert.Equal(t, "/v1", cfg.APIPrefix)
	assert.Equal(t, "Chat", cfg.Title)
	assert.Equal(t, "static", cfg.StaticDir)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 5*time.Minute, cfg.RequestTimeout)

	assert.NoError(t, cfg.Validate())
}

func TestFrontendConfig_Validate(t *testing.T) {
	valid := FrontendConfig{
		Listen:         ":8080",
		Backend:        "http://localhost:8000",
		APIPrefix:      "/v1",
		StaticDir:      "static",
		MaxBodyBytes:   1 << 20,
		RequestTimeout: time.Minute,
	}
	assert.NoError(t, valid.Validate())

	noBackend := valid
	noBackend.Backend = ""
	err := noBackend.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INFERENCE_SERVER_URL")

	badBackend := valid
	badBackend.Backend = "not a url"
	assert.Error(t, badBackend.Validate())

	badPrefix := valid
	badPrefix.APIPrefix = "v1"
	assert.Error(t, badPrefix.Validate())

	badBody := valid
	badBody.MaxBodyBytes = 0
	assert.Error(t, badBody.Validate())
}
