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

// Package config loads the benchmark and frontend configuration from an
// optional YAML file plus environment variables. Benchmark keys live under
// the STARTUP_BENCH_ prefix, frontend keys under CHAT_FRONTEND_.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/scrape"
)

// Config holds the benchmark configuration.
type Config struct {
	// Namespace scopes all workloads, waits and queries of a run.
	Namespace string `mapstructure:"namespace"`

	Kubernetes KubernetesConfig      `mapstructure:"kubernetes"`
	Poll       PollConfig            `mapstructure:"poll"`
	Timeouts   TimeoutConfig         `mapstructure:"timeouts"`
	CacheReset CacheResetConfig      `mapstructure:"cache_reset"`
	Archive    ArchiveConfig         `mapstructure:"archive"`
	Modes      map[string]ModeConfig `mapstructure:"modes"`
}

// KubernetesConfig holds how the cluster is reached. Command line flags
// override both fields; empty values fall back to in-cluster config, then
// $KUBECONFIG, then ~/.kube/config.
type KubernetesConfig struct {
	Kubeconfig string `mapstructure:"kubeconfig"`
	Context    string `mapstructure:"context"`
}

// PollConfig holds the cadence of every wait.
type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// TimeoutConfig bounds each wait of a run.
type TimeoutConfig struct {
	Cleanup    time.Duration `mapstructure:"cleanup"`
	CacheReset time.Duration `mapstructure:"cache_reset"`
	Scheduled  time.Duration `mapstructure:"scheduled"`
	Running    time.Duration `mapstructure:"running"`
	Ready      time.Duration `mapstructure:"ready"`
}

// CacheResetConfig holds the image cache eviction workload.
type CacheResetConfig struct {
	Manifest string `mapstructure:"manifest"`
}

// ArchiveConfig holds the run archive database.
type ArchiveConfig struct {
	Path string `mapstructure:"path"`
}

// ModeConfig describes how one delivery mode is deployed and measured.
type ModeConfig struct {
	// Manifest is the workload applied for this mode.
	Manifest string `mapstructure:"manifest"`

	// Selector matches the workload's pods; Container is the measured
	// container within them.
	Selector  string `mapstructure:"selector"`
	Container string `mapstructure:"container"`

	// ReadyMarker is the log phrase that counts as "application ready".
	ReadyMarker string `mapstructure:"ready_marker"`

	// Markers are the sub-phase markers scraped from the container log
	// after a run. Empty keeps the built-in vLLM set.
	Markers []MarkerConfig `mapstructure:"markers"`

	// ColdStart evicts node image caches before the run.
	ColdStart bool `mapstructure:"cold_start"`
}

// MarkerConfig binds a named startup sub-phase to the log phrase that
// announces its duration.
type MarkerConfig struct {
	Phase  string `mapstructure:"phase"`
	Phrase string `mapstructure:"phrase"`
}

// Load reads the benchmark configuration from the optional file and the
// environment. Without an explicit path, a startup-bench.yaml in the
// working directory is read when present; a path passed explicitly must be
// readable.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("startup-bench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("STARTUP_BENCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("namespace", "default")

	v.SetDefault("poll.interval", 2*time.Second)

	v.SetDefault("timeouts.cleanup", 5*time.Minute)
	v.SetDefault("timeouts.cache_reset", 10*time.Minute)
	v.SetDefault("timeouts.scheduled", 10*time.Minute)
	v.SetDefault("timeouts.running", 20*time.Minute)
	v.SetDefault("timeouts.ready", 30*time.Minute)

	v.SetDefault("cache_reset.manifest", "manifests/cache-reset.yaml")

	v.SetDefault("archive.path", "startup-bench.db")

	// Only the streaming mode evicts image caches by default; a warm cache
	// would hide exactly the effect it is supposed to show. The other modes
	// opt in through their cold_start key.
	for _, mode := range api.AllModes {
		key := "modes." + string(mode)
		v.SetDefault(key+".manifest", fmt.Sprintf("manifests/%s.yaml", mode))
		v.SetDefault(key+".selector", "app=vllm")
		v.SetDefault(key+".container", "vllm")
		v.SetDefault(key+".ready_marker", scrape.DefaultReadyMarker)
		v.SetDefault(key+".cold_start", mode == api.ModeStreaming)
	}
}

// Validate checks the configuration for values that would make a run
// meaningless.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return fmt.Errorf("namespace must not be empty")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive, got %s", c.Poll.Interval)
	}
	for name, d := range map[string]time.Duration{
		"timeouts.cleanup":     c.Timeouts.Cleanup,
		"timeouts.cache_reset": c.Timeouts.CacheReset,
		"timeouts.scheduled":   c.Timeouts.Scheduled,
		"timeouts.running":     c.Timeouts.Running,
		"timeouts.ready":       c.Timeouts.Ready,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Archive.Path == "" {
		return fmt.Errorf("archive.path must not be empty")
	}
	for name, mc := range c.Modes {
		if _, err := api.ParseMode(name); err != nil {
			return fmt.Errorf("invalid mode section: %w", err)
		}
		if mc.Manifest == "" {
			return fmt.Errorf("modes.%s.manifest must not be empty", name)
		}
		if mc.Selector == "" {
			return fmt.Errorf("modes.%s.selector must not be empty", name)
		}
		if mc.Container == "" {
			return fmt.Errorf("modes.%s.container must not be empty", name)
		}
		for i, m := range mc.Markers {
			if m.Phase == "" || m.Phrase == "" {
				return fmt.Errorf("modes.%s.markers[%d] needs both a phase and a phrase", name, i)
			}
		}
		if mc.ColdStart && c.CacheReset.Manifest == "" {
			return fmt.Errorf("modes.%s requires a cold start but cache_reset.manifest is empty", name)
		}
	}
	return nil
}

// Mode returns the configuration of one mode.
func (c *Config) Mode(mode api.Mode) (ModeConfig, error) {
	mc, ok := c.Modes[string(mode)]
	if !ok {
		return ModeConfig{}, fmt.Errorf("mode %s has no configuration", mode)
	}
	return mc, nil
}

// FrontendConfig holds the chat frontend configuration.
type FrontendConfig struct {
	// Listen is the address the frontend serves on.
	Listen string `mapstructure:"listen"`

	// Backend is the base URL of the inference server that completion
	// requests are forwarded to.
	Backend string `mapstructure:"backend"`

	// APIPrefix is the path prefix forwarded verbatim to the backend.
	APIPrefix string `mapstructure:"api_prefix"`

	// Model and Title are handed to the page so it can describe itself.
	Model string `mapstructure:"model"`
	Title string `mapstructure:"title"`

	// StaticDir holds the page assets.
	StaticDir string `mapstructure:"static_dir"`

	// MaxBodyBytes caps accepted request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	// RequestTimeout bounds one proxied exchange, generous because
	// completions stream for a while.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LoadFrontend reads the frontend configuration from the optional file and
// the environment.
func LoadFrontend(configPath string) (*FrontendConfig, error) {
	v := viper.New()

	v.SetDefault("listen", ":8080")
	v.SetDefault("api_prefix", "/v1")
	v.SetDefault("title", "Chat")
	v.SetDefault("static_dir", "static")
	v.SetDefault("max_body_bytes", int64(1<<20))
	v.SetDefault("request_timeout", 5*time.Minute)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("CHAT_FRONTEND")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindEnv(v, "backend", "INFERENCE_SERVER_URL")

	var cfg FrontendConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func bindEnv(v *viper.Viper, key, envVar string) {
	if err := v.BindEnv(key, envVar); err != nil {
		klog.Background().Error(err, "failed to bind environment variable", "key", key, "envVar", envVar)
	}
}

// Validate checks the frontend configuration.
func (c *FrontendConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.Backend == "" {
		return fmt.Errorf("backend must not be empty (set INFERENCE_SERVER_URL or the backend key)")
	}
	u, err := url.Parse(c.Backend)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend %q is not a valid base URL", c.Backend)
	}
	if !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api_prefix %q must start with /", c.APIPrefix)
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max_body_bytes must be positive, got %d", c.MaxBodyBytes)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	return nil
}
