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

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/bench"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/config"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/report"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/scrape"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/store"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/utils"
)

type measureOptions struct {
	configPath  string
	kubeconfig  string
	kubeContext string
	namespace   string
	runai       bool
	compare     bool
	modes       []string
	output      string
	archive     bool
}

func newMeasureCommand() *cobra.Command {
	opts := &measureOptions{}

	cmd := &cobra.Command{
		Use:   "measure",
		Short: "Measure startup time for one or more image delivery modes",
		Long: `Measure how long the configured inference workload takes from manifest
apply to application readiness, mode by mode.

A bare invocation measures the standard pull mode only. --runai measures
the RunAI weight streaming mode instead, and --compare measures standard
and streaming back to back and renders a comparison. An explicit --modes
list overrides both.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMeasure(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "benchmark config file")
	cmd.Flags().StringVar(&opts.kubeconfig, "kubeconfig", "", "path to the kubeconfig file (default: in-cluster, then $KUBECONFIG, then ~/.kube/config)")
	cmd.Flags().StringVar(&opts.kubeContext, "context", "", "kubeconfig context to use")
	cmd.Flags().StringVar(&opts.namespace, "namespace", "", "namespace to measure in (overrides the config file)")
	cmd.Flags().BoolVar(&opts.runai, "runai", false, "measure the RunAI weight streaming mode only")
	cmd.Flags().BoolVar(&opts.compare, "compare", false, "measure standard and streaming back to back and compare")
	cmd.Flags().StringSliceVar(&opts.modes, "modes", nil, "explicit comma-separated list of modes to measure ("+api.ModeNames()+")")
	cmd.Flags().StringVar(&opts.output, "output", "table", "output format: table, json, or markdown")
	cmd.Flags().BoolVar(&opts.archive, "archive", false, "persist run records to the archive database")

	return cmd
}

func runMeasure(ctx context.Context, opts *measureOptions) error {
	if err := validateOutputFormat(opts.output); err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.namespace != "" {
		cfg.Namespace = opts.namespace
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	modes, err := selectModes(opts)
	if err != nil {
		return err
	}
	runCfgs, err := buildRunConfigs(cfg, modes)
	if err != nil {
		return err
	}

	kubeconfig := opts.kubeconfig
	if kubeconfig == "" {
		kubeconfig = cfg.Kubernetes.Kubeconfig
	}
	kubeContext := opts.kubeContext
	if kubeContext == "" {
		kubeContext = cfg.Kubernetes.Context
	}
	restConfig, err := getRestConfig(ctx, kubeconfig, kubeContext)
	if err != nil {
		return err
	}
	if len(restConfig.UserAgent) == 0 {
		restConfig.UserAgent = userAgent
	} else {
		restConfig.UserAgent += "/" + userAgent
	}
	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("failed to build kubernetes client: %w", err)
	}

	runner := bench.New(client,
		bench.Timeouts{
			Cleanup:    cfg.Timeouts.Cleanup,
			CacheReset: cfg.Timeouts.CacheReset,
			Scheduled:  cfg.Timeouts.Scheduled,
			Running:    cfg.Timeouts.Running,
			Ready:      cfg.Timeouts.Ready,
		},
		bench.WithInterval(cfg.Poll.Interval),
		bench.WithOutput(os.Stdout),
	)

	// A failed run still yields the records gathered before it; archive
	// and render what there is before reporting the failure.
	records, runErr := runner.RunAll(ctx, runCfgs)

	if opts.archive && len(records) > 0 {
		if err := archiveRecords(ctx, cfg.Archive.Path, records); err != nil {
			klog.FromContext(ctx).Error(err, "failed to archive run records", "path", cfg.Archive.Path)
		}
	}
	if len(records) > 0 {
		fmt.Println()
		if err := renderRecords(os.Stdout, opts.output, records); err != nil {
			return err
		}
	}
	return runErr
}

// selectModes applies the flag precedence: an explicit --modes list wins,
// then --compare, then --runai, and a bare invocation measures the
// standard mode only.
func selectModes(opts *measureOptions) ([]api.Mode, error) {
	switch {
	case len(opts.modes) > 0:
		modes, errs := utils.SliceMap(opts.modes, api.ParseMode)
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return modes, nil
	case opts.compare:
		return []api.Mode{api.ModeStandard, api.ModeStreaming}, nil
	case opts.runai:
		return []api.Mode{api.ModeRunAI}, nil
	default:
		return []api.Mode{api.ModeStandard}, nil
	}
}

func buildRunConfigs(cfg *config.Config, modes []api.Mode) ([]bench.RunConfig, error) {
	runCfgs := make([]bench.RunConfig, 0, len(modes))
	for _, mode := range modes {
		mc, err := cfg.Mode(mode)
		if err != nil {
			return nil, err
		}
		var markers []scrape.Marker
		for _, m := range mc.Markers {
			markers = append(markers, scrape.Marker{Phase: m.Phase, Phrase: m.Phrase})
		}
		runCfgs = append(runCfgs, bench.RunConfig{
			Mode: mode,
			Target: api.DeploymentTarget{
				Manifest:  mc.Manifest,
				Namespace: cfg.Namespace,
				Selector:  mc.Selector,
				Container: mc.Container,
			},
			ReadyMarker:        mc.ReadyMarker,
			Markers:            markers,
			ColdStart:          mc.ColdStart,
			CacheResetManifest: cfg.CacheReset.Manifest,
		})
	}
	return runCfgs, nil
}

func validateOutputFormat(format string) error {
	switch format {
	case "table", "json", "markdown":
		return nil
	default:
		return fmt.Errorf("unsupported output format %q: must be table, json, or markdown", format)
	}
}

func renderRecords(w io.Writer, format string, records []api.RunRecord) error {
	switch format {
	case "json":
		if len(records) == 1 {
			return report.RenderJSON(w, records[0])
		}
		return report.RenderJSON(w, report.Compare(records))
	case "markdown":
		report.RenderMarkdown(w, report.Compare(records))
		return nil
	default:
		if len(records) == 1 {
			report.RenderRun(w, records[0])
			return nil
		}
		report.RenderComparison(w, report.Compare(records))
		return nil
	}
}

func archiveRecords(ctx context.Context, path string, records []api.RunRecord) error {
	db, err := store.New(path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	runs := store.NewRunStore(db)
	for i := range records {
		if err := runs.Create(ctx, &records[i]); err != nil {
			return err
		}
	}
	klog.FromContext(ctx).Info("archived run records", "count", len(records), "path", path)
	return nil
}
