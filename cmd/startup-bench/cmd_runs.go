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
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/api"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/config"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/report"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/store"
)

type runsOptions struct {
	configPath string
	mode       string
	limit      int
	output     string
}

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived measurement runs",
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	opts := &runsOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRunsList(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "benchmark config file")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "only list runs of this mode ("+api.ModeNames()+")")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "maximum number of runs to list (0 lists all)")
	cmd.Flags().StringVar(&opts.output, "output", "table", "output format: table or json")

	return cmd
}

func newRunsShowCommand() *cobra.Command {
	opts := &runsOptions{}

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one archived run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(cmd.Context(), opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.configPath, "config", "", "benchmark config file")
	cmd.Flags().StringVar(&opts.output, "output", "table", "output format: table or json")

	return cmd
}

func runRunsList(ctx context.Context, opts *runsOptions) error {
	if opts.output != "table" && opts.output != "json" {
		return fmt.Errorf("unsupported output format %q: must be table or json", opts.output)
	}

	filter := store.RunFilter{Limit: opts.limit}
	if opts.mode != "" {
		mode, err := api.ParseMode(opts.mode)
		if err != nil {
			return err
		}
		filter.Mode = mode
	}

	runs, closeStore, err := openArchive(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	records, err := runs.List(ctx, filter)
	if err != nil {
		return err
	}

	if opts.output == "json" {
		return report.RenderJSON(os.Stdout, records)
	}

	if len(records) == 0 {
		fmt.Println("No runs archived.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tPOD\tNODE\tSTARTED\tTOTAL") //nolint:errcheck
	fmt.Fprintln(w, "--\t----\t---\t----\t-------\t-----") //nolint:errcheck
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%ds\n", //nolint:errcheck
			rec.ID,
			rec.Mode,
			rec.PodName,
			rec.NodeName,
			rec.StartedAt.Format(time.RFC3339),
			rec.Report.TotalWallClockSec,
		)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nTotal: %d runs\n", len(records))
	return nil
}

func runRunsShow(ctx context.Context, opts *runsOptions, id string) error {
	if opts.output != "table" && opts.output != "json" {
		return fmt.Errorf("unsupported output format %q: must be table or json", opts.output)
	}

	runs, closeStore, err := openArchive(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer closeStore()

	rec, err := runs.Get(ctx, id)
	if err != nil {
		return err
	}

	if opts.output == "json" {
		return report.RenderJSON(os.Stdout, rec)
	}
	report.RenderRun(os.Stdout, *rec)
	return nil
}

// openArchive opens the archive database named by the config. The
// returned closer is safe to defer immediately.
func openArchive(ctx context.Context, configPath string) (*store.RunStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	db, err := store.New(cfg.Archive.Path)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, nil, err
	}
	return store.NewRunStore(db), func() { db.Close() }, nil //nolint:errcheck
}
