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
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"
)

var version = "dev"

// userAgent identifies this tool in the apiserver audit log.
const userAgent = "startup-bench"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "startup-bench",
		Short: "Benchmark container image delivery modes on Kubernetes",
		Long: `startup-bench measures how long an inference server takes to go from
manifest apply to serving requests, and compares image delivery modes
(standard pull, image streaming, secondary boot disk, RunAI weight
streaming) against each other on the same cluster.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.AddCommand(newMeasureCommand())
	cmd.AddCommand(newRunsCommand())

	return cmd
}

func execute() error {
	ctx := signals.SetupSignalHandler()
	return newRootCommand().ExecuteContext(ctx)
}

// getRestConfig resolves cluster credentials: in-cluster first unless the
// caller pinned a kubeconfig or context, then $KUBECONFIG, then the
// default kubeconfig location.
func getRestConfig(ctx context.Context, kubeconfig, kubeContext string) (*rest.Config, error) {
	logger := klog.FromContext(ctx)

	if kubeconfig == "" && kubeContext == "" {
		config, err := rest.InClusterConfig()
		if err == nil {
			logger.V(1).Info("Successfully loaded in-cluster config")
			return config, nil
		}
		logger.V(1).Info("In-cluster config not found, falling back to local kubeconfig")
	}

	path := kubeconfig
	if path == "" {
		path = os.Getenv("KUBECONFIG")
	}
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, ".kube", "config")
	}

	config, err := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		&clientcmd.ClientConfigLoadingRules{ExplicitPath: path},
		&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
	).ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("unable to load kubeconfig from %s: %w", path, err)
	}
	logger.V(1).Info("Successfully loaded kubeconfig", "path", path, "context", kubeContext)
	return config, nil
}
