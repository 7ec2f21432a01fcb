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
	"errors"
	"flag"
	"net/http"
	"time"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/config"
	"github.com/llm-d-incubation/llm-d-startup-benchmark/pkg/frontend"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var configPath string

	klog.InitFlags(flag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.CommandLine.StringVar(&configPath, "config", "", "frontend config file")

	pflag.Parse()
	ctx := signals.SetupSignalHandler()
	logger := klog.FromContext(ctx)

	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		logger.V(1).Info("Flag", "name", f.Name, "value", f.Value.String())
	})

	cfg, err := config.LoadFrontend(configPath)
	if err != nil {
		klog.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		klog.Fatal(err)
	}

	server, err := frontend.New(cfg, frontend.WithLogger(logger.WithName("frontend")))
	if err != nil {
		klog.Fatal(err)
	}
	server.SetReady(true)

	go func() {
		<-ctx.Done()

		// Stop accepting new requests, then drain in-flight ones.
		server.SetReady(false)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(err, "graceful shutdown failed")
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Fatal(err)
	}
	logger.Info("chat frontend stopped")
}
