// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/blinklabs-io/devote"
	"github.com/blinklabs-io/devote/internal/config"
)

func serveRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()
	if err := runNode(cfg, logger); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func nodeOptions(cfg *config.Config, logger *slog.Logger) []devote.ConfigOptionFunc {
	return []devote.ConfigOptionFunc{
		devote.WithLogger(logger),
		devote.WithDatabasePath(cfg.DataDir()),
		devote.WithBlobPlugin(cfg.BlobPlugin),
		devote.WithMetadataPlugin(cfg.MetadataPlugin),
		devote.WithListenAddress(cfg.ListenAddress),
		devote.WithEnvelopeKeyFile(cfg.EnvelopeKeyFile),
		devote.WithBackendOptions(cfg.Backends),
		devote.WithBackendTimeout(cfg.BackendTimeout),
		devote.WithMaxVotesCap(cfg.MaxVotesCap),
		devote.WithPoolInterval(cfg.PoolInterval),
		devote.WithPoolTuning(cfg.PoolSampleSize, cfg.PoolParallelism),
		devote.WithRetryInterval(cfg.RetryInterval),
		devote.WithTracing(cfg.Tracing),
		devote.WithTracingEndpoint(cfg.TracingEndpoint),
		devote.WithShutdownTimeout(cfg.ShutdownTimeout),
		// Enable metrics with default prometheus registry
		devote.WithPrometheusRegistry(prometheus.DefaultRegisterer),
	}
}

func runNode(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", "node")
	d, err := devote.New(devote.NewConfig(nodeOptions(cfg, logger)...))
	if err != nil {
		return err
	}
	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Run node in goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- d.Run(signalCtx)
	}()

	// Wait for signal or error
	select {
	case <-signalCtx.Done():
		logger.Info("signal received, initiating graceful shutdown", "component", "node")
		if err := d.Stop(); err != nil {
			logger.Error("shutdown errors occurred", "error", err, "component", "node")
			return err
		}
		logger.Info("shutdown complete", "component", "node")
		return nil
	case err := <-errChan:
		logger.Error("node error", "error", err, "component", "node")
		signalCtxStop()
		if stopErr := d.Stop(); stopErr != nil {
			logger.Error(
				"shutdown errors occurred during error cleanup",
				"error", stopErr,
				"component", "node",
			)
		}
		return err
	}
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voting service",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			serveRun(cmd, args, cfg)
		},
	}
	return cmd
}
