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
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/blinklabs-io/devote/database/plugin"
	"github.com/blinklabs-io/devote/internal/config"
	"github.com/blinklabs-io/devote/internal/version"
)

const (
	programName = "devote"
)

func slogPrintf(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...),
		"component", programName,
	)
}

var (
	globalFlags = struct {
		debug bool
	}{}
	configFile string
)

func commonRun() *slog.Logger {
	// Configure logger
	logLevel := slog.LevelInfo
	addSource := false
	if globalFlags.debug {
		logLevel = slog.LevelDebug
		addSource = true
	}
	logger := slog.New(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			AddSource: addSource,
			Level:     logLevel,
		}),
	)
	slog.SetDefault(logger)
	// Configure max processes with our logger wrapper, toss undo func
	_, err := maxprocs.Set(maxprocs.Logger(slogPrintf))
	if err != nil {
		// If we hit this, something really wrong happened
		slog.Error(err.Error())
		os.Exit(1)
	}
	logger.Info(
		"version: "+version.GetVersionString(),
		"component", programName,
	)
	return logger
}

func listPlugins(
	blobPlugin, metadataPlugin string,
) (shouldExit bool, output string) {
	var buf strings.Builder
	listed := false

	if blobPlugin == "list" {
		buf.WriteString("Available blob plugins:\n")
		writePlugins(&buf, plugin.PluginTypeBlob)
		listed = true
	}

	if metadataPlugin == "list" {
		if listed {
			buf.WriteString("\n")
		}
		buf.WriteString("Available metadata plugins:\n")
		writePlugins(&buf, plugin.PluginTypeMetadata)
		listed = true
	}

	if listed {
		return true, buf.String()
	}
	return false, ""
}

func writePlugins(buf *strings.Builder, pluginType plugin.PluginType) {
	for _, p := range plugin.GetPlugins(pluginType) {
		fmt.Fprintf(buf, "  %s: %s\n", p.Name, p.Description)
	}
}

// rootCommand builds the CLI. Running it without a subcommand serves.
func rootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          programName,
		Short:        "Voting provisioning and anonymous voter commission service",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			serveRun(cmd, args, config.FromContext(cmd.Context()))
		},
		PersistentPreRunE: loadCommandConfig,
	}
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")
	flags.StringVar(&configFile, "config", "", "path to config file")
	flags.StringP("blob", "b", config.DefaultBlobPlugin, "blob store plugin to use, 'list' to show available")
	flags.StringP("metadata", "m", config.DefaultMetadataPlugin, "metadata store plugin to use, 'list' to show available")
	flags.String("listen", "", "HTTP API listen address (overrides config)")
	rootCmd.AddCommand(
		serveCommand(),
		listCommand(),
		keygenCommand(),
		versionCommand(),
	)
	return rootCmd
}

// loadCommandConfig loads the config file and environment, applies flags
// the user set explicitly and stores the result in the command context
func loadCommandConfig(cmd *cobra.Command, _ []string) error {
	flags := cmd.Root().PersistentFlags()
	blobPlugin, _ := flags.GetString("blob")
	metadataPlugin, _ := flags.GetString("metadata")
	if shouldExit, output := listPlugins(blobPlugin, metadataPlugin); shouldExit {
		fmt.Print(output)
		os.Exit(0)
	}
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if flags.Changed("blob") {
		cfg.BlobPlugin = blobPlugin
	}
	if flags.Changed("metadata") {
		cfg.MetadataPlugin = metadataPlugin
	}
	if flags.Changed("listen") {
		cfg.ListenAddress, _ = flags.GetString("listen")
	}
	cmd.SetContext(config.WithContext(cmd.Context(), cfg))
	return nil
}

func main() {
	rootCmd := rootCommand()
	if err := plugin.PopulateCmdlineOptions(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Error adding plugin flags: %v\n", err)
		os.Exit(1)
	}
	// cobra prints the error itself
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
