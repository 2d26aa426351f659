/*
Copyright © 2025 Your Name

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
package handlers

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dora/internal/config"
	"dora/internal/logger"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dora",
		Short: "Dora clusters extracted customer insights into labeled themes.",
		Long: `Dora turns extracted items (complaints, use cases, value drivers and
insights) into themes. Each stage reads and writes the same SQLite database:

  embed    generate 1536-dimensional embeddings for new items
  reduce   project embeddings to a few dimensions with UMAP
  cluster  find dense regions with HDBSCAN
  label    name each cluster from its most central items
  group    organise clusters into a handful of semantic groups

Stages are idempotent and can be re-run at any time. 'dora status' shows
where each scope stands; 'dora export' and 'dora serve' publish the result.`,
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.dora.yaml or $HOME/.dora.yaml)")

	rootCmd.AddCommand(NewEmbedCmd())
	rootCmd.AddCommand(NewReduceCmd())
	rootCmd.AddCommand(NewClusterCmd())
	rootCmd.AddCommand(NewLabelCmd())
	rootCmd.AddCommand(NewGroupCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewExportCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewMigrateCmd())

	return rootCmd
}

// Execute runs the root command. Ctrl-C cancels the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Configure(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	if cfg.App.ConfigFile != "" {
		logger.Debug("using config file", "path", cfg.App.ConfigFile)
	}
}
