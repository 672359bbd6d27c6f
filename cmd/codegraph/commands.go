// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/services/codegraph/config"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	repoID     string
	ingestGlob string

	// cfg is loaded by the root command before any subcommand runs.
	cfg config.Config

	rootCmd = &cobra.Command{
		Use:           "codegraph",
		Short:         "Code graph engine: structural queries over ingested source graphs",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if logLevel != "" {
				loaded.Server.LogLevel = logLevel
			}
			level, err := config.ParseLevel(loaded.Server.LogLevel)
			if err != nil {
				return fmt.Errorf("log level: %w", err)
			}
			slog.SetDefault(slog.New(newLogHandler(os.Stderr, level)))
			cfg = loaded
			return nil
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	mcpCmd = &cobra.Command{
		Use:   "mcp",
		Short: "Serve the query tools over MCP on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE:  runMCP,
	}

	ingestCmd = &cobra.Command{
		Use:   "ingest [dir]",
		Short: "Load a directory of event files and checkpoint the resulting graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runIngest,
	}

	statsCmd = &cobra.Command{
		Use:   "stats [repo]",
		Short: "Print statistics of a stored snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}

	snapshotsCmd = &cobra.Command{
		Use:   "snapshots",
		Short: "Manage stored snapshots",
	}
	snapshotsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		Args:  cobra.NoArgs,
		RunE:  runSnapshotsList,
	}
	snapshotsDeleteCmd = &cobra.Command{
		Use:   "delete [repo]",
		Short: "Delete the stored snapshot of a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runSnapshotsDelete,
	}
)

func init() {
	rootCmd.Version = Version
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to codegraph.yaml or a directory containing it")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)

	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVarP(&repoID, "repo", "r", "", "Repository id to ingest into")
	ingestCmd.Flags().StringVar(&ingestGlob, "glob", "", "Event file glob relative to dir (default from config)")
	_ = ingestCmd.MarkFlagRequired("repo")

	rootCmd.AddCommand(statsCmd)

	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(snapshotsListCmd)
	snapshotsCmd.AddCommand(snapshotsDeleteCmd)
}
