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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codegraph/services/codegraph"
	"github.com/AleutianAI/codegraph/services/codegraph/ingest"
	"github.com/AleutianAI/codegraph/services/codegraph/mcpserver"
	"github.com/AleutianAI/codegraph/services/codegraph/storage"
)

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	runErr := mcpserver.New(a.svc, Version).Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// ingestSummary is what `codegraph ingest` prints.
type ingestSummary struct {
	Repository  string   `json:"repository"`
	Generation  uint64   `json:"generation"`
	Files       int      `json:"files"`
	FilesFailed int      `json:"files_failed"`
	Nodes       int      `json:"nodes"`
	Edges       int      `json:"edges"`
	Unreadable  []string `json:"unreadable,omitempty"`
	Errors      []string `json:"errors,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	dir := args[0]

	glob := ingestGlob
	if glob == "" {
		glob = cfg.Ingest.Glob
	}

	batch, unreadable, err := ingest.LoadDir(ctx, dir, glob)
	if err != nil {
		return err
	}
	for _, fe := range unreadable {
		slog.Warn("Skipping event file", slog.String("path", fe.Path), slog.String("error", fe.Err.Error()))
	}
	if len(batch) == 0 {
		return fmt.Errorf("no event files matching %q under %s", glob, dir)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			slog.Error("Close failed", slog.String("error", err.Error()))
		}
	}()

	start := time.Now()
	resp, err := a.svc.Ingest(ctx, repoID, batch)
	if err != nil {
		return err
	}
	cp, err := a.svc.Checkpoint(ctx, repoID)
	if err != nil {
		return err
	}
	slog.Info("Ingest complete",
		slog.String("repository", repoID),
		slog.Int("files", resp.Stats.FilesTotal),
		slog.Duration("duration", time.Since(start)))

	summary := ingestSummary{
		Repository:  repoID,
		Generation:  cp.Generation,
		Files:       cp.Files,
		FilesFailed: resp.Stats.FilesFailed,
		Nodes:       cp.Nodes,
		Edges:       cp.Edges,
		Errors:      resp.Errors,
	}
	for _, fe := range unreadable {
		summary.Unreadable = append(summary.Unreadable, fe.Error())
	}
	return printJSON(cmd.OutOrStdout(), summary)
}

func runStats(cmd *cobra.Command, args []string) error {
	provider, err := openProvider()
	if err != nil {
		return err
	}
	defer provider.Close()

	// Read-only: never checkpoint the restored session.
	scfg := codegraph.ServiceConfigFrom(cfg)
	scfg.CheckpointOnClose = false
	svc, err := codegraph.NewService(scfg, codegraph.WithProvider(provider))
	if err != nil {
		return err
	}

	stats, err := svc.RepositoryStats(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), stats)
}

func runSnapshotsList(cmd *cobra.Command, args []string) error {
	provider, err := openProvider()
	if err != nil {
		return err
	}
	defer provider.Close()

	infos, err := provider.ListSnapshots(cmd.Context())
	if err != nil {
		return err
	}
	return printSnapshots(cmd.OutOrStdout(), infos)
}

func runSnapshotsDelete(cmd *cobra.Command, args []string) error {
	provider, err := openProvider()
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := storage.ValidateRepositoryID(args[0]); err != nil {
		return err
	}
	if err := provider.DeleteSnapshot(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted snapshot %s\n", args[0])
	return nil
}

func openProvider() (storage.Provider, error) {
	provider, err := codegraph.NewProvider(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Backend, err)
	}
	return provider, nil
}

func printSnapshots(w io.Writer, infos []storage.SnapshotInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tGENERATION\tFILES\tNODES\tEDGES\tSAVED")
	for _, info := range infos {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n",
			info.RepositoryID, info.Generation, info.Files, info.Nodes, info.Edges,
			info.SavedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
