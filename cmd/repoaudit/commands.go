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
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/repoaudit/internal/config"
	"github.com/AleutianAI/repoaudit/pkg/logging"
)

var (
	configPath string
	noPrompt   bool

	rootCmd = &cobra.Command{
		Use:   "repoaudit",
		Short: "Audit source repositories with AI content analysis",
		Long: `repoaudit clones a git repository into an ephemeral cache workspace,
imports its file and dependency structure into a graph store, and runs
a per-file AI content audit over the code files.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err = logging.New(logging.Config{
				Level:   cfg.Logging.Level,
				LogDir:  cfg.Logging.Dir,
				Service: "repoaudit",
			})
			if err != nil {
				slog.Warn("File logging unavailable", "error", err)
			}
			slog.SetDefault(logger.Logger)
			return nil
		},
	}

	runCmd = &cobra.Command{
		Use:   "run [repository-url...]",
		Short: "Run a full audit of one or more repositories",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runAudits, // Defined in cmd_run.go
	}

	statusCmd = &cobra.Command{
		Use:   "status [audit-uuid]",
		Short: "Show the current status of an audit",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus, // Defined in cmd_status.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	runCmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Never prompt for credentials; private repositories fail")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
}
