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

	"github.com/AleutianAI/AleutianSubconscious/cmd/subconscious/config"
	"github.com/AleutianAI/AleutianSubconscious/pkg/logging"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	jsonOutput bool

	cfg    *config.Config
	logger *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "subconscious",
		Short: "Context injection for long-running agent conversations",
		Long: `subconscious watches a conversation, retrieves stored skills relevant
to the user's current intent and injects a short directive before the
assistant answers. Outcomes feed back into skill confidence.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.aleutian/subconscious.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print command results as JSON")

	rootCmd.AddCommand(serveCmd, processCmd, skillsCmd, outcomeCmd, schemaCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	level, err := logging.ParseLevel(loaded.Logging.Level)
	if err != nil {
		return err
	}

	l, err := logging.New(logging.Config{
		Level:   level,
		Format:  loaded.Logging.Format,
		LogDir:  loaded.Logging.Dir,
		Service: "subconscious",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "file logging disabled: %v\n", err)
	}
	slog.SetDefault(l.Slog())

	cfg, logger = loaded, l
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
