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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

var (
	outcomeContext  string
	outcomeFeedback string

	outcomeCmd = &cobra.Command{
		Use:   "outcome [injection-id] [success|failure|partial|unknown]",
		Short: "Record how an injection turned out",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			outcome, err := datatypes.ParseOutcome(args[1])
			if err != nil {
				return err
			}
			if !a.tracker.RecordOutcome(cmd.Context(), args[0], string(outcome), outcomeContext, outcomeFeedback) {
				return fmt.Errorf("outcome for injection %s was not recorded", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s\n", outcome, args[0])
			return nil
		}),
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Manage the Weaviate schema",
	}

	schemaInitCmd = &cobra.Command{
		Use:   "init",
		Short: "Create missing Skill, SkillInjection and SkillEvolutionLog classes",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.ensureSchema(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema ready.")
			return nil
		}),
	}
)

func init() {
	outcomeCmd.Flags().StringVar(&outcomeContext, "context", "", "what happened after the injection")
	outcomeCmd.Flags().StringVar(&outcomeFeedback, "feedback", "", "user feedback")
	schemaCmd.AddCommand(schemaInitCmd)
}
