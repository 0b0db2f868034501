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
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/datatypes"
)

var (
	dupThreshold float64
	dupLimit     int
	keepPrimary  string
	autoMax      int
	autoApply    bool
	searchTags   []string
	searchQuery  string
	searchLimit  int
	searchMinSim float64

	skillsCmd = &cobra.Command{
		Use:   "skills",
		Short: "Inspect and maintain stored skills",
	}

	skillsImportCmd = &cobra.Command{
		Use:   "import [file.yaml]",
		Short: "Create skills from a YAML list",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return runImport(cmd, a, data)
		}),
	}

	skillsDuplicatesCmd = &cobra.Command{
		Use:   "duplicates",
		Short: "List near-duplicate skill pairs",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			pairs := a.merger.FindDuplicates(cmd.Context(), dupThreshold, dupLimit)
			return printPairs(cmd.OutOrStdout(), pairs)
		}),
	}

	skillsMergeCmd = &cobra.Command{
		Use:   "merge [skill-a] [skill-b]",
		Short: "Merge two skills with the LLM",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			skill, err := a.merger.Merge(cmd.Context(), args[0], args[1], keepPrimary)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), skill)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Merged into %s (%s)\n", skill.ID, skill.Name)
			return nil
		}),
	}

	skillsAutoMergeCmd = &cobra.Command{
		Use:   "auto-merge",
		Short: "Find and merge duplicates (dry run unless --apply)",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			reports := a.merger.AutoMergeDuplicates(cmd.Context(), dupThreshold, autoMax, !autoApply)
			return printReports(cmd.OutOrStdout(), reports)
		}),
	}

	skillsSearchCmd = &cobra.Command{
		Use:   "search",
		Short: "Run the keyword and semantic retrieval channels directly",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return runSearch(cmd, a, searchTags, searchQuery, searchLimit, searchMinSim)
		}),
	}

	skillsStatsCmd = &cobra.Command{
		Use:   "stats [skill-id]",
		Short: "Show effectiveness stats for a skill",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			stats, err := a.tracker.SkillStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n  confidence %.3f  applied %d  succeeded %d  failed %d  success rate %.2f  active %t\n",
				stats.Name, stats.SkillID, stats.ConfidenceScore, stats.TimesApplied,
				stats.TimesSucceeded, stats.TimesFailed, stats.SuccessRate, stats.IsActive)
			return nil
		}),
	}
)

func init() {
	skillsDuplicatesCmd.Flags().Float64Var(&dupThreshold, "threshold", 0.92, "cosine similarity above which skills are duplicates")
	skillsDuplicatesCmd.Flags().IntVar(&dupLimit, "limit", 0, "active skills to scan (0 uses the merger default)")
	skillsAutoMergeCmd.Flags().Float64Var(&dupThreshold, "threshold", 0.92, "cosine similarity above which skills are duplicates")
	skillsAutoMergeCmd.Flags().IntVar(&autoMax, "max-merges", 10, "pairs to process")
	skillsAutoMergeCmd.Flags().BoolVar(&autoApply, "apply", false, "perform the merges instead of reporting them")
	skillsMergeCmd.Flags().StringVar(&keepPrimary, "keep", "", "rewrite this skill in place instead of creating a new one")
	skillsSearchCmd.Flags().StringSliceVar(&searchTags, "tags", nil, "tags to match (comma separated)")
	skillsSearchCmd.Flags().StringVar(&searchQuery, "query", "", "semantic query (needs an embedding provider)")
	skillsSearchCmd.Flags().IntVar(&searchLimit, "limit", 0, "matches per channel (0 uses 7 for tags and 5 for the query)")
	skillsSearchCmd.Flags().Float64Var(&searchMinSim, "min-similarity", subconscious.DefaultMinSimilarity, "lowest similarity for semantic matches")

	skillsCmd.AddCommand(skillsImportCmd, skillsDuplicatesCmd, skillsMergeCmd, skillsAutoMergeCmd, skillsSearchCmd, skillsStatsCmd)
}

// withApp opens the app for the duration of one command.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg, nil)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// skillSpec is one entry of an import file.
type skillSpec struct {
	Name             string   `yaml:"name"`
	Description      string   `yaml:"description"`
	TriggerCondition string   `yaml:"trigger_condition"`
	Action           string   `yaml:"action"`
	Reasoning        string   `yaml:"reasoning"`
	Tags             []string `yaml:"tags"`
	ImportanceLevel  int      `yaml:"importance_level"`
}

func runImport(cmd *cobra.Command, a *app, data []byte) error {
	var specs []skillSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse skills: %w", err)
	}
	out := cmd.OutOrStdout()
	for i, sp := range specs {
		importance := sp.ImportanceLevel
		if importance == 0 {
			importance = datatypes.ImportanceMedium
		}
		skill := datatypes.NewSkill(sp.Name, sp.Description, sp.TriggerCondition, sp.Action, sp.Reasoning, sp.Tags, importance)
		if a.embedder != nil {
			vec, err := a.embedder.Embed(cmd.Context(), subconscious.FormatSkillContent(skill))
			if err != nil {
				return fmt.Errorf("embed skill %d (%s): %w", i, sp.Name, err)
			}
			skill.Embedding = vec
		}
		created, err := a.store.CreateSkill(cmd.Context(), skill)
		if err != nil {
			return fmt.Errorf("skill %d (%s): %w", i, sp.Name, err)
		}
		fmt.Fprintf(out, "%s\t%s\n", created.ID, created.Name)
	}
	return nil
}

func runSearch(cmd *cobra.Command, a *app, tags []string, query string, limit int, minSimilarity float64) error {
	if len(tags) == 0 && query == "" {
		return fmt.Errorf("search needs --tags or --query")
	}
	var results []subconscious.RetrievedSkill
	if len(tags) > 0 {
		results = append(results, a.retriever.RetrieveByKeywords(cmd.Context(), datatypes.NormalizeTags(tags), limit)...)
	}
	if query != "" {
		if a.embedder == nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "No embedding provider configured, skipping --query.")
		} else {
			results = append(results, a.retriever.RetrieveByEmbedding(cmd.Context(), query, limit, minSimilarity)...)
		}
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return writeJSON(out, results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tRELEVANCE\tID\tNAME")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%.3f\t%s\t%s\n", r.Source, r.RelevanceScore, r.ID, r.Name)
	}
	return tw.Flush()
}

func printPairs(out io.Writer, pairs []subconscious.DuplicatePair) error {
	if jsonOutput {
		return writeJSON(out, pairs)
	}
	if len(pairs) == 0 {
		fmt.Fprintln(out, "No duplicates.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIMILARITY\tSKILL A\tSKILL B")
	for _, p := range pairs {
		fmt.Fprintf(tw, "%.3f\t%s (%s)\t%s (%s)\n", p.Similarity, p.SkillAName, p.SkillAID, p.SkillBName, p.SkillBID)
	}
	return tw.Flush()
}

func printReports(out io.Writer, reports []subconscious.MergeReport) error {
	if jsonOutput {
		return writeJSON(out, reports)
	}
	if len(reports) == 0 {
		fmt.Fprintln(out, "No duplicates.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tSIMILARITY\tSKILL A\tSKILL B\tRESULT")
	for _, r := range reports {
		result := r.MergedSkillID
		if r.Error != "" {
			result = r.Error
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%s\t%s\t%s\n", r.Action, r.Similarity, r.SkillAName, r.SkillBName, result)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
