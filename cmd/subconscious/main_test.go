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
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianSubconscious/cmd/subconscious/config"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/api"
)

const skillsYAML = `
- name: Risk rules
  description: Portfolio-wide limits
  action: Never risk more than 1% per trade
  tags: [risk]
  importance_level: 3
- name: RSI thresholds
  description: Mean reversion entries
  trigger_condition: RSI strategies
  action: Enter below 30, exit above 70
  tags: [rsi]
`

func offlineConfig() *config.Config {
	c := config.DefaultConfig()
	c.Store.InMemory = true
	c.LLM.Provider = "none"
	c.Embeddings.Provider = "none"
	return &c
}

func newTestApp(t *testing.T) *app {
	t.Helper()
	a, err := newApp(context.Background(), offlineConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func testCommand(out *bytes.Buffer) *cobra.Command {
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetContext(context.Background())
	return cmd
}

func setJSONOutput(t *testing.T, v bool) {
	t.Helper()
	prev := jsonOutput
	jsonOutput = v
	t.Cleanup(func() { jsonOutput = prev })
}

func TestNewApp_OfflineCollaboratorsAreNil(t *testing.T) {
	a := newTestApp(t)
	assert.Nil(t, a.completer)
	assert.Nil(t, a.embedder)
	assert.Nil(t, a.weaviate)
	assert.Error(t, a.ensureSchema(context.Background()))
}

func TestNewApp_MissingKeyFailsOpen(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	c := offlineConfig()
	c.LLM.Provider = "anthropic"
	c.LLM.APIKey = ""
	a, err := newApp(context.Background(), c, nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.completer)
}

func TestNewApp_RejectsBadWeaviateURL(t *testing.T) {
	c := offlineConfig()
	c.Store.Backend = "weaviate"
	c.Store.WeaviateURL = "not a url"
	_, err := newApp(context.Background(), c, nil)
	assert.Error(t, err)
}

func TestImportProcessOutcome(t *testing.T) {
	setJSONOutput(t, false)
	a := newTestApp(t)

	var out bytes.Buffer
	require.NoError(t, runImport(testCommand(&out), a, []byte(skillsYAML)))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	rsiID := strings.SplitN(lines[1], "\t", 2)[0]

	req := api.ProcessRequest{
		ThreadID:    "cli",
		CurrentTurn: 3,
		Messages: []subconscious.Message{
			{Role: "user", Content: "What RSI levels should I use for entries?"},
		},
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	out.Reset()
	setJSONOutput(t, true)
	require.NoError(t, runProcess(testCommand(&out), a, bytes.NewReader(body), &out))

	var injectionID string
	var result api.StreamFrame
	dec := json.NewDecoder(&out)
	for dec.More() {
		var frame map[string]json.RawMessage
		require.NoError(t, dec.Decode(&frame))
		var typ string
		require.NoError(t, json.Unmarshal(frame["type"], &typ))
		switch typ {
		case string(subconscious.EventInjection):
			var data subconscious.InjectionEventData
			require.NoError(t, json.Unmarshal(frame["data"], &data))
			injectionID = data.InjectionID
		case "result":
			require.NoError(t, json.Unmarshal(frame["content"], &result.Content))
			require.NoError(t, json.Unmarshal(frame["injected"], &result.Injected))
		}
	}
	require.True(t, result.Injected)
	assert.Contains(t, result.Content, "### RSI thresholds")
	assert.Contains(t, result.Content, "### Risk rules")
	require.NotEmpty(t, injectionID)

	require.True(t, a.tracker.RecordOutcome(context.Background(), injectionID, "success", "", ""))
	stats, err := a.tracker.SkillStats(context.Background(), rsiID)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TimesSucceeded)
}

func TestRunProcess_HumanOutput(t *testing.T) {
	setJSONOutput(t, false)
	a := newTestApp(t)

	var out bytes.Buffer
	body := `{"thread_id":"t","current_turn":3,"messages":[{"role":"user","content":"ok"}]}`
	require.NoError(t, runProcess(testCommand(&out), a, strings.NewReader(body), &out))
	assert.Equal(t, "No injection.\n", out.String())
}

func TestRunProcess_InvalidRequest(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	assert.Error(t, runProcess(testCommand(&out), a, strings.NewReader(`{"thread_id":"t"}`), &out))
	assert.Error(t, runProcess(testCommand(&out), a, strings.NewReader(`not json`), &out))
}

func TestRunImport_RejectsInvalidSkill(t *testing.T) {
	a := newTestApp(t)
	var out bytes.Buffer
	err := runImport(testCommand(&out), a, []byte("- name: Bad\n  importance_level: 9\n"))
	assert.Error(t, err)
}

func TestRunSearch(t *testing.T) {
	setJSONOutput(t, false)
	a := newTestApp(t)
	var out bytes.Buffer
	require.NoError(t, runImport(testCommand(&out), a, []byte(skillsYAML)))

	out.Reset()
	require.NoError(t, runSearch(testCommand(&out), a, []string{"RSI"}, "", 0, subconscious.DefaultMinSimilarity))
	assert.Contains(t, out.String(), "keyword")
	assert.Contains(t, out.String(), "RSI thresholds")
	assert.NotContains(t, out.String(), "Risk rules")

	// Without an embedder the semantic channel is skipped.
	out.Reset()
	require.NoError(t, runSearch(testCommand(&out), a, nil, "oversold entries", 0, subconscious.DefaultMinSimilarity))
	assert.Equal(t, "No matches.\n", out.String())

	assert.Error(t, runSearch(testCommand(&out), a, nil, "", 0, 0))
}

func TestPrintReports(t *testing.T) {
	setJSONOutput(t, false)
	var out bytes.Buffer
	require.NoError(t, printReports(&out, nil))
	assert.Equal(t, "No duplicates.\n", out.String())

	out.Reset()
	require.NoError(t, printReports(&out, []subconscious.MergeReport{
		{Action: subconscious.ActionWouldMerge, Similarity: 0.95, SkillAName: "A", SkillBName: "B"},
		{Action: subconscious.ActionMergeFailed, Similarity: 0.93, SkillAName: "C", SkillBName: "D", Error: "skill is inactive"},
	}))
	assert.Contains(t, out.String(), "would_merge")
	assert.Contains(t, out.String(), "skill is inactive")
}

func TestExpandHome(t *testing.T) {
	assert.Equal(t, "/abs/path", expandHome("/abs/path"))
	assert.NotContains(t, expandHome("~/x"), "~")
}
