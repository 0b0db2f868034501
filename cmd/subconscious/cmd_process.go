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

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianSubconscious/services/subconscious"
	"github.com/AleutianAI/AleutianSubconscious/services/subconscious/api"
)

var (
	processFile string

	processCmd = &cobra.Command{
		Use:   "process",
		Short: "Run one turn through the pipeline and print its events",
		Long: `Reads a JSON request {"thread_id", "current_turn", "messages"} from
--file or stdin, processes it against the configured store and prints every
event followed by the injected content.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if processFile != "" {
				f, err := os.Open(processFile)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			a, err := newApp(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer a.Close()
			return runProcess(cmd, a, in, cmd.OutOrStdout())
		},
	}
)

func init() {
	processCmd.Flags().StringVarP(&processFile, "file", "f", "", "request file (default stdin)")
}

var processValidate = validator.New()

func runProcess(cmd *cobra.Command, a *app, in io.Reader, out io.Writer) error {
	var req api.ProcessRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	if err := processValidate.Struct(&req); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}

	enc := json.NewEncoder(out)
	sink := func(ev subconscious.Event) {
		if jsonOutput {
			_ = enc.Encode(ev)
			return
		}
		switch ev.Type {
		case subconscious.EventThinking:
			fmt.Fprintf(out, "[%s]\n", ev.Stage)
		case subconscious.EventInjection:
			if ev.Injection != nil {
				fmt.Fprintf(out, "[injection] %d skills via %s, intent: %s\n",
					len(ev.Injection.SkillIDs), ev.Injection.SynthesisMethod, ev.Injection.UserIntent)
			}
		}
	}

	var content string
	var injected bool
	a.states.With(req.ThreadID, func(state *subconscious.State) {
		content, injected = a.pipeline.Process(cmd.Context(), subconscious.Request{
			Messages:    req.Messages,
			ThreadID:    req.ThreadID,
			UserID:      req.UserID,
			CurrentTurn: req.CurrentTurn,
		}, state, sink)
	})

	if jsonOutput {
		return enc.Encode(api.StreamFrame{Type: "result", ThreadID: req.ThreadID, Injected: injected, Content: content})
	}
	if !injected {
		fmt.Fprintln(out, "No injection.")
		return nil
	}
	fmt.Fprintln(out, content)
	return nil
}
