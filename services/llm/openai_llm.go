// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
)

const openAISecretPath = "/run/secrets/openai_api_key"

// OpenAIConfig configures the OpenAI completer and embedder.
type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
}

func newOpenAIClient(cfg OpenAIConfig) (*openai.Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	apiKey = resolveSecret(apiKey, openAISecretPath)
	if apiKey == "" {
		slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", openAISecretPath)
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg), nil
}

// =============================================================================
// Completion
// =============================================================================

// OpenAIClient is a Completer over the chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI client", "model", model)
	return &OpenAIClient{client: client, model: model}, nil
}

// Complete implements the Completer interface.
func (o *OpenAIClient) Complete(ctx context.Context, cr CompletionRequest) (string, error) {
	slog.Debug("Generating text via OpenAI", "model", o.model)

	var messages []openai.ChatCompletionMessage
	if cr.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: cr.SystemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: cr.UserPrompt})

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: cr.Temperature,
	}
	if cr.MaxTokens > 0 {
		req.MaxCompletionTokens = cr.MaxTokens
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	slog.Debug("Received response from OpenAI", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

// =============================================================================
// Embeddings
// =============================================================================

// OpenAIEmbedder produces vectors with an OpenAI embedding model.
//
// # Description
//
// Defaults to text-embedding-3-small (1536 dimensions). Every vector stored
// in a skill store must come from the same model or similarities are
// meaningless.
type OpenAIEmbedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	client, err := newOpenAIClient(cfg)
	if err != nil {
		return nil, err
	}
	model := openai.SmallEmbedding3
	if cfg.EmbeddingModel != "" {
		model = openai.EmbeddingModel(cfg.EmbeddingModel)
	}
	return &OpenAIEmbedder{client: client, model: model}, nil
}

// Embed implements the Embedder interface.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return resp.Data[0].Embedding, nil
}
