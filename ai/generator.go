// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Generator writes meal plans with an OpenAI chat model.
type Generator struct {
	client *openai.Client
	model  string
}

// NewGenerator creates a generator using the public OpenAI API
func NewGenerator(apiKey, model string) *Generator {
	return NewGeneratorWithConfig(openai.DefaultConfig(apiKey), model)
}

// NewGeneratorWithConfig allows a custom base URL (proxies, tests)
func NewGeneratorWithConfig(cfg openai.ClientConfig, model string) *Generator {
	return &Generator{client: openai.NewClientWithConfig(cfg), model: model}
}

// Generate asks the model for a plan and parses the answer
func (g *Generator) Generate(ctx context.Context, req PlanRequest) (*GeneratedPlan, error) {
	req.Normalize()

	ctx, cancel := context.WithTimeout(ctx, 90*time.Second)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("openai error %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrInvalidPlan)
	}

	slog.Debug("meal plan generated",
		"model", g.model,
		"days", req.Days,
		"tokens", resp.Usage.TotalTokens,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return ParsePlan(resp.Choices[0].Message.Content)
}
