package auditor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const auditSystemPrompt = "You are a senior code auditor. Analyze the given source file " +
	"and respond with a single JSON object containing: \"summary\" (string), " +
	"\"quality\" (integer 1-10), \"security_concerns\" (array of strings), and " +
	"\"maintainability_notes\" (array of strings). Respond with JSON only."

// OpenAIAuditor implements ContentAuditor against the OpenAI chat API.
type OpenAIAuditor struct {
	client *openai.Client
	model  string
}

// NewOpenAIAuditor builds an auditor from the environment. The API key
// comes from OPENAI_API_KEY or the mounted secret file; the model defaults
// to gpt-4o-mini when the argument is empty and OPENAI_MODEL is unset.
func NewOpenAIAuditor(model string) (*OpenAIAuditor, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("Read the OpenAI API Key from Podman Secrets")
		} else {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}
	if model == "" {
		model = os.Getenv("OPENAI_MODEL")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing OpenAI auditor", "model", model)
	return &OpenAIAuditor{
		client: openai.NewClient(apiKey),
		model:  model,
	}, nil
}

// Audit requests a structured content audit of one file.
func (o *OpenAIAuditor) Audit(ctx context.Context, filePath, content string) (string, error) {
	slog.Debug("Requesting content audit via OpenAI", "model", o.model, "path", filePath)
	req := openai.ChatCompletionRequest{
		Model: o.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: auditSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("File: %s\n\n%s", filePath, content)},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		slog.Error("OpenAI API call failed", "error", err, "path", filePath)
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		slog.Warn("OpenAI returned no choices or empty content", "path", filePath)
		return "", ErrEmptyResponse
	}
	slog.Debug("Received audit response from OpenAI",
		"path", filePath, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
