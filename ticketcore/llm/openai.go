package llm

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/udahub-cluster/supportcore/commbus"
	"github.com/udahub-cluster/supportcore/ticketcore/observability"
)

// Config configures the OpenAI reasoner.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIReasoner implements Reasoner over the OpenAI chat completion API.
type OpenAIReasoner struct {
	client *openai.Client
	cfg    Config
	logger commbus.Logger
}

// NewOpenAIReasoner creates an OpenAI-backed reasoner.
func NewOpenAIReasoner(cfg Config, logger commbus.Logger) (*OpenAIReasoner, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if logger == nil {
		logger = commbus.NopLogger{}
	}
	return &OpenAIReasoner{
		client: openai.NewClient(cfg.APIKey),
		cfg:    cfg,
		logger: logger.Bind("component", "openai_reasoner", "model", cfg.Model),
	}, nil
}

// Infer implements the Reasoner interface.
func (r *OpenAIReasoner) Infer(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: r.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if r.cfg.Temperature > 0 {
		req.Temperature = r.cfg.Temperature
	}
	if r.cfg.MaxTokens > 0 {
		req.MaxCompletionTokens = r.cfg.MaxTokens
	}

	start := time.Now()
	resp, err := r.client.CreateChatCompletion(ctx, req)
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordReasonerCall("openai", r.cfg.Model, "error", durationMS)
		r.logger.Error("reasoner_call_failed", "error", err.Error(), "duration_ms", durationMS)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		observability.RecordReasonerCall("openai", r.cfg.Model, "error", durationMS)
		return "", fmt.Errorf("openai returned no choices")
	}

	observability.RecordReasonerCall("openai", r.cfg.Model, "success", durationMS)
	r.logger.Debug("reasoner_call_completed",
		"duration_ms", durationMS,
		"finish_reason", string(resp.Choices[0].FinishReason),
	)
	return resp.Choices[0].Message.Content, nil
}

// Ensure OpenAIReasoner implements Reasoner.
var _ Reasoner = (*OpenAIReasoner)(nil)
