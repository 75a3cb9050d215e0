package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultAnthropicModel = anthropic.ModelClaudeSonnet4_5_20250929
	defaultMaxTokens      = 4096
)

type AnthropicConfig struct {
	Logger    *slog.Logger
	APIKey    string
	BaseURL   string
	Model     anthropic.Model
	MaxTokens int64
	// MaxRetries is the SDK's transport-level retry count for rate limits and 5xx responses.
	MaxRetries int
}

func (cfg *AnthropicConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.APIKey == "" {
		return errors.New("api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultAnthropicModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.MaxRetries < 0 {
		return errors.New("max retries must be non-negative")
	}
	return nil
}

// AnthropicClient produces structured output by forcing a single tool call whose input schema is
// the requested result schema.
type AnthropicClient struct {
	log    *slog.Logger
	cfg    AnthropicConfig
	client anthropic.Client
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate anthropic config: %w", err)
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicClient{
		log:    cfg.Logger,
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
	}, nil
}

func (c *AnthropicClient) Generate(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.Schema == nil {
		return nil, fmt.Errorf("%s: schema is required", req.Name)
	}
	tool, err := toAnthropicTool(req)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: []anthropic.ToolUnionParam{{OfTool: &tool}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Name},
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	start := time.Now()
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get response: %w", req.Name, err)
	}
	c.log.Debug("llm: received response",
		"name", req.Name,
		"stopReason", resp.StopReason,
		"inputTokens", resp.Usage.InputTokens,
		"outputTokens", resp.Usage.OutputTokens,
		"duration", time.Since(start),
	)

	for _, blk := range resp.Content {
		if blk.Type != "tool_use" {
			continue
		}
		tu := blk.AsToolUse()
		if tu.Name == req.Name {
			return tu.Input, nil
		}
	}
	return nil, fmt.Errorf("%s: %w (stop reason %s)", req.Name, ErrNoResult, resp.StopReason)
}

func toAnthropicTool(req Request) (anthropic.ToolParam, error) {
	data, err := json.Marshal(req.Schema)
	if err != nil {
		return anthropic.ToolParam{}, fmt.Errorf("%s: failed to encode schema: %w", req.Name, err)
	}
	var schema map[string]any
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropic.ToolParam{}, fmt.Errorf("%s: failed to decode schema: %w", req.Name, err)
	}

	props, _ := schema["properties"].(map[string]any)
	var required []string
	if raw, ok := schema["required"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				required = append(required, s)
			}
		}
	}

	tool := anthropic.ToolParam{
		Name: req.Name,
		InputSchema: anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
	if req.Description != "" {
		tool.Description = anthropic.Opt(req.Description)
	}
	return tool, nil
}
