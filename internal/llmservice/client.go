package llmservice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"

	"document-quiz/internal/config"
)

// ErrEmptyResponse is returned when the model answers with no content.
var ErrEmptyResponse = errors.New("llm returned an empty response")

type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string
	Temperature  float64
	MaxTokens    int
	JSON         bool
}

// Response is the model output. Parsed is set when JSON was requested and
// the content could be decoded.
type Response struct {
	Content  string
	Parsed   any
	Model    string
	Duration time.Duration
}

// ModelResolver maps a requested model to one that is actually served.
type ModelResolver interface {
	Resolve(ctx context.Context, model string) (string, error)
}

// Client invokes chat models through langchaingo.
type Client struct {
	cfg      config.LLMConfig
	resolver ModelResolver
	newModel func(cfg config.LLMConfig, model string) (llms.Model, error)
}

func NewClient(cfg config.LLMConfig, resolver ModelResolver) *Client {
	return &Client{cfg: cfg, resolver: resolver, newModel: newModel}
}

func newModel(cfg config.LLMConfig, model string) (llms.Model, error) {
	switch cfg.Provider {
	case "ollama":
		return ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(model),
		)
	case "openai", "openrouter":
		return openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(model),
		)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}

// Invoke sends one prompt and returns the first choice.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = c.cfg.Model
	}
	if c.resolver != nil {
		resolved, err := c.resolver.Resolve(ctx, model)
		if err != nil {
			return nil, err
		}
		model = resolved
	}

	llm, err := c.newModel(c.cfg, model)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	var messages []llms.MessageContent
	if req.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(schema.ChatMessageTypeSystem, req.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(schema.ChatMessageTypeHuman, req.Prompt))

	opts := []llms.CallOption{llms.WithModel(model), llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, llms.WithJSONMode())
	}

	log.Debug().Str("model", model).Int("prompt_chars", len(req.Prompt)).Bool("json", req.JSON).Msg("Generating content")
	start := time.Now()
	res, err := llm.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content with %s: %w", model, err)
	}
	if len(res.Choices) == 0 || strings.TrimSpace(res.Choices[0].Content) == "" {
		return nil, ErrEmptyResponse
	}

	out := &Response{Content: res.Choices[0].Content, Model: model, Duration: time.Since(start)}
	if req.JSON {
		parsed, err := ExtractJSON(out.Content)
		if err != nil {
			log.Warn().Err(err).Str("model", model).Msg("Response is not valid JSON")
		} else {
			out.Parsed = parsed
		}
	}
	return out, nil
}
