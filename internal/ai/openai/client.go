// Package openai implements the summarize, translate and illustrate collaborators on the
// OpenAI API.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/metrics"
	"github.com/JakeFAU/digest-enricher/internal/policy/ratelimit"
	"github.com/JakeFAU/digest-enricher/internal/tokens"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gpt-4o-mini"
	// DefaultImageModel is the image model used when none is configured.
	DefaultImageModel = "dall-e-3"
	// DefaultMaxInputTokens bounds the article text sent for summarization.
	DefaultMaxInputTokens = 6000
	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 60 * time.Second

	limiterKey = "openai"
)

// ErrAPIKeyNotSet is returned when no API key is configured.
var ErrAPIKeyNotSet = errors.New("openai api key not set")

// ErrEmptyResponse is returned when the API answers without usable output.
var ErrEmptyResponse = errors.New("openai returned no output")

// Config holds the client settings.
type Config struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	ImageModel     string        `mapstructure:"image_model"`
	MaxInputTokens int           `mapstructure:"max_input_tokens"`
	MaxRetries     int           `mapstructure:"max_retries"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Client talks to the OpenAI API.
type Client struct {
	client         openai.Client
	model          string
	imageModel     string
	maxInputTokens int
	timeout        time.Duration
	truncator      *tokens.Truncator
	limiter        *ratelimit.Limiter
	logger         *zap.Logger
}

var (
	_ digest.Summarizer  = (*Client)(nil)
	_ digest.Translator  = (*Client)(nil)
	_ digest.Illustrator = (*Client)(nil)
)

// New builds a Client. The truncator caps summarize input; limiter may be nil.
func New(cfg Config, truncator *tokens.Truncator, limiter *ratelimit.Limiter, logger *zap.Logger, opts ...option.RequestOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	if truncator == nil {
		return nil, fmt.Errorf("truncator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.ImageModel == "" {
		cfg.ImageModel = DefaultImageModel
	}
	if cfg.MaxInputTokens <= 0 {
		cfg.MaxInputTokens = DefaultMaxInputTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	base = append(base, opts...)

	return &Client{
		client:         openai.NewClient(base...),
		model:          cfg.Model,
		imageModel:     cfg.ImageModel,
		maxInputTokens: cfg.MaxInputTokens,
		timeout:        cfg.Timeout,
		truncator:      truncator,
		limiter:        limiter,
		logger:         logger,
	}, nil
}

// Summarize condenses article text into a short English summary.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	input := c.truncator.SliceByTokenBudget(text, c.maxInputTokens)
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("%w: nothing to summarize", digest.ErrValidation)
	}
	if len(input) < len(text) {
		c.logger.Debug("summary input truncated", zap.Int("from", len(text)), zap.Int("to", len(input)))
	}
	return c.complete(ctx, "summarize", summarizePrompt, input)
}

// Translate renders text in lang. Titles and article bodies use different prompts.
func (c *Client) Translate(ctx context.Context, text string, lang digest.Lang, mode digest.TranslateMode) (string, error) {
	name, ok := languageNames[lang]
	if !ok {
		return "", fmt.Errorf("%w: cannot translate to %q", digest.ErrValidation, lang)
	}
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	prompt := translateContentPrompt
	if mode == digest.ModeTitle {
		prompt = translateTitlePrompt
	}
	return c.complete(ctx, "translate_"+string(mode), fmt.Sprintf(prompt, name), text)
}

// Illustrate generates one PNG cover image for the day's titles.
func (c *Client) Illustrate(ctx context.Context, date digest.DateKey, titles []string) ([]byte, error) {
	if len(titles) == 0 {
		return nil, fmt.Errorf("%w: no titles to illustrate", digest.ErrValidation)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         illustratePrompt(date, titles),
		Model:          openai.ImageModel(c.imageModel),
		N:              openai.Int(1),
		Size:           openai.ImageGenerateParamsSize1024x1024,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		metrics.ObserveAICall("illustrate", "error", time.Since(start))
		return nil, fmt.Errorf("generate image: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		metrics.ObserveAICall("illustrate", "empty", time.Since(start))
		return nil, ErrEmptyResponse
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		metrics.ObserveAICall("illustrate", "error", time.Since(start))
		return nil, fmt.Errorf("decode image: %w", err)
	}
	metrics.ObserveAICall("illustrate", "ok", time.Since(start))
	return img, nil
}

func (c *Client) complete(ctx context.Context, op, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.limiter.Wait(ctx, limiterKey); err != nil {
		return "", err
	}

	start := time.Now()
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		metrics.ObserveAICall(op, "error", time.Since(start))
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("openai %s failed with status %d: %w", op, apiErr.StatusCode, err)
		}
		return "", fmt.Errorf("openai %s failed: %w", op, err)
	}
	if len(completion.Choices) == 0 {
		metrics.ObserveAICall(op, "empty", time.Since(start))
		return "", ErrEmptyResponse
	}
	out := strings.TrimSpace(completion.Choices[0].Message.Content)
	if out == "" {
		metrics.ObserveAICall(op, "empty", time.Since(start))
		return "", ErrEmptyResponse
	}
	metrics.ObserveAICall(op, "ok", time.Since(start))
	c.logger.Debug("completion received",
		zap.String("op", op),
		zap.Int64("total_tokens", completion.Usage.TotalTokens),
	)
	return out, nil
}
