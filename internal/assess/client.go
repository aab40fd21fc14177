// Package assess asks an OpenAI-compatible search model (Perplexity by
// default) for a verdict on a claim.
package assess

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"factbot/internal/domain"
)

const DefaultBaseURL = "https://api.perplexity.ai"

// Client implements domain.Assessor. It never retries: a failed call is
// reported to the caller as *domain.AssessmentError.
type Client struct {
	client  openai.Client
	profile Profile
	logger  *slog.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string // default https://api.perplexity.ai
	Profile    Profile
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("assess: API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Profile.Model == "" && cfg.Profile.SystemPrompt == "" {
		cfg.Profile = DefaultProfile()
	}
	if err := cfg.Profile.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		client:  openai.NewClient(opts...),
		profile: cfg.Profile,
		logger:  cfg.Logger,
	}, nil
}

// Profile returns the profile the client prompts with.
func (c *Client) Profile() Profile { return c.profile }

// Assess sends the claim with the profile's system prompt and returns the
// model's reply with leading and trailing whitespace removed. The body,
// markup and inner line breaks included, is left as the model wrote it.
func (c *Client) Assess(ctx context.Context, text string) (string, error) {
	if c.profile.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.profile.Timeout)
		defer cancel()
	}

	params := openai.ChatCompletionNewParams{
		Model: c.profile.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(c.profile.SystemPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(c.profile.Temperature),
	}
	if c.profile.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.profile.MaxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", domain.NewAssessmentError(describe(err))
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewAssessmentError(errors.New("no choices in response"))
	}

	verdict := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.logger.Debug("assessment completed",
		"model", c.profile.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason,
	)
	if verdict == "" {
		return "", domain.NewAssessmentError(domain.ErrEmptyVerdict)
	}
	return verdict, nil
}

// describe shortens API errors to their status while keeping them unwrappable.
func describe(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("upstream status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("chat completion: %w", err)
}
