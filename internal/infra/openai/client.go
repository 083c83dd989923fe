package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openaigo "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// Client talks to an OpenAI-compatible chat completion API. The image URL
// form is used rather than inline bytes: frames are already public in object
// storage and the request stays small.
type Client struct {
	client      openaigo.Client
	visionModel string
	textModel   string
	maxTokens   int64
	timeout     time.Duration
	logger      *zap.Logger
}

type ClientConfig struct {
	APIKey      string
	BaseURL     string
	VisionModel string
	TextModel   string
	MaxTokens   int
	Timeout     time.Duration
}

func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("vision API key is not configured")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      openaigo.NewClient(opts...),
		visionModel: cfg.VisionModel,
		textModel:   cfg.TextModel,
		maxTokens:   int64(cfg.MaxTokens),
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

func (c *Client) LabelImage(ctx context.Context, imageURL string, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.UserMessageParts(
				openaigo.TextContentPart(prompt),
				openaigo.ImageContentPart(openaigo.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
			),
		},
		Model:       c.visionModel,
		Temperature: openaigo.Float(0.2),
		MaxTokens:   openaigo.Int(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vision API returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("vision API returned empty content")
	}
	c.logger.Debug("vision response received",
		zap.String("model", c.visionModel),
		zap.Int("content_length", len(content)),
	)
	return content, nil
}

func (c *Client) GenerateText(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openaigo.ChatCompletionNewParams{
		Messages: []openaigo.ChatCompletionMessageParamUnion{
			openaigo.UserMessage(prompt),
		},
		Model:       c.textModel,
		Temperature: openaigo.Float(0.7),
		MaxTokens:   openaigo.Int(c.maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("text completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion API returned no choices")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", errors.New("completion API returned empty content")
	}
	return content, nil
}
