package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIVisionName         = "openai"
	OpenAIVisionDefaultModel = "gpt-4o"
)

// OpenAIVisionConfig holds configuration for the vision model client.
type OpenAIVisionConfig struct {
	APIKey     string
	Model      string        // e.g. "gpt-4o"
	BaseURL    string        // Optional custom endpoint
	MaxTokens  int           // Response token budget
	Timeout    time.Duration // HTTP timeout
	HTTPClient *http.Client  // Optional (tests)
}

// OpenAIVisionClient implements VisionClient using the official OpenAI SDK.
// Any OpenAI-compatible endpoint works via BaseURL. SDK transport retries
// are disabled so the worker's error policy is the only one in play.
type OpenAIVisionClient struct {
	model     string
	maxTokens int
	client    openai.Client
}

// NewOpenAIVisionClient creates a vision client. Construction fails without
// credentials; workers treat that as a fatal startup error.
func NewOpenAIVisionClient(cfg OpenAIVisionConfig) (*OpenAIVisionClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required (set OPENAI_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = OpenAIVisionDefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 150
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIVisionClient{
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		client:    openai.NewClient(opts...),
	}, nil
}

// Name returns the client identifier.
func (c *OpenAIVisionClient) Name() string {
	return OpenAIVisionName
}

// Summarize sends a single user message holding the prompt text and the
// image, and returns the first choice's content. A response with no choices
// or empty content is an error.
func (c *OpenAIVisionClient) Summarize(ctx context.Context, prompt, imageDataURI string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		MaxTokens: openai.Int(int64(c.maxTokens)),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(prompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: imageDataURI,
				}),
			}),
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision response has no choices")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("vision response is empty")
	}
	return content, nil
}
