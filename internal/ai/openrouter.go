package ai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenRouterProvider talks to OpenRouter's OpenAI-compatible API.
type OpenRouterProvider struct {
	client *openai.Client
	apiKey string
	model  string

	MaxTokens   int
	Temperature float32
}

type OpenRouterConfig struct {
	BaseURL string
	APIKey  string
	SiteURL string
	AppName string
}

// headerTransport adds OpenRouter's attribution headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	siteURL string
	appName string
}

func (t *headerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	if t.siteURL != "" {
		r.Header.Set("HTTP-Referer", t.siteURL)
	}
	if t.appName != "" {
		r.Header.Set("X-Title", t.appName)
	}
	return t.base.RoundTrip(r)
}

func NewOpenRouterProvider(cfg OpenRouterConfig, model string) *OpenRouterProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	clientConfig.HTTPClient = &http.Client{
		Transport: &headerTransport{base: http.DefaultTransport, siteURL: cfg.SiteURL, appName: cfg.AppName},
	}

	return &OpenRouterProvider{
		client:      openai.NewClientWithConfig(clientConfig),
		apiKey:      cfg.APIKey,
		model:       strings.TrimSpace(model),
		MaxTokens:   1000,
		Temperature: 0.7,
	}
}

func (p *OpenRouterProvider) request(messages []Message, stream bool) (openai.ChatCompletionRequest, error) {
	if strings.TrimSpace(p.apiKey) == "" {
		return openai.ChatCompletionRequest{}, errors.New("openrouter: api key is required")
	}
	if p.model == "" {
		return openai.ChatCompletionRequest{}, errors.New("openrouter: model is required")
	}
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    msgs,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
		Stream:      stream,
	}, nil
}

func (p *OpenRouterProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	req, err := p.request(messages, false)
	if err != nil {
		return "", err
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openrouter: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamChat streams assistant content deltas via SSE.
func (p *OpenRouterProvider) StreamChat(ctx context.Context, messages []Message) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)

		req, err := p.request(messages, true)
		if err != nil {
			emit(ctx, out, StreamEvent{Err: err})
			return
		}

		stream, err := p.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			emit(ctx, out, StreamEvent{Err: err})
			return
		}
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				emit(ctx, out, StreamEvent{Done: true})
				return
			}
			if err != nil {
				emit(ctx, out, StreamEvent{Err: err})
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				if !emit(ctx, out, StreamEvent{Text: delta}) {
					return
				}
			}
		}
	}()

	return out
}
