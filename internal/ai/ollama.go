package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

type OllamaProvider struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

type ollamaStreamResp struct {
	Message ollamaMsg `json:"message"`
	Done    bool      `json:"done"`
	Error   string    `json:"error,omitempty"`
}

// NewOllamaProvider leaves the client without a global timeout; deadlines
// come from the caller's context.
func NewOllamaProvider(baseURL, model string) *OllamaProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaProvider{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaProvider) newRequest(ctx context.Context, messages []Message, stream bool) (*http.Request, error) {
	if p.Client == nil {
		return nil, errors.New("ollama: http client is nil")
	}
	reqBody := ollamaChatReq{
		Model:    p.Model,
		Stream:   stream,
		Messages: make([]ollamaMsg, 0, len(messages)),
	}
	for _, m := range messages {
		reqBody.Messages = append(reqBody.Messages, ollamaMsg{Role: m.Role, Content: m.Content})
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (p *OllamaProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	req, err := p.newRequest(ctx, messages, false)
	if err != nil {
		return "", err
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("ollama: status %d", resp.StatusCode)
	}

	var decoded ollamaChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("ollama: decode: %w", err)
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	return decoded.Message.Content, nil
}

// StreamChat reads Ollama's newline-delimited JSON stream.
func (p *OllamaProvider) StreamChat(ctx context.Context, messages []Message) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)

	go func() {
		defer close(out)

		fail := func(err error) { emit(ctx, out, StreamEvent{Err: err}) }

		req, err := p.newRequest(ctx, messages, true)
		if err != nil {
			fail(err)
			return
		}

		resp, err := p.Client.Do(req)
		if err != nil {
			fail(err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			fail(fmt.Errorf("ollama: status %d", resp.StatusCode))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		// Increase scanner buffer for long JSON lines.
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}

			var decoded ollamaStreamResp
			if err := json.Unmarshal(line, &decoded); err != nil {
				fail(fmt.Errorf("ollama: decode: %w", err))
				return
			}
			if decoded.Error != "" {
				fail(errors.New(decoded.Error))
				return
			}

			if decoded.Message.Content != "" {
				if !emit(ctx, out, StreamEvent{Text: decoded.Message.Content}) {
					return
				}
			}

			if decoded.Done {
				emit(ctx, out, StreamEvent{Done: true})
				return
			}
		}

		if err := sc.Err(); err != nil {
			fail(err)
			return
		}
		emit(ctx, out, StreamEvent{Done: true})
	}()

	return out
}
