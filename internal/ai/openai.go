package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xxxsen/casememo/internal/pkg/sse"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey  string            `json:"api_key"`
	BaseURL string            `json:"base_url"`
	Headers map[string]string `json:"headers"`
}

// openAIProvider talks to any OpenAI-compatible chat completions endpoint
// (OpenAI, Groq, DeepSeek, vLLM, Ollama's /v1...).
type openAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	headers map[string]string
	client  *http.Client
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIChatMsg `json:"messages"`
	Stream      bool            `json:"stream"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float32        `json:"temperature,omitempty"`
}

// Content is either a plain string or a list of openAIContentPart.
type openAIChatMsg struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

func (p *openAIProvider) Name() string {
	return p.name
}

func (p *openAIProvider) Probe(ctx context.Context, model string) error {
	resp, err := p.do(ctx, openAIChatRequest{
		Model:       model,
		Messages:    []openAIChatMsg{{Role: "user", Content: "ping"}},
		MaxTokens:   1,
		Temperature: float32Ptr(0),
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *openAIProvider) Stream(ctx context.Context, model string, req *ChatRequest, onDelta func(string) error) error {
	resp, err := p.do(ctx, openAIChatRequest{
		Model:       model,
		Messages:    buildOpenAIMessages(req),
		Stream:      true,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	reader := sse.NewReader(resp.Body)
	finished := false
	for {
		ev, err := reader.Next()
		if err != nil {
			return wrapBackendError(p.name, err)
		}
		if ev == nil {
			// A body that ends without [DONE] or a finish_reason was cut off.
			if finished {
				return nil
			}
			return &BackendError{Backend: p.name, Class: ClassNetwork, Err: io.ErrUnexpectedEOF}
		}
		data := strings.TrimSpace(ev.Data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return wrapBackendError(p.name, fmt.Errorf("decode stream chunk: %w", err))
		}
		if chunk.Error != nil {
			return &BackendError{Backend: p.name, Class: ClassServer, Err: fmt.Errorf("%s", chunk.Error.Message)}
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finished = true
			}
			if choice.Delta.Content == "" {
				continue
			}
			if err := onDelta(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

func (p *openAIProvider) do(ctx context.Context, body openAIChatRequest) (*http.Response, error) {
	if p.apiKey == "" {
		return nil, &BackendError{Backend: p.name, Class: ClassUnconfigured, Err: ErrUnavailable}
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + "/chat/completions"
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if body.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, wrapBackendError(p.name, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newStatusError(p.name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return resp, nil
}

func buildOpenAIMessages(req *ChatRequest) []openAIChatMsg {
	msgs := make([]openAIChatMsg, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openAIChatMsg{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		if len(m.Images) == 0 {
			msgs = append(msgs, openAIChatMsg{Role: m.Role, Content: m.Text})
			continue
		}
		parts := make([]openAIContentPart, 0, len(m.Images)+1)
		if m.Text != "" {
			parts = append(parts, openAIContentPart{Type: "text", Text: m.Text})
		}
		for _, img := range m.Images {
			url := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
			parts = append(parts, openAIContentPart{Type: "image_url", ImageURL: &openAIImageURL{URL: url}})
		}
		msgs = append(msgs, openAIChatMsg{Role: m.Role, Content: parts})
	}
	return msgs
}

func float32Ptr(v float32) *float32 {
	return &v
}

func newOpenAIProvider(name string, cfg *openAIConfig, defaultBaseURL string) *openAIProvider {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &openAIProvider{
		name:    name,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		headers: cfg.Headers,
		client:  http.DefaultClient,
	}
}

func createOpenAIFactory(args interface{}) (IChatProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return newOpenAIProvider("openai", cfg, defaultOpenAIBaseURL), nil
}

func init() {
	RegisterChat("openai", createOpenAIFactory)
}
