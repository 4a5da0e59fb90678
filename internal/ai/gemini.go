package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiProvider struct {
	apiKey string
	client *genai.Client
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Probe(ctx context.Context, model string) error {
	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}
	_, err = client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{{Role: genai.RoleUser, Parts: []*genai.Part{{Text: "ping"}}}},
		&genai.GenerateContentConfig{
			MaxOutputTokens: 1,
			Temperature:     genai.Ptr[float32](0),
		},
	)
	return wrapGeminiError(err)
}

func (p *geminiProvider) Stream(ctx context.Context, model string, req *ChatRequest, onDelta func(string) error) error {
	client, err := p.getClient(ctx)
	if err != nil {
		return err
	}
	config := &genai.GenerateContentConfig{
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	for resp, err := range client.Models.GenerateContentStream(ctx, model, buildGeminiContents(req), config) {
		if err != nil {
			return wrapGeminiError(err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if err := onDelta(text); err != nil {
			return err
		}
	}
	return nil
}

func (p *geminiProvider) getClient(ctx context.Context) (*genai.Client, error) {
	if p.apiKey == "" {
		return nil, &BackendError{Backend: p.Name(), Class: ClassUnconfigured, Err: ErrUnavailable}
	}
	if p.client != nil {
		return p.client, nil
	}
	return nil, &BackendError{Backend: p.Name(), Class: ClassUnconfigured, Err: fmt.Errorf("gemini client not initialized")}
}

func buildGeminiContents(req *ChatRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == "assistant" {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(m.Images)+1)
		if m.Text != "" {
			parts = append(parts, &genai.Part{Text: m.Text})
		}
		for _, img := range m.Images {
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func wrapGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return newStatusError("gemini", apiErr.Code, apiErr.Message)
	}
	return wrapBackendError("gemini", err)
}

func createGeminiFactory(args interface{}) (IChatProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	provider := &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}
	if provider.apiKey == "" {
		return provider, nil
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  provider.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	provider.client = client
	return provider, nil
}

func init() {
	RegisterChat("gemini", createGeminiFactory)
}
