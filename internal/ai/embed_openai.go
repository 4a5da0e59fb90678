package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type openAIEmbedConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	// SendDimensions asks the endpoint to shorten its vectors (text-embedding-3).
	SendDimensions bool `json:"send_dimensions"`
}

type openAIEmbedRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openAIEmbedModel struct {
	apiKey     string
	baseURL    string
	model      string
	dimensions int
	client     *http.Client
}

func (m *openAIEmbedModel) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if m.apiKey == "" {
		return nil, ErrUnavailable
	}
	endpoint := strings.TrimRight(m.baseURL, "/") + "/embeddings"
	data, err := json.Marshal(openAIEmbedRequest{
		Model:      m.model,
		Input:      text,
		Dimensions: m.dimensions,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai embedding request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("openai response has no embeddings")
	}
	return out.Data[0].Embedding, nil
}

func (m *openAIEmbedModel) Close() error {
	return nil
}

func createOpenAIEmbedModel(ctx context.Context, model string, dimension int, args interface{}) (IEmbedModel, error) {
	cfg := &openAIEmbedConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	m := &openAIEmbedModel{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
		model:   model,
		client:  http.DefaultClient,
	}
	if cfg.SendDimensions {
		m.dimensions = dimension
	}
	return m, nil
}

func init() {
	RegisterEmbed("openai", createOpenAIEmbedModel)
}
