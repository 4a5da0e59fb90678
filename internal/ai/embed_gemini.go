package ai

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type geminiEmbedModel struct {
	client    *genai.Client
	model     string
	dimension int32
}

func (m *geminiEmbedModel) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	config := &genai.EmbedContentConfig{
		OutputDimensionality: genai.Ptr(m.dimension),
	}
	if taskType != "" {
		config.TaskType = taskType
	}
	resp, err := m.client.Models.EmbedContent(
		ctx,
		m.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding values returned")
	}
	return resp.Embeddings[0].Values, nil
}

func (m *geminiEmbedModel) Close() error {
	return nil
}

func createGeminiEmbedModel(ctx context.Context, model string, dimension int, args interface{}) (IEmbedModel, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrUnavailable
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &geminiEmbedModel{client: client, model: model, dimension: int32(dimension)}, nil
}

func init() {
	RegisterEmbed("gemini", createGeminiEmbedModel)
}
