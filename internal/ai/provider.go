package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	ModelName() string
}

// IEmbedModel is a loaded embedding model. Implementations may return raw
// (unnormalized) vectors; Embedder normalizes them.
type IEmbedModel interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	Close() error
}

type EmbedModelFactory func(ctx context.Context, model string, dimension int, args interface{}) (IEmbedModel, error)

type IChatProvider interface {
	Name() string
	// Probe issues the cheapest possible request: one output token, zero
	// temperature, no streaming.
	Probe(ctx context.Context, model string) error
	// Stream sends req and calls onDelta for every text fragment as it arrives.
	Stream(ctx context.Context, model string, req *ChatRequest, onDelta func(string) error) error
}

type ChatProviderFactory func(args interface{}) (IChatProvider, error)

var (
	registryMu    sync.RWMutex
	chatRegistry  = map[string]ChatProviderFactory{}
	embedRegistry = map[string]EmbedModelFactory{}
)

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func RegisterChat(name string, factory ChatProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	chatRegistry[key] = factory
	registryMu.Unlock()
}

func RegisterEmbed(name string, factory EmbedModelFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	embedRegistry[key] = factory
	registryMu.Unlock()
}

func NewChatProvider(name string, args interface{}) (IChatProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("chat provider is required")
	}
	registryMu.RLock()
	factory := chatRegistry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported chat provider: %s", name)
	}
	return factory(args)
}

func lookupEmbedFactory(name string) (EmbedModelFactory, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("embedding.provider is required")
	}
	registryMu.RLock()
	factory := embedRegistry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedding provider: %s", name)
	}
	return factory, nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}
