package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/casememo/internal/ai"
	"github.com/xxxsen/casememo/internal/model"
	appErr "github.com/xxxsen/casememo/internal/pkg/errors"
)

const (
	maxChatImageBytes = 8 << 20
	maxChatImages     = 4
)

type ICaseRetriever interface {
	Retrieve(ctx context.Context, query string, k int, minScore float32) string
}

type IBackendSelector interface {
	Select(ctx context.Context, vision bool) (*ai.Selection, error)
}

type IImageStore interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type ChatConfig struct {
	MaxHistoryTurns int
	MaxTurnChars    int
	StreamTimeout   time.Duration
	MaxTokens       int
}

type ChatInput struct {
	Messages []model.ChatMessage
	Mode     model.ChatMode
}

// ChatSession is a chat request with its backend already chosen. Backend
// details are known before the first byte of the answer.
type ChatSession struct {
	Backend     string
	CostTier    string
	Mode        model.ChatMode
	ContextUsed bool

	selection     *ai.Selection
	request       *ai.ChatRequest
	streamTimeout time.Duration
}

func (s *ChatSession) Stream(ctx context.Context, onDelta func(string) error) error {
	return s.selection.Stream(ctx, s.request, s.streamTimeout, onDelta)
}

type ChatService struct {
	retriever ICaseRetriever
	router    IBackendSelector
	images    IImageStore
	cfg       ChatConfig
}

func NewChatService(retriever ICaseRetriever, router IBackendSelector, images IImageStore, cfg ChatConfig) *ChatService {
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 10
	}
	if cfg.MaxTurnChars <= 0 {
		cfg.MaxTurnChars = 2000
	}
	return &ChatService{retriever: retriever, router: router, images: images, cfg: cfg}
}

func (s *ChatService) Start(ctx context.Context, input ChatInput) (*ChatSession, error) {
	logger := logutil.GetLogger(ctx)
	history, err := s.prepareHistory(input.Messages)
	if err != nil {
		return nil, err
	}
	latest := history[len(history)-1]

	mode := model.ChatModeText
	if input.Mode == model.ChatModeVision || len(latest.Images) > 0 {
		mode = model.ChatModeVision
	}

	messages := make([]ai.ChatMessage, 0, len(history))
	for i, msg := range history {
		item := ai.ChatMessage{Role: msg.Role, Text: msg.Text}
		if i == len(history)-1 {
			images, err := s.resolveImages(ctx, msg.Images)
			if err != nil {
				return nil, err
			}
			item.Images = images
		}
		messages = append(messages, item)
	}

	caseContext := ""
	if s.retriever != nil && strings.TrimSpace(latest.Text) != "" {
		caseContext = s.retriever.Retrieve(ctx, latest.Text, 0, 0)
	}

	selection, err := s.router.Select(ctx, mode == model.ChatModeVision)
	if err != nil {
		logger.Error("no chat backend available", zap.String("mode", string(mode)), zap.Error(err))
		return nil, err
	}
	logger.Info("chat session started",
		zap.String("backend", selection.Candidate.Name),
		zap.String("cost_tier", selection.Candidate.CostTier),
		zap.String("mode", string(mode)),
		zap.Bool("context", caseContext != ""),
		zap.Int("turns", len(messages)))

	return &ChatSession{
		Backend:     selection.Candidate.Name,
		CostTier:    selection.Candidate.CostTier,
		Mode:        mode,
		ContextUsed: caseContext != "",
		selection:   selection,
		request: &ai.ChatRequest{
			System:    buildSystemPrompt(mode, caseContext),
			Messages:  messages,
			MaxTokens: s.cfg.MaxTokens,
		},
		streamTimeout: s.cfg.StreamTimeout,
	}, nil
}

// prepareHistory validates roles, keeps the most recent turns and caps the
// length of each one. The kept history starts and ends with a user turn.
func (s *ChatService) prepareHistory(in []model.ChatMessage) ([]model.ChatMessage, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: messages are required", appErr.ErrInvalid)
	}
	for i, msg := range in {
		if msg.Role != model.ChatRoleUser && msg.Role != model.ChatRoleAssistant {
			return nil, fmt.Errorf("%w: messages[%d].role must be user or assistant", appErr.ErrInvalid, i)
		}
	}
	last := in[len(in)-1]
	if last.Role != model.ChatRoleUser {
		return nil, fmt.Errorf("%w: last message must be from the user", appErr.ErrInvalid)
	}
	if strings.TrimSpace(last.Text) == "" && len(last.Images) == 0 {
		return nil, fmt.Errorf("%w: last message is empty", appErr.ErrInvalid)
	}
	if len(last.Images) > maxChatImages {
		return nil, fmt.Errorf("%w: at most %d images per message", appErr.ErrInvalid, maxChatImages)
	}

	start := 0
	if len(in) > s.cfg.MaxHistoryTurns {
		start = len(in) - s.cfg.MaxHistoryTurns
	}
	out := make([]model.ChatMessage, 0, len(in)-start)
	for _, msg := range in[start:] {
		text := strings.TrimSpace(msg.Text)
		if text == "" && len(msg.Images) == 0 {
			continue
		}
		if len(out) == 0 && msg.Role != model.ChatRoleUser {
			continue
		}
		msg.Text = truncateRunes(text, s.cfg.MaxTurnChars)
		out = append(out, msg)
	}
	return out, nil
}

func (s *ChatService) resolveImages(ctx context.Context, in []model.ChatImage) ([]ai.ChatImage, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]ai.ChatImage, 0, len(in))
	for i, img := range in {
		data, err := s.loadImage(ctx, img)
		if err != nil {
			return nil, fmt.Errorf("images[%d]: %w", i, err)
		}
		if len(data) > maxChatImageBytes {
			return nil, fmt.Errorf("%w: images[%d] exceeds %d bytes", appErr.ErrInvalid, i, maxChatImageBytes)
		}
		mimeType := strings.TrimSpace(img.MIMEType)
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		if !strings.HasPrefix(mimeType, "image/") {
			return nil, fmt.Errorf("%w: images[%d] is not an image", appErr.ErrInvalid, i)
		}
		out = append(out, ai.ChatImage{MIMEType: mimeType, Data: data})
	}
	return out, nil
}

func (s *ChatService) loadImage(ctx context.Context, img model.ChatImage) ([]byte, error) {
	if key := strings.TrimSpace(img.FileKey); key != "" {
		if s.images == nil {
			return nil, fmt.Errorf("%w: file store not configured", appErr.ErrInvalid)
		}
		rc, err := s.images.Open(ctx, key)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(io.LimitReader(rc, maxChatImageBytes+1))
	}
	raw := strings.TrimSpace(img.Data)
	if raw == "" {
		return nil, fmt.Errorf("%w: image data is empty", appErr.ErrInvalid)
	}
	// Accept data URIs as sent by browsers.
	if strings.HasPrefix(raw, "data:") {
		if _, payload, ok := strings.Cut(raw, ","); ok {
			raw = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: image data is not base64", appErr.ErrInvalid)
	}
	return data, nil
}
