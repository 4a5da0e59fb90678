package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const (
	CostTierFree = "free"
	CostTierPaid = "paid"
)

// Candidate is one backend of the cascade, bound to a concrete model.
type Candidate struct {
	Name     string
	CostTier string
	Vision   bool
	Provider IChatProvider
	Model    string
}

type ProbeAttempt struct {
	Candidate string
	Class     ErrorClass
	Err       error
	Elapsed   time.Duration
}

// Selection is the outcome of a successful probe pass.
type Selection struct {
	Candidate Candidate
	Attempts  []ProbeAttempt
}

// Probe tries candidates in order and returns the first one that answers.
// A credentials failure stops the pass immediately; any other failure moves
// on to the next candidate.
func Probe(ctx context.Context, candidates []Candidate, probeTimeout time.Duration) (*Selection, error) {
	logger := logutil.GetLogger(ctx)
	attempts := make([]ProbeAttempt, 0, len(candidates))
	var lastErr error
	for i, item := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item.Provider == nil {
			continue
		}
		start := time.Now()
		err := probeOne(ctx, item, probeTimeout)
		elapsed := time.Since(start)
		if err == nil {
			logger.Info("chat backend selected",
				zap.String("name", item.Name),
				zap.String("cost_tier", item.CostTier),
				zap.Int("index", i),
				zap.Duration("elapsed", elapsed))
			return &Selection{Candidate: item, Attempts: attempts}, nil
		}
		class := ClassifyError(err)
		attempts = append(attempts, ProbeAttempt{Candidate: item.Name, Class: class, Err: err, Elapsed: elapsed})
		logger.Warn("chat backend probe failed",
			zap.String("name", item.Name),
			zap.Int("index", i),
			zap.String("class", string(class)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if errors.Is(err, ErrInvalidCredentials) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		return nil, fmt.Errorf("%w: no candidates", ErrAllBackendsExhausted)
	}
	return nil, fmt.Errorf("%w: %w", ErrAllBackendsExhausted, lastErr)
}

func probeOne(ctx context.Context, item Candidate, probeTimeout time.Duration) error {
	probeCtx := ctx
	if probeTimeout > 0 {
		var cancel context.CancelFunc
		probeCtx, cancel = context.WithTimeout(ctx, probeTimeout)
		defer cancel()
	}
	err := item.Provider.Probe(probeCtx, item.Model)
	if err == nil {
		return nil
	}
	if errors.Is(probeCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &BackendError{Backend: item.Name, Class: ClassTimeout, Err: err}
	}
	return wrapBackendError(item.Name, err)
}

// Stream sends req through the selected backend only.
func (s *Selection) Stream(ctx context.Context, req *ChatRequest, streamTimeout time.Duration, onDelta func(string) error) error {
	streamCtx := ctx
	if streamTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, streamTimeout)
		defer cancel()
	}
	item := s.Candidate
	var callbackErr error
	err := item.Provider.Stream(streamCtx, item.Model, req, func(delta string) error {
		if err := onDelta(delta); err != nil {
			callbackErr = err
			return err
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if callbackErr != nil && errors.Is(err, callbackErr) {
		return err
	}
	logutil.GetLogger(ctx).Error("chat stream interrupted",
		zap.String("name", item.Name),
		zap.String("class", string(ClassifyError(err))),
		zap.Error(err))
	return fmt.Errorf("%w: %w", ErrStreamInterrupted, wrapBackendError(item.Name, err))
}

type RouterConfig struct {
	ProbeTimeout time.Duration
}

type Router struct {
	candidates []Candidate
	cfg        RouterConfig
}

func NewRouter(candidates []Candidate, cfg RouterConfig) *Router {
	return &Router{candidates: candidates, cfg: cfg}
}

func (r *Router) Candidates() []Candidate {
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// Select probes the cascade. With vision set, text-only candidates are
// removed before any probe is sent.
func (r *Router) Select(ctx context.Context, vision bool) (*Selection, error) {
	candidates := r.candidates
	if vision {
		candidates = make([]Candidate, 0, len(r.candidates))
		for _, item := range r.candidates {
			if item.Vision {
				candidates = append(candidates, item)
			}
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("%w: no vision capable candidates", ErrAllBackendsExhausted)
		}
	}
	return Probe(ctx, candidates, r.cfg.ProbeTimeout)
}
