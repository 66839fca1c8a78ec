// Package model wraps the process-wide generative model behind a handle that
// bounds concurrency and paces calls. The process hosts exactly one model
// instance; every generation in the server goes through one Handle.
package model

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/shoptalk/shoptalk/internal/log"
)

// StreamCallback receives one output chunk at a time during generation.
// Returning an error aborts the generation.
type StreamCallback func(ctx context.Context, delta string) error

// Request is one generation request.
type Request struct {
	System      string
	Messages    []*ai.Message
	MaxTokens   int
	Temperature float64
	Stop        []string
}

// Handle serializes access to the shared model. Safe for concurrent use;
// callers block in Generate until a slot is free.
type Handle struct {
	g         *genkit.Genkit
	modelName string
	sem       *semaphore.Weighted
	limiter   *rate.Limiter
	logger    log.Logger
}

// Options configures a Handle.
type Options struct {
	// MaxConcurrent bounds in-flight generations; zero or negative means 1.
	MaxConcurrent int64
	// RequestsPerSecond paces calls to the model; zero means no pacing.
	RequestsPerSecond float64
	Logger            log.Logger
}

// NewHandle wraps an initialized genkit instance and a provider-qualified
// model name such as "ollama/mistral:7b-instruct".
func NewHandle(g *genkit.Genkit, modelName string, opts Options) *Handle {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNop()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return &Handle{
		g:         g,
		modelName: modelName,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		limiter:   limiter,
		logger:    opts.Logger,
	}
}

// Name returns the provider-qualified model name.
func (h *Handle) Name() string { return h.modelName }

// Generate runs one generation, forwarding chunks to cb as they arrive.
// It blocks while all concurrency slots are taken; the context cancels the
// wait as well as the generation itself. The full response text is returned
// once the stream completes.
func (h *Handle) Generate(ctx context.Context, req Request, cb StreamCallback) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limiter: %w", err)
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquiring generation slot: %w", err)
	}
	defer h.sem.Release(1)

	opts := []ai.GenerateOption{
		ai.WithModelName(h.modelName),
		ai.WithMessages(req.Messages...),
	}
	if req.System != "" {
		opts = append(opts, ai.WithSystem(req.System))
	}
	if req.MaxTokens > 0 || req.Temperature > 0 || len(req.Stop) > 0 {
		opts = append(opts, ai.WithConfig(&ai.GenerationCommonConfig{
			MaxOutputTokens: req.MaxTokens,
			Temperature:     req.Temperature,
			StopSequences:   req.Stop,
		}))
	}
	if cb != nil {
		opts = append(opts, ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
			return cb(ctx, chunk.Text())
		}))
	}

	resp, err := genkit.Generate(ctx, h.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating with %s: %w", h.modelName, err)
	}

	h.logger.Debug("generation complete", "model", h.modelName)
	return resp.Text(), nil
}
