// Package chat orchestrates one conversational exchange: load history, route
// the message, gather retrieval context, assemble the prompt, stream the
// generation, and commit the turn.
//
// The agent is stateless; all state lives in the injected stores. Retrieval
// failures degrade the request rather than failing it: a retriever that
// errors or times out simply contributes no context.
package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shoptalk/shoptalk/internal/knowledge"
	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/model"
	"github.com/shoptalk/shoptalk/internal/retrieval"
	"github.com/shoptalk/shoptalk/internal/router"
	"github.com/shoptalk/shoptalk/internal/session"
)

// FallbackResponseMessage is returned when the model produces empty output
// without reporting an error.
const FallbackResponseMessage = "I apologize, but I couldn't generate a response. Please try rephrasing your question."

var (
	// ErrInvalidSession indicates the session id does not exist.
	ErrInvalidSession = errors.New("invalid session")

	// ErrGenerationFailed indicates the model failed after retries.
	ErrGenerationFailed = errors.New("generation failed")
)

// SessionStore is the slice of the session API the agent needs.
type SessionStore interface {
	History(id uuid.UUID) ([]session.Turn, error)
	AppendTurns(id uuid.UUID, turns ...session.Turn) error
}

// StructuredRetriever fetches relational facts for a routing hint.
type StructuredRetriever interface {
	Retrieve(ctx context.Context, hint router.StructuredHint) ([]retrieval.Fragment, error)
}

// SemanticSearcher runs vector search over the document store.
type SemanticSearcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Generator produces model output, streaming chunks to the callback.
type Generator interface {
	Generate(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error)
}

// Config carries the agent's dependencies and tuning knobs.
type Config struct {
	Sessions  SessionStore
	Commerce  StructuredRetriever
	Knowledge SemanticSearcher
	Generator Generator
	Logger    log.Logger

	// RetrievalTimeout bounds each retriever independently; zero means 10s.
	RetrievalTimeout time.Duration
	// TopK for semantic search; zero means the knowledge default.
	TopK int
	// MinScore for semantic search; zero means the knowledge default.
	MinScore float64

	MaxTokens   int
	Temperature float64

	RetryConfig RetryConfig // zero value uses defaults
	TokenBudget TokenBudget // zero value uses defaults
}

func (cfg Config) validate() error {
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Commerce == nil {
		return errors.New("structured retriever is required")
	}
	if cfg.Knowledge == nil {
		return errors.New("semantic searcher is required")
	}
	if cfg.Generator == nil {
		return errors.New("generator is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Agent is the generation orchestrator. Safe for concurrent use; every
// exchange works on copies of session state.
type Agent struct {
	sessions  SessionStore
	commerce  StructuredRetriever
	knowledge SemanticSearcher
	generator Generator
	logger    log.Logger

	retrievalTimeout time.Duration
	topK             int
	minScore         float64
	maxTokens        int
	temperature      float64
	retryConfig      RetryConfig
	tokenBudget      TokenBudget
}

// New creates an agent from a validated config.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	if cfg.RetrievalTimeout <= 0 {
		cfg.RetrievalTimeout = 10 * time.Second
	}
	if cfg.RetryConfig == (RetryConfig{}) {
		cfg.RetryConfig = DefaultRetryConfig()
	}
	if cfg.TokenBudget == (TokenBudget{}) {
		cfg.TokenBudget = DefaultTokenBudget()
	}
	return &Agent{
		sessions:         cfg.Sessions,
		commerce:         cfg.Commerce,
		knowledge:        cfg.Knowledge,
		generator:        cfg.Generator,
		logger:           cfg.Logger,
		retrievalTimeout: cfg.RetrievalTimeout,
		topK:             cfg.TopK,
		minScore:         cfg.MinScore,
		maxTokens:        cfg.MaxTokens,
		temperature:      cfg.Temperature,
		retryConfig:      cfg.RetryConfig,
		tokenBudget:      cfg.TokenBudget,
	}, nil
}

// Options tweaks one exchange.
type Options struct {
	// BypassRetrieval skips routing and retrieval entirely.
	BypassRetrieval bool
}

// Execute runs one exchange synchronously and returns the full response.
func (a *Agent) Execute(ctx context.Context, sessionID uuid.UUID, message string, opts Options) (string, error) {
	return a.ExecuteStream(ctx, sessionID, message, opts, nil)
}

// ExecuteStream runs one exchange, forwarding output chunks to cb as they
// arrive. On success the user turn and the complete assistant turn are
// appended to the session; on error or cancellation nothing is appended and
// partial output is discarded.
func (a *Agent) ExecuteStream(ctx context.Context, sessionID uuid.UUID, message string, opts Options, cb model.StreamCallback) (string, error) {
	history, err := a.sessions.History(sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return "", fmt.Errorf("session %s: %w", sessionID, ErrInvalidSession)
		}
		return "", fmt.Errorf("loading history: %w", err)
	}

	message = truncateInput(message, a.tokenBudget.MaxInputTokens)

	var fragments []retrieval.Fragment
	if !opts.BypassRetrieval {
		decision := router.Route(message, history)
		a.logger.Debug("routed message", "session", sessionID, "kind", decision.Kind())
		fragments = a.retrieve(ctx, decision)
	}

	req := model.Request{
		System:      buildSystem(fragments),
		Messages:    buildMessages(a.truncateTurns(history, a.tokenBudget.MaxHistoryTokens), message),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	}

	emitted := false
	wrapped := cb
	if cb != nil {
		wrapped = func(ctx context.Context, delta string) error {
			emitted = true
			return cb(ctx, delta)
		}
	}

	text, err := a.generateWithRetry(ctx, req, wrapped)
	if err != nil {
		if ctx.Err() != nil {
			// Client went away or the deadline passed; not a model fault.
			return "", fmt.Errorf("generation canceled: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	if text == "" {
		text = FallbackResponseMessage
		if cb != nil && !emitted {
			if cbErr := cb(ctx, text); cbErr != nil {
				return "", fmt.Errorf("generation canceled: %w", cbErr)
			}
		}
	}

	if err := a.sessions.AppendTurns(sessionID,
		session.NewUserTurn(message),
		session.NewAssistantTurn(text),
	); err != nil {
		return "", fmt.Errorf("committing turns: %w", err)
	}
	return text, nil
}

// retrieve runs the selected retrievers in parallel, each under its own
// timeout. A failing or slow retriever contributes nothing; the request
// continues with whatever context the others produced.
func (a *Agent) retrieve(ctx context.Context, decision router.Decision) []retrieval.Fragment {
	var structured, semantic []retrieval.Fragment

	g, gctx := errgroup.WithContext(ctx)
	if decision.UseStructured {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, a.retrievalTimeout)
			defer cancel()
			frags, err := a.commerce.Retrieve(rctx, decision.Structured)
			if err != nil {
				a.logger.Warn("structured retrieval degraded", "error", err)
				return nil
			}
			structured = frags
			return nil
		})
	}
	if decision.UseSemantic {
		g.Go(func() error {
			rctx, cancel := context.WithTimeout(gctx, a.retrievalTimeout)
			defer cancel()
			var opts []knowledge.SearchOption
			if a.topK > 0 {
				opts = append(opts, knowledge.WithTopK(a.topK))
			}
			if a.minScore > 0 {
				opts = append(opts, knowledge.WithMinScore(float32(a.minScore)))
			}
			results, err := a.knowledge.Search(rctx, decision.SemanticQuery, opts...)
			if err != nil {
				a.logger.Warn("semantic retrieval degraded", "error", err)
				return nil
			}
			for _, r := range results {
				semantic = append(semantic, retrieval.Fragment{
					Source:   retrieval.SourceSemantic,
					Text:     r.Document.Content,
					Score:    r.Similarity,
					Citation: r.Document.Metadata[knowledge.MetaSource],
				})
			}
			return nil
		})
	}
	// Retriever errors are swallowed above, so Wait only propagates ctx
	// cancellation, which the generation step will see anyway.
	_ = g.Wait()

	return orderFragments(structured, semantic)
}
