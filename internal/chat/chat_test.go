package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/shoptalk/shoptalk/internal/knowledge"
	"github.com/shoptalk/shoptalk/internal/log"
	"github.com/shoptalk/shoptalk/internal/model"
	"github.com/shoptalk/shoptalk/internal/retrieval"
	"github.com/shoptalk/shoptalk/internal/router"
	"github.com/shoptalk/shoptalk/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCommerce returns canned fragments.
type fakeCommerce struct {
	mu     sync.Mutex
	frags  []retrieval.Fragment
	err    error
	called bool
}

func (f *fakeCommerce) Retrieve(_ context.Context, _ router.StructuredHint) ([]retrieval.Fragment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	return f.frags, f.err
}

func (f *fakeCommerce) wasCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called
}

// fakeKnowledge returns canned search results.
type fakeKnowledge struct {
	mu      sync.Mutex
	results []knowledge.Result
	err     error
	called  bool
}

func (f *fakeKnowledge) Search(_ context.Context, _ string, _ ...knowledge.SearchOption) ([]knowledge.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = true
	return f.results, f.err
}

func (f *fakeKnowledge) wasCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called
}

// fakeGenerator records requests and streams a canned answer in chunks.
type fakeGenerator struct {
	mu       sync.Mutex
	fn       func(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error)
	requests []model.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	fn := f.fn
	f.mu.Unlock()

	if fn != nil {
		return fn(ctx, req, cb)
	}
	const answer = "here is the answer"
	if cb != nil {
		for _, chunk := range []string{"here ", "is the ", "answer"} {
			if err := cb(ctx, chunk); err != nil {
				return "", err
			}
		}
	}
	return answer, nil
}

func (f *fakeGenerator) recorded() []model.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]model.Request, len(f.requests))
	copy(cp, f.requests)
	return cp
}

type testEnv struct {
	agent     *Agent
	sessions  *session.Store
	commerce  *fakeCommerce
	knowledge *fakeKnowledge
	generator *fakeGenerator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		sessions:  session.NewStore(log.NewNop()),
		commerce:  &fakeCommerce{},
		knowledge: &fakeKnowledge{},
		generator: &fakeGenerator{},
	}
	a, err := New(Config{
		Sessions:  env.sessions,
		Commerce:  env.commerce,
		Knowledge: env.knowledge,
		Generator: env.generator,
		Logger:    log.NewNop(),
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.agent = a
	return env
}

func TestExecuteStream_Incrementality(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sess := env.sessions.Create("")

	var deltas []string
	got, err := env.agent.ExecuteStream(context.Background(), sess.ID, "hello there", Options{},
		func(_ context.Context, delta string) error {
			deltas = append(deltas, delta)
			return nil
		})
	if err != nil {
		t.Fatalf("ExecuteStream() error: %v", err)
	}
	if len(deltas) < 2 {
		t.Fatalf("deltas = %d, want several", len(deltas))
	}
	if joined := strings.Join(deltas, ""); joined != got {
		t.Errorf("concatenated deltas %q != final text %q", joined, got)
	}

	history, err := env.sessions.History(sess.ID)
	if err != nil {
		t.Fatalf("History() error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %d turns, want user + assistant", len(history))
	}
	if history[0].Role != session.RoleUser || history[1].Role != session.RoleAssistant {
		t.Errorf("roles = %s, %s", history[0].Role, history[1].Role)
	}
	if history[1].Content != got {
		t.Errorf("stored assistant turn %q != returned text %q", history[1].Content, got)
	}
}

func TestExecute_StreamAndSyncAgree(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	s1 := env.sessions.Create("")
	s2 := env.sessions.Create("")

	sync, err := env.agent.Execute(context.Background(), s1.ID, "same question", Options{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	var deltas []string
	streamed, err := env.agent.ExecuteStream(context.Background(), s2.ID, "same question", Options{},
		func(_ context.Context, delta string) error {
			deltas = append(deltas, delta)
			return nil
		})
	if err != nil {
		t.Fatalf("ExecuteStream() error: %v", err)
	}
	if joined := strings.Join(deltas, ""); joined != sync || streamed != sync {
		t.Errorf("streamed %q (joined %q) != sync %q", streamed, joined, sync)
	}
}

func TestExecute_UnknownSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, err := env.agent.Execute(context.Background(), uuid.New(), "hello", Options{})
	if !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("error = %v, want ErrInvalidSession", err)
	}
}

func TestExecute_CancellationLeavesHistoryUnchanged(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sess := env.sessions.Create("")

	ctx, cancel := context.WithCancel(context.Background())
	env.generator.fn = func(ctx context.Context, req model.Request, cb model.StreamCallback) (string, error) {
		if err := cb(ctx, "partial "); err != nil {
			return "", err
		}
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := env.agent.ExecuteStream(ctx, sess.ID, "hello", Options{},
		func(_ context.Context, _ string) error { return nil })
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if errors.Is(err, ErrGenerationFailed) {
		t.Errorf("cancellation misreported as generation failure: %v", err)
	}

	history, _ := env.sessions.History(sess.ID)
	if len(history) != 0 {
		t.Fatalf("history = %d turns after cancellation, want 0", len(history))
	}
}

func TestExecute_GenerationFailureAppendsNothing(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sess := env.sessions.Create("")
	env.generator.fn = func(context.Context, model.Request, model.StreamCallback) (string, error) {
		return "", errors.New("400 invalid argument")
	}

	_, err := env.agent.Execute(context.Background(), sess.ID, "hello", Options{})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("error = %v, want ErrGenerationFailed", err)
	}
	history, _ := env.sessions.History(sess.ID)
	if len(history) != 0 {
		t.Fatalf("history = %d turns after failure, want 0", len(history))
	}
}

// A question that matches no stored data still gets a generated answer.
func TestExecute_EmptyRetrievalStillAnswers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sess := env.sessions.Create("")

	got, err := env.agent.Execute(context.Background(), sess.ID, "how many customers do we have?", Options{})
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if got == "" {
		t.Fatal("empty answer")
	}
	if !env.commerce.wasCalled() {
		t.Error("structured retriever not consulted")
	}
}

func TestExecute_RetrieverFailureDegrades(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.commerce.err = errors.New("database down")
	env.knowledge.err = errors.New("embedder down")
	sess := env.sessions.Create("")

	got, err := env.agent.Execute(context.Background(), sess.ID, "how many orders are there?", Options{})
	if err != nil {
		t.Fatalf("Execute() error: %v (retrieval failure must degrade, not fail)", err)
	}
	if got == "" {
		t.Fatal("empty answer")
	}

	reqs := env.generator.recorded()
	if len(reqs) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(reqs))
	}
	if strings.Contains(reqs[0].System, "Context:") {
		t.Errorf("degraded request should carry no context block:\n%s", reqs[0].System)
	}
}

func TestExecute_ContextOrdering(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.commerce.frags = []retrieval.Fragment{
		{Source: retrieval.SourceStructured, Text: "There are 56 orders in total."},
	}
	env.knowledge.results = []knowledge.Result{
		{Document: knowledge.Document{Content: "Orders ship within two business days."}, Similarity: 0.8},
	}
	sess := env.sessions.Create("")

	// Structured cue plus question phrasing routes to both retrievers.
	if _, err := env.agent.Execute(context.Background(), sess.ID, "how many orders do we have?", Options{}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}

	reqs := env.generator.recorded()
	if len(reqs) != 1 {
		t.Fatalf("generator calls = %d, want 1", len(reqs))
	}
	system := reqs[0].System
	sIdx := strings.Index(system, "56 orders")
	kIdx := strings.Index(system, "two business days")
	if sIdx < 0 || kIdx < 0 {
		t.Fatalf("fragments missing from system prompt:\n%s", system)
	}
	if sIdx > kIdx {
		t.Error("structured fragment must precede semantic fragment")
	}
}

func TestExecute_BypassRetrieval(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sess := env.sessions.Create("")

	if _, err := env.agent.Execute(context.Background(), sess.ID,
		"how many orders do we have?", Options{BypassRetrieval: true}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if env.commerce.wasCalled() || env.knowledge.wasCalled() {
		t.Error("retrievers consulted despite bypass")
	}
}

func TestExecute_EmptyOutputFallback(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	sess := env.sessions.Create("")
	env.generator.fn = func(context.Context, model.Request, model.StreamCallback) (string, error) {
		return "", nil
	}

	var deltas []string
	got, err := env.agent.ExecuteStream(context.Background(), sess.ID, "hello", Options{},
		func(_ context.Context, delta string) error {
			deltas = append(deltas, delta)
			return nil
		})
	if err != nil {
		t.Fatalf("ExecuteStream() error: %v", err)
	}
	if got != FallbackResponseMessage {
		t.Errorf("response = %q, want fallback", got)
	}
	if len(deltas) != 1 || deltas[0] != FallbackResponseMessage {
		t.Errorf("deltas = %v, want the fallback as one chunk", deltas)
	}

	history, _ := env.sessions.History(sess.ID)
	if len(history) != 2 || history[1].Content != FallbackResponseMessage {
		t.Errorf("history = %+v, want fallback committed", history)
	}
}

// Turns from concurrent conversations never leak between sessions, and each
// generation sees only its own session's history.
func TestExecute_SessionIsolation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	alice := env.sessions.Create("")
	bob := env.sessions.Create("")

	if _, err := env.agent.Execute(context.Background(), alice.ID, "my name is Alice", Options{}); err != nil {
		t.Fatalf("Execute(alice) error: %v", err)
	}
	if _, err := env.agent.Execute(context.Background(), bob.ID, "my name is Bob", Options{}); err != nil {
		t.Fatalf("Execute(bob) error: %v", err)
	}
	if _, err := env.agent.Execute(context.Background(), alice.ID, "what is my name?", Options{}); err != nil {
		t.Fatalf("Execute(alice) error: %v", err)
	}

	bobHistory, _ := env.sessions.History(bob.ID)
	for _, turn := range bobHistory {
		if strings.Contains(turn.Content, "Alice") {
			t.Errorf("Alice's turn leaked into Bob's history: %+v", turn)
		}
	}

	// The third generation carries Alice's earlier turns but none of Bob's.
	reqs := env.generator.recorded()
	if len(reqs) != 3 {
		t.Fatalf("generator calls = %d, want 3", len(reqs))
	}
	var all strings.Builder
	for _, msg := range reqs[2].Messages {
		all.WriteString(msg.Text())
		all.WriteString("\n")
	}
	if !strings.Contains(all.String(), "Alice") {
		t.Error("Alice's own history missing from her request")
	}
	if strings.Contains(all.String(), "Bob") {
		t.Error("Bob's history leaked into Alice's request")
	}
}
