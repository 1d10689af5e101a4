package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"glayoutd/internal/engine"
	"glayoutd/pkg/types"
)

type fixedRetriever struct {
	snippets []string
	err      error
	queries  []string
}

func (r *fixedRetriever) Query(_ context.Context, q string, k int) ([]string, error) {
	r.queries = append(r.queries, q)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.snippets) > k {
		return r.snippets[:k], nil
	}
	return r.snippets, nil
}

func (r *fixedRetriever) Close() error { return nil }

func newTestPair(t *testing.T, backend *engine.StubBackend) (engine.Model, engine.Tokenizer) {
	t.Helper()
	model, tok, err := backend.LoadPretrained(context.Background(), engine.PretrainedSpec{
		BaseModelID:    "test/base",
		AdapterTargets: []string{"q_proj"},
	})
	if err != nil {
		t.Fatalf("LoadPretrained: %v", err)
	}
	return model, tok
}

func TestFirstTurnAugmentation(t *testing.T) {
	backend := engine.NewStubBackend()
	model, tok := newTestPair(t, backend)
	ret := &fixedRetriever{snippets: []string{"ctx-A"}}
	s, err := New(Config{Model: model, Tokenizer: tok, Retriever: ret, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Generate(context.Background(), "nand gate"); err != nil {
		t.Fatalf("first Generate: %v", err)
	}
	prompts := backend.Prompts()
	if len(prompts) != 1 {
		t.Fatalf("got %d prompts, want 1", len(prompts))
	}
	first := prompts[0]
	for _, want := range []string{domainPreamble, "ctx-A", convertInstruction, "nand gate"} {
		if !strings.Contains(first, want) {
			t.Fatalf("first prompt missing %q:\n%s", want, first)
		}
	}
	if len(ret.queries) != 1 || ret.queries[0] != "nand gate" {
		t.Fatalf("retriever queried with %v, want the raw user input", ret.queries)
	}

	if _, err := s.Generate(context.Background(), "make it wider"); err != nil {
		t.Fatalf("second Generate: %v", err)
	}
	second := backend.Prompts()[1]
	if !strings.Contains(second, "<|user|> make it wider ") {
		t.Fatalf("second turn was not passed through verbatim:\n%s", second)
	}
	if strings.Count(second, convertInstruction) != 1 {
		t.Fatalf("conversion instruction should appear only via first-turn history:\n%s", second)
	}
	if len(ret.queries) != 1 {
		t.Fatalf("retriever consulted on a later turn: %v", ret.queries)
	}
}

func TestSeededHistoryAndGrowth(t *testing.T) {
	backend := engine.NewStubBackend()
	model, tok := newTestPair(t, backend)
	s, err := New(Config{Model: model, Tokenizer: tok, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h := s.History()
	if len(h) != 2 {
		t.Fatalf("seeded history length = %d, want 2", len(h))
	}
	if h[0].Role != types.RoleUser || h[1].Role != types.RoleAssistant {
		t.Fatalf("seeded roles = %s/%s", h[0].Role, h[1].Role)
	}
	if h[1].Content != seededAck {
		t.Fatalf("seeded assistant message = %q", h[1].Content)
	}
	if _, err := s.Generate(context.Background(), "an inverter"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got := len(s.History()); got != 4 {
		t.Fatalf("history length after one turn = %d, want 4", got)
	}
}

func TestGenerateFailureLeavesHistoryIntact(t *testing.T) {
	backend := engine.NewStubBackend()
	model, tok := newTestPair(t, backend)
	s, err := New(Config{Model: model, Tokenizer: tok, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	boom := errors.New("runtime exploded")
	backend.FailGenerate = boom
	_, err = s.Generate(context.Background(), "an inverter")
	if !IsGenerationFailure(err) {
		t.Fatalf("err = %v, want generation failure", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause not wrapped: %v", err)
	}
	if got := len(s.History()); got != 2 {
		t.Fatalf("history length after failure = %d, want 2", got)
	}

	// The failed call must not consume the first turn.
	backend.FailGenerate = nil
	if _, err := s.Generate(context.Background(), "an inverter"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !strings.Contains(backend.Prompts()[0], convertInstruction) {
		t.Fatalf("retry after failure lost first-turn augmentation:\n%s", backend.Prompts()[0])
	}
}

func TestResetRestoresConstructionState(t *testing.T) {
	backend := engine.NewStubBackend()
	model, tok := newTestPair(t, backend)
	s, err := New(Config{Model: model, Tokenizer: tok, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Generate(context.Background(), "an inverter"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	s.Reset()
	if got := len(s.History()); got != 2 {
		t.Fatalf("history length after Reset = %d, want 2", got)
	}
	if _, err := s.Generate(context.Background(), "a nand gate"); err != nil {
		t.Fatalf("Generate after Reset: %v", err)
	}
	last := backend.Prompts()[len(backend.Prompts())-1]
	if !strings.Contains(last, convertInstruction) {
		t.Fatalf("turn after Reset not treated as first:\n%s", last)
	}
}

func TestConverseMode(t *testing.T) {
	backend := engine.NewStubBackend()
	model, tok := newTestPair(t, backend)
	ret := &fixedRetriever{snippets: []string{"ctx-A"}}
	s, err := New(Config{Model: model, Tokenizer: tok, Retriever: ret, ConverseMode: true, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := len(s.History()); got != 0 {
		t.Fatalf("converse-mode seeded history length = %d, want 0", got)
	}
	if _, err := s.Generate(context.Background(), "hello"); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	first := backend.Prompts()[0]
	if strings.Contains(first, convertInstruction) || strings.Contains(first, domainPreamble) {
		t.Fatalf("converse-mode prompt was augmented:\n%s", first)
	}
	if len(ret.queries) != 0 {
		t.Fatalf("retriever consulted in converse mode: %v", ret.queries)
	}
}

func TestRetrieverFailureNonFatal(t *testing.T) {
	backend := engine.NewStubBackend()
	model, tok := newTestPair(t, backend)
	ret := &fixedRetriever{err: errors.New("index locked")}
	s, err := New(Config{Model: model, Tokenizer: tok, Retriever: ret, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Generate(context.Background(), "an inverter"); err != nil {
		t.Fatalf("Generate with failing retriever: %v", err)
	}
	first := backend.Prompts()[0]
	if strings.Contains(first, contextIntro) {
		t.Fatalf("context block present despite retriever failure:\n%s", first)
	}
	if !strings.Contains(first, convertInstruction) {
		t.Fatalf("augmentation skipped on retriever failure:\n%s", first)
	}
}

func TestDomainContextOverride(t *testing.T) {
	backend := engine.NewStubBackend()
	model, tok := newTestPair(t, backend)
	s, err := New(Config{Model: model, Tokenizer: tok, DomainContext: "custom primer", Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := s.History()[0].Content; got != "custom primer" {
		t.Fatalf("seeded user message = %q, want the override", got)
	}
}

func TestCompleteStripsSpecialTokens(t *testing.T) {
	backend := engine.NewStubBackend()
	backend.Reply = func(string) string { return "movx via1 up" }
	model, tok := newTestPair(t, backend)
	out, err := Complete(context.Background(), model, tok, "route the drain")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if strings.Contains(out, "<|") || strings.Contains(out, "</s>") {
		t.Fatalf("special tokens leaked into completion: %q", out)
	}
	// The whole sequence is decoded, prompt included.
	if !strings.Contains(out, "route the drain") || !strings.Contains(out, "movx via1 up") {
		t.Fatalf("completion missing prompt or reply: %q", out)
	}
}

func TestSessionOutputKeepsSpecialTokens(t *testing.T) {
	backend := engine.NewStubBackend()
	backend.Reply = func(string) string { return "<|meta|> movx" }
	model, tok := newTestPair(t, backend)
	s, err := New(Config{Model: model, Tokenizer: tok, Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := s.Generate(context.Background(), "an inverter")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(out, "<|meta|>") {
		t.Fatalf("session decode stripped special tokens: %q", out)
	}
	if strings.Contains(out, "</s>") {
		t.Fatalf("trailing terminator not dropped: %q", out)
	}
}
