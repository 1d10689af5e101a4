package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"glayoutd/pkg/types"
)

// StubBackend is a deterministic in-memory Backend with no numerical runtime.
// Tokens are whitespace-split words interned into a shared vocabulary, so
// rendered prompts survive an encode/decode round trip. It backs tests and
// the --backend stub development mode.
type StubBackend struct {
	mu      sync.Mutex
	vocab   map[string]int
	words   []string
	prompts []string

	// Reply produces the canned completion for a rendered prompt. When nil,
	// a fixed acknowledgment is generated.
	Reply func(prompt string) string
	// FailGenerate forces every Generate call to fail, for error-path tests.
	FailGenerate error
}

// NewStubBackend constructs an empty-vocabulary stub.
func NewStubBackend() *StubBackend {
	return &StubBackend{vocab: make(map[string]int)}
}

const (
	stubPadToken = "[PAD]"
	stubEOSToken = "</s>"
)

func isSpecialToken(w string) bool {
	if w == stubPadToken || w == stubEOSToken {
		return true
	}
	return strings.HasPrefix(w, "<|") && strings.HasSuffix(w, "|>")
}

func (b *StubBackend) intern(w string) int {
	id, ok := b.vocab[w]
	if !ok {
		id = len(b.words)
		b.vocab[w] = id
		b.words = append(b.words, w)
	}
	return id
}

func (b *StubBackend) encode(text string) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	fields := strings.Fields(text)
	ids := make([]int, 0, len(fields))
	for _, f := range fields {
		ids = append(ids, b.intern(f))
	}
	return ids
}

func (b *StubBackend) decode(ids []int, skipSpecial bool) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id < 0 || id >= len(b.words) {
			continue
		}
		w := b.words[id]
		if skipSpecial && isSpecialToken(w) {
			continue
		}
		out = append(out, w)
	}
	return strings.Join(out, " ")
}

// Prompts returns every rendered prompt fed to Generate, in order.
func (b *StubBackend) Prompts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.prompts...)
}

func (b *StubBackend) recordPrompt(p string) {
	b.mu.Lock()
	b.prompts = append(b.prompts, p)
	b.mu.Unlock()
}

// LoadPretrained returns a fresh model/tokenizer pair over the shared vocabulary.
func (b *StubBackend) LoadPretrained(_ context.Context, spec PretrainedSpec) (Model, Tokenizer, error) {
	if spec.BaseModelID == "" {
		return nil, nil, fmt.Errorf("stub: empty base model id")
	}
	tok := &stubTokenizer{backend: b, baseModelID: spec.BaseModelID, padID: -1}
	return &stubModel{backend: b}, tok, nil
}

// LoadAdapter restores from a checkpoint directory. The directory must exist;
// sidecar validation is the loader's concern.
func (b *StubBackend) LoadAdapter(_ context.Context, spec AdapterSpec) (Model, Tokenizer, error) {
	fi, err := os.Stat(spec.CheckpointDir)
	if err != nil || !fi.IsDir() {
		return nil, nil, ErrUnavailable("stub: checkpoint dir not found: " + spec.CheckpointDir)
	}
	tok := &stubTokenizer{backend: b, baseModelID: spec.BaseModelID, padID: -1}
	return &stubModel{backend: b}, tok, nil
}

// Fit simulates the training loop epoch by epoch and persists the best
// checkpoint with its adapter_config.json sidecar.
func (b *StubBackend) Fit(ctx context.Context, job FitJob) (FitReport, error) {
	if len(job.Train) == 0 {
		return FitReport{}, fmt.Errorf("stub: empty training set")
	}
	epochs := 0
	for e := 0; e < job.Config.Epochs; e++ {
		// Cancellation is only observed here, between epochs.
		if err := ctx.Err(); err != nil {
			return FitReport{BestCheckpointDir: "", EpochsRun: epochs}, err
		}
		epochs++
	}
	best := filepath.Join(job.OutputDir, "checkpoint-bestperf")
	if err := os.MkdirAll(best, 0o755); err != nil {
		return FitReport{}, err
	}
	sidecar := map[string]any{
		"base_model_name_or_path": job.BaseModelID,
		"peft_type":               "LORA",
		"task_type":               "CAUSAL_LM",
	}
	raw, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return FitReport{}, err
	}
	if err := os.WriteFile(filepath.Join(best, "adapter_config.json"), raw, 0o644); err != nil {
		return FitReport{}, err
	}
	if err := os.WriteFile(filepath.Join(best, "adapter_model.bin"), []byte{}, 0o644); err != nil {
		return FitReport{}, err
	}
	return FitReport{BestCheckpointDir: best, EpochsRun: epochs}, nil
}

type stubModel struct {
	backend *StubBackend
}

func (m *stubModel) Generate(ctx context.Context, inputIDs []int, opts GenerateOptions) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.backend.FailGenerate != nil {
		return nil, m.backend.FailGenerate
	}
	prompt := m.backend.decode(inputIDs, false)
	m.backend.recordPrompt(prompt)
	reply := "ok"
	if m.backend.Reply != nil {
		reply = m.backend.Reply(prompt)
	}
	newIDs := m.backend.encode(reply + " " + stubEOSToken)
	if opts.MaxNewTokens > 0 && len(newIDs) > opts.MaxNewTokens {
		newIDs = newIDs[:opts.MaxNewTokens]
	}
	out := make([]int, 0, len(inputIDs)+len(newIDs))
	out = append(out, inputIDs...)
	out = append(out, newIDs...)
	return out, nil
}

func (m *stubModel) Close() error { return nil }

type stubTokenizer struct {
	backend     *StubBackend
	baseModelID string
	padID       int
}

func (t *stubTokenizer) ApplyChatTemplate(ctx context.Context, msgs []types.ChatMessage, addGenerationPrompt bool) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "<|%s|> %s ", m.Role, m.Content)
	}
	if addGenerationPrompt {
		sb.WriteString("<|assistant|>")
	}
	return t.backend.encode(sb.String()), nil
}

func (t *stubTokenizer) Decode(ctx context.Context, ids []int, skipSpecialTokens bool) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.backend.decode(ids, skipSpecialTokens), nil
}

func (t *stubTokenizer) EnsurePadToken(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.padID >= 0 {
		return nil
	}
	t.backend.mu.Lock()
	t.padID = t.backend.intern(stubPadToken)
	t.backend.mu.Unlock()
	return nil
}

func (t *stubTokenizer) PadTokenID() int { return t.padID }

func (t *stubTokenizer) BaseModelID() string { return t.baseModelID }
