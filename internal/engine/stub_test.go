package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"glayoutd/pkg/types"
)

func TestStubChatTemplateRoundTrip(t *testing.T) {
	b := NewStubBackend()
	_, tok, err := b.LoadPretrained(context.Background(), PretrainedSpec{BaseModelID: "base/x"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	msgs := []types.ChatMessage{
		{Role: types.RoleUser, Content: "make an inverter"},
	}
	ids, err := tok.ApplyChatTemplate(context.Background(), msgs, true)
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	text, err := tok.Decode(context.Background(), ids, false)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(text, "make an inverter") {
		t.Fatalf("decoded prompt missing content: %q", text)
	}
	if !strings.Contains(text, "<|assistant|>") {
		t.Fatalf("generation prompt not appended: %q", text)
	}
	plain, err := tok.Decode(context.Background(), ids, true)
	if err != nil {
		t.Fatalf("decode skip-special: %v", err)
	}
	if strings.Contains(plain, "<|") {
		t.Fatalf("special tokens not stripped: %q", plain)
	}
}

func TestStubGenerateAppendsBeyondInput(t *testing.T) {
	b := NewStubBackend()
	b.Reply = func(string) string { return "via q_proj" }
	m, tok, err := b.LoadPretrained(context.Background(), PretrainedSpec{BaseModelID: "base/x"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	in, _ := tok.ApplyChatTemplate(context.Background(), []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}}, true)
	out, err := m.Generate(context.Background(), in, GenerateOptions{MaxNewTokens: 16})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(out) <= len(in) {
		t.Fatalf("no new tokens: in=%d out=%d", len(in), len(out))
	}
	span, err := tok.Decode(context.Background(), out[len(in):], true)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if span != "via q_proj" {
		t.Fatalf("unexpected reply: %q", span)
	}
}

func TestStubPadToken(t *testing.T) {
	b := NewStubBackend()
	_, tok, _ := b.LoadPretrained(context.Background(), PretrainedSpec{BaseModelID: "base/x"})
	if tok.PadTokenID() != -1 {
		t.Fatalf("expected no pad token initially")
	}
	if err := tok.EnsurePadToken(context.Background()); err != nil {
		t.Fatalf("ensure pad: %v", err)
	}
	if tok.PadTokenID() < 0 {
		t.Fatalf("pad token not attached")
	}
}

func TestStubFitWritesSidecar(t *testing.T) {
	b := NewStubBackend()
	out := t.TempDir()
	job := FitJob{
		Config:      types.TrainingConfig{Epochs: 1},
		BaseModelID: "mistralai/Mistral-7B-Instruct-v0.3",
		OutputDir:   out,
		Train:       []types.Example{{Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "x"}}}},
	}
	rep, err := b.Fit(context.Background(), job)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if rep.EpochsRun != 1 {
		t.Fatalf("expected 1 epoch, got %d", rep.EpochsRun)
	}
	raw, err := os.ReadFile(filepath.Join(rep.BestCheckpointDir, "adapter_config.json"))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sidecar map[string]any
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		t.Fatalf("parse sidecar: %v", err)
	}
	if sidecar["base_model_name_or_path"] != "mistralai/Mistral-7B-Instruct-v0.3" {
		t.Fatalf("sidecar base model: %v", sidecar["base_model_name_or_path"])
	}
}

func TestStubFitCanceledBeforeFirstEpoch(t *testing.T) {
	b := NewStubBackend()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Fit(ctx, FitJob{
		Config:      types.TrainingConfig{Epochs: 3},
		BaseModelID: "base/x",
		OutputDir:   t.TempDir(),
		Train:       []types.Example{{}},
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
