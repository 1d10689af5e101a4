package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"glayoutd/internal/engine"
	"glayoutd/pkg/types"
)

func writeSidecar(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "adapter_config.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write sidecar: %v", err)
	}
}

func TestNewHandleReadsBaseModel(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoint-bestperf")
	writeSidecar(t, dir, `{"base_model_name_or_path":"mistralai/Mistral-7B-Instruct-v0.3","peft_type":"LORA"}`)
	h, err := NewHandle(dir)
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	if h.BaseModelID != "mistralai/Mistral-7B-Instruct-v0.3" {
		t.Fatalf("base model: %q", h.BaseModelID)
	}
	if h.Path != dir {
		t.Fatalf("path: %q", h.Path)
	}
}

func TestNewHandleMissingSidecar(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoint-bestperf")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	_, err := NewHandle(dir)
	if err == nil || !IsCheckpointCorrupt(err) {
		t.Fatalf("expected checkpoint corrupt, got %v", err)
	}
}

func TestNewHandleMissingField(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoint-bestperf")
	writeSidecar(t, dir, `{"peft_type":"LORA"}`)
	_, err := NewHandle(dir)
	if err == nil || !IsCheckpointCorrupt(err) {
		t.Fatalf("expected checkpoint corrupt, got %v", err)
	}
}

func TestNewHandleMalformedSidecar(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoint-bestperf")
	writeSidecar(t, dir, `not-json`)
	_, err := NewHandle(dir)
	if err == nil || !IsCheckpointCorrupt(err) {
		t.Fatalf("expected checkpoint corrupt, got %v", err)
	}
}

func TestLoadFreshAttachesPadToken(t *testing.T) {
	b := engine.NewStubBackend()
	l := New(b, zerolog.Nop())
	desc := types.ModelDescriptor{
		Key:            "7b",
		BaseModelID:    "mistralai/Mistral-7B-Instruct-v0.3",
		Family:         types.FamilyMistral,
		AdapterTargets: []string{"q_proj", "k_proj", "v_proj"},
	}
	_, tok, err := l.LoadFresh(context.Background(), desc, "hf-secret", "cpu")
	if err != nil {
		t.Fatalf("load fresh: %v", err)
	}
	if tok.PadTokenID() < 0 {
		t.Fatalf("pad token not attached")
	}
	if tok.BaseModelID() != desc.BaseModelID {
		t.Fatalf("tokenizer base model: %q", tok.BaseModelID())
	}
}

func TestLoadFromCheckpointRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "checkpoint-bestperf")
	writeSidecar(t, dir, `{"base_model_name_or_path":"microsoft/Phi-3-mini-128k-instruct"}`)
	h, err := NewHandle(dir)
	if err != nil {
		t.Fatalf("new handle: %v", err)
	}
	b := engine.NewStubBackend()
	l := New(b, zerolog.Nop())
	_, tok, err := l.LoadFromCheckpoint(context.Background(), h, "hf-secret", "cpu")
	if err != nil {
		t.Fatalf("load from checkpoint: %v", err)
	}
	if tok.BaseModelID() != h.BaseModelID {
		t.Fatalf("tokenizer base model %q != handle %q", tok.BaseModelID(), h.BaseModelID)
	}
	if tok.PadTokenID() < 0 {
		t.Fatalf("pad token not re-attached")
	}
}

func TestLoadFromCheckpointEmptyHandle(t *testing.T) {
	l := New(engine.NewStubBackend(), zerolog.Nop())
	_, _, err := l.LoadFromCheckpoint(context.Background(), types.CheckpointHandle{Path: "/nowhere"}, "", "cpu")
	if err == nil || !IsCheckpointCorrupt(err) {
		t.Fatalf("expected checkpoint corrupt, got %v", err)
	}
}
