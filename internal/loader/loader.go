// Package loader constructs trainable model/tokenizer pairs: either freshly
// from a resolved catalog descriptor or restored from an adapter checkpoint
// directory on disk.
package loader

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"glayoutd/internal/engine"
	"glayoutd/pkg/types"
)

// Fixed low-rank adapter shape applied to every fresh load.
const (
	loraRank    = 8
	loraAlpha   = 16
	loraDropout = 0.05
)

// sidecarName is the checkpoint metadata file written next to adapter weights.
const sidecarName = "adapter_config.json"

// Loader builds model/tokenizer pairs over an injected engine backend.
type Loader struct {
	backend engine.Backend
	log     zerolog.Logger
}

// New constructs a Loader.
func New(backend engine.Backend, log zerolog.Logger) *Loader {
	return &Loader{backend: backend, log: log}
}

// LoadFresh downloads/builds a quantized, gradient-checkpointed model with
// low-rank adapters attached to the descriptor's target modules, and a
// tokenizer with a pad token guaranteed. The pair comes back ready for
// fine-tuning. The access token is forwarded to the backend and never logged.
func (l *Loader) LoadFresh(ctx context.Context, desc types.ModelDescriptor, accessToken, device string) (engine.Model, engine.Tokenizer, error) {
	l.log.Info().
		Str("base_model", desc.BaseModelID).
		Str("family", string(desc.Family)).
		Str("device", device).
		Msg("loading fresh model")
	m, tok, err := l.backend.LoadPretrained(ctx, engine.PretrainedSpec{
		BaseModelID:    desc.BaseModelID,
		AdapterTargets: desc.AdapterTargets,
		AccessToken:    accessToken,
		Device:         device,
		LoRARank:       loraRank,
		LoRAAlpha:      loraAlpha,
		LoRADropout:    loraDropout,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := tok.EnsurePadToken(ctx); err != nil {
		_ = m.Close()
		return nil, nil, err
	}
	return m, tok, nil
}

// LoadFromCheckpoint restores adapter weights from handle.Path on top of the
// base model recorded in the handle, and rebuilds a matching tokenizer with
// the pad token re-attached. Handles are built with NewHandle so the sidecar
// has already been validated.
func (l *Loader) LoadFromCheckpoint(ctx context.Context, handle types.CheckpointHandle, accessToken, device string) (engine.Model, engine.Tokenizer, error) {
	if handle.BaseModelID == "" {
		return nil, nil, ErrCheckpointCorrupt(handle.Path, "handle missing base model id")
	}
	l.log.Info().
		Str("checkpoint", handle.Path).
		Str("base_model", handle.BaseModelID).
		Str("device", device).
		Msg("loading model from checkpoint")
	m, tok, err := l.backend.LoadAdapter(ctx, engine.AdapterSpec{
		CheckpointDir: handle.Path,
		BaseModelID:   handle.BaseModelID,
		AccessToken:   accessToken,
		Device:        device,
	})
	if err != nil {
		return nil, nil, err
	}
	if err := tok.EnsurePadToken(ctx); err != nil {
		_ = m.Close()
		return nil, nil, err
	}
	return m, tok, nil
}

// NewHandle builds a CheckpointHandle for dir by reading its sidecar
// metadata. A missing or unreadable sidecar, or one without the
// base_model_name_or_path field, fails with a checkpoint-corrupt error.
func NewHandle(dir string) (types.CheckpointHandle, error) {
	raw, err := os.ReadFile(filepath.Join(dir, sidecarName))
	if err != nil {
		return types.CheckpointHandle{}, ErrCheckpointCorrupt(dir, sidecarName+" unreadable: "+err.Error())
	}
	var sidecar struct {
		BaseModelNameOrPath string `json:"base_model_name_or_path"`
	}
	if err := json.Unmarshal(raw, &sidecar); err != nil {
		return types.CheckpointHandle{}, ErrCheckpointCorrupt(dir, sidecarName+" malformed: "+err.Error())
	}
	if sidecar.BaseModelNameOrPath == "" {
		return types.CheckpointHandle{}, ErrCheckpointCorrupt(dir, "missing base_model_name_or_path")
	}
	return types.CheckpointHandle{Path: dir, BaseModelID: sidecar.BaseModelNameOrPath}, nil
}
