// Package engine defines the opaque numerical capabilities the orchestration
// layer composes: a loaded model's bounded generation, its tokenizer, and the
// backend that constructs both and runs fine-tuning loops. Nothing in this
// package knows how text is embedded or gradients are computed; concrete
// backends are an external worker process (server.go), an in-memory stub
// (stub.go), and a cgo llama.cpp completer behind the 'llama' build tag.
package engine

import (
	"context"

	"glayoutd/pkg/types"
)

// GenerateOptions bounds one generation call.
type GenerateOptions struct {
	// MaxNewTokens caps tokens generated beyond the input. Always a fixed
	// configuration constant at call sites, never computed.
	MaxNewTokens int
	// PadTokenID is passed through to the runtime for padding.
	PadTokenID int
}

// Model is the bounded-generation capability of a loaded model, with or
// without adapter weights attached. Mode management (train vs. eval) lives
// behind the backend boundary: Generate always runs in eval mode and Fit in
// train mode.
type Model interface {
	// Generate returns the full token sequence: the input ids followed by up
	// to opts.MaxNewTokens newly generated ids.
	Generate(ctx context.Context, inputIDs []int, opts GenerateOptions) ([]int, error)
	// Close releases runtime resources held by the model.
	Close() error
}

// Tokenizer renders chat history to token ids and decodes spans back to text.
type Tokenizer interface {
	// ApplyChatTemplate renders the message sequence through the model's chat
	// template and tokenizes it. When addGenerationPrompt is true the
	// template's assistant-turn opener is appended.
	ApplyChatTemplate(ctx context.Context, msgs []types.ChatMessage, addGenerationPrompt bool) ([]int, error)
	// Decode converts ids back to text. skipSpecialTokens controls whether
	// template/control tokens are dropped from the output.
	Decode(ctx context.Context, ids []int, skipSpecialTokens bool) (string, error)
	// EnsurePadToken attaches a [PAD] token if the tokenizer lacks one.
	EnsurePadToken(ctx context.Context) error
	// PadTokenID returns the current pad token id, or -1 if none.
	PadTokenID() int
	// BaseModelID identifies the base model this tokenizer was built for.
	BaseModelID() string
}

// PretrainedSpec describes a fresh trainable load: quantized base weights,
// gradient checkpointing, and low-rank adapters attached to the given target
// modules.
type PretrainedSpec struct {
	BaseModelID    string
	AdapterTargets []string
	AccessToken    string
	Device         string
	LoRARank       int
	LoRAAlpha      int
	LoRADropout    float64
}

// AdapterSpec describes restoring adapter weights from a checkpoint
// directory on top of a resolved base model.
type AdapterSpec struct {
	CheckpointDir string
	BaseModelID   string
	AccessToken   string
	Device        string
}

// FitJob is one fine-tuning run. The backend persists the best checkpoint
// under OutputDir/checkpoint-bestperf together with an adapter_config.json
// sidecar recording BaseModelID.
type FitJob struct {
	Config      types.TrainingConfig
	BaseModelID string
	OutputDir   string
	// Model and Tokenizer are the pair being fine-tuned, as returned by the
	// same backend's LoadPretrained. Backends recover their own handles from
	// these; a pair from a different backend is rejected.
	Model     Model
	Tokenizer Tokenizer
	Train     []types.Example
	Eval      []types.Example
}

// FitReport summarizes a completed fine-tuning run.
type FitReport struct {
	// BestCheckpointDir is the persisted best-model directory.
	BestCheckpointDir string
	// EpochsRun counts completed epochs; less than the schedule only when
	// the job was canceled at an epoch boundary.
	EpochsRun int
}

// Backend constructs models/tokenizers and runs training loops. Fit blocks
// for the full run; cancellation is honored at epoch boundaries only.
type Backend interface {
	LoadPretrained(ctx context.Context, spec PretrainedSpec) (Model, Tokenizer, error)
	LoadAdapter(ctx context.Context, spec AdapterSpec) (Model, Tokenizer, error)
	Fit(ctx context.Context, job FitJob) (FitReport, error)
}
