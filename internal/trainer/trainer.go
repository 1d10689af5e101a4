// Package trainer configures and runs fine-tuning jobs: it selects the
// family-specific loss-masking collator, builds the fixed training schedule,
// and delegates the loop itself to the engine backend, returning a handle to
// the persisted best checkpoint.
package trainer

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"glayoutd/internal/dataset"
	"glayoutd/internal/engine"
	"glayoutd/internal/loader"
	"glayoutd/pkg/types"
)

// Fixed fine-tuning schedule, built once per run.
const (
	learningRate = 7e-5
	batchSize    = 1
	epochs       = 1
	weightDecay  = 0.01
	warmupSteps  = 1
	maxSeqLen    = 4096
)

// Family-qualified output directory names so two families never collide in
// the same checkpoint directory.
var outputDirs = map[types.Family]string{
	types.FamilyPhi:     "glayout-llm-checkpoints-phi",
	types.FamilyMistral: "glayout-llm-checkpoints-mstrl",
}

// Orchestrator runs fine-tuning jobs against an engine backend, persisting
// checkpoints under a fixed root directory.
type Orchestrator struct {
	backend engine.Backend
	root    string
	log     zerolog.Logger
}

// New constructs an Orchestrator writing checkpoints under root.
func New(backend engine.Backend, root string, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{backend: backend, root: root, log: log}
}

// collatorFor selects the loss-masking delimiter pair for a family. Loss is
// computed only over response spans. Unknown families fail hard.
func collatorFor(f types.Family) (types.CollatorSpec, error) {
	switch f {
	case types.FamilyPhi:
		return types.CollatorSpec{InstructionTag: "<|user|>", ResponseTag: "<|assistant|>"}, nil
	case types.FamilyMistral:
		return types.CollatorSpec{InstructionTag: "[INST]", ResponseTag: "[/INST]"}, nil
	}
	return types.CollatorSpec{}, ErrUnsupportedFamily(string(f))
}

// ConfigFor builds the fixed training configuration for a family: single
// epoch, epoch-aligned evaluation and checkpointing, best-model retention.
func ConfigFor(f types.Family) (types.TrainingConfig, error) {
	collator, err := collatorFor(f)
	if err != nil {
		return types.TrainingConfig{}, err
	}
	return types.TrainingConfig{
		LearningRate:  learningRate,
		BatchSize:     batchSize,
		Epochs:        epochs,
		WeightDecay:   weightDecay,
		WarmupSteps:   warmupSteps,
		MaxSeqLen:     maxSeqLen,
		EvalStrategy:  "epoch",
		SaveStrategy:  "epoch",
		LoadBestAtEnd: true,
		Collator:      collator,
	}, nil
}

// OutputDir returns the family-qualified checkpoint directory under root.
func (o *Orchestrator) OutputDir(f types.Family) (string, error) {
	name, ok := outputDirs[f]
	if !ok {
		return "", ErrUnsupportedFamily(string(f))
	}
	return filepath.Join(o.root, name), nil
}

// Run executes one fine-tuning job for the loaded pair and returns the handle
// to the persisted best checkpoint. The call blocks for the full training
// duration; cancellation is honored at epoch boundaries only.
func (o *Orchestrator) Run(ctx context.Context, desc types.ModelDescriptor, model engine.Model, tok engine.Tokenizer, ds dataset.Splits) (types.CheckpointHandle, error) {
	cfg, err := ConfigFor(desc.Family)
	if err != nil {
		return types.CheckpointHandle{}, err
	}
	out, err := o.OutputDir(desc.Family)
	if err != nil {
		return types.CheckpointHandle{}, err
	}
	o.log.Info().
		Str("base_model", desc.BaseModelID).
		Str("family", string(desc.Family)).
		Int("train_examples", len(ds.Train)).
		Int("eval_examples", len(ds.Eval)).
		Str("output_dir", out).
		Msg("training run starting")
	start := time.Now()
	rep, err := o.backend.Fit(ctx, engine.FitJob{
		Config:      cfg,
		BaseModelID: desc.BaseModelID,
		OutputDir:   out,
		Model:       model,
		Tokenizer:   tok,
		Train:       ds.Train,
		Eval:        ds.Eval,
	})
	observeRun(desc.Family, rep.EpochsRun, err)
	if err != nil {
		return types.CheckpointHandle{}, err
	}
	o.log.Info().
		Str("checkpoint", rep.BestCheckpointDir).
		Int("epochs", rep.EpochsRun).
		Dur("dur", time.Since(start)).
		Msg("training run finished")
	return loader.NewHandle(rep.BestCheckpointDir)
}
