package types

// Family classifies a base model architecture. It determines which adapter
// attachment points exist and which instruction/response delimiter pair the
// trainer masks loss with. An unrecognized family is invalid everywhere; there
// is no default.
type Family string

const (
	FamilyPhi     Family = "phi"
	FamilyMistral Family = "mistral"
)

// Chat roles used in conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ModelDescriptor is the resolved, immutable view of a catalog entry.
type ModelDescriptor struct {
	// Catalog key the descriptor was resolved from (normalized).
	// example: 7b
	Key string `json:"key" example:"7b"`
	// Upstream identifier of the base model weights.
	// example: mistralai/Mistral-7B-Instruct-v0.3
	BaseModelID string `json:"base_model_id" example:"mistralai/Mistral-7B-Instruct-v0.3"`
	// Architecture family.
	// example: mistral
	Family Family `json:"family" example:"mistral"`
	// Projection modules the low-rank adapters attach to. Per-entry: the
	// lists differ in cardinality and names between architectures.
	AdapterTargets []string `json:"adapter_targets"`
	// Delimiter opening an instruction span in formatted training text.
	// example: [INST]
	InstructionTag string `json:"instruction_tag" example:"[INST]"`
	// Delimiter opening a response span in formatted training text.
	// example: [/INST]
	ResponseTag string `json:"response_tag" example:"[/INST]"`
}

// ChatMessage is one turn of conversation history. Immutable once appended.
type ChatMessage struct {
	// Role of the author, "user" or "assistant".
	// example: user
	Role string `json:"role" example:"user"`
	// Message text.
	Content string `json:"content"`
}

// CheckpointHandle points at a persisted adapter checkpoint on disk.
type CheckpointHandle struct {
	// Directory holding the trained artifact and its sidecar metadata.
	Path string `json:"path"`
	// Base model the adapter weights attach to, read from the sidecar
	// adapter_config.json. Never defaulted.
	BaseModelID string `json:"base_model_id"`
}

// Example is one messages-format fine-tuning example.
type Example struct {
	Messages []ChatMessage `json:"messages"`
}

// CollatorSpec selects the loss-masking delimiters for a training run.
// Loss is computed only over spans following ResponseTag.
type CollatorSpec struct {
	InstructionTag string `json:"instruction_tag"`
	ResponseTag    string `json:"response_tag"`
}

// TrainingConfig is the fixed fine-tuning schedule built once per run from
// the resolved descriptor's family.
type TrainingConfig struct {
	LearningRate  float64      `json:"learning_rate"`
	BatchSize     int          `json:"batch_size"`
	Epochs        int          `json:"epochs"`
	WeightDecay   float64      `json:"weight_decay"`
	WarmupSteps   int          `json:"warmup_steps"`
	MaxSeqLen     int          `json:"max_seq_len"`
	EvalStrategy  string       `json:"eval_strategy"`
	SaveStrategy  string       `json:"save_strategy"`
	LoadBestAtEnd bool         `json:"load_best_at_end"`
	Collator      CollatorSpec `json:"collator"`
}
