package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"glayoutd/internal/catalog"
	"glayoutd/internal/common/fsutil"
	"glayoutd/internal/dataset"
	"glayoutd/internal/engine"
	"glayoutd/internal/loader"
	"glayoutd/internal/rag"
	"glayoutd/internal/trainer"
	"glayoutd/pkg/types"
)

// domainContextFile is the optional override for the seeded domain context,
// looked up under the knowledge root.
const domainContextFile = "strictsyntax.md"

// Deps carries the environment a Handler is built against. Backend is
// required; the path fields may be empty, in which case the corresponding
// step degrades (no retrieval, default domain context) or fails when it
// cannot (training without a data dir).
type Deps struct {
	Backend engine.Backend
	// CheckpointsRoot is searched for an existing best checkpoint and
	// receives new ones.
	CheckpointsRoot string
	// DataDir holds the fine-tuning example files.
	DataDir string
	// KnowledgeDir is the snippet corpus root for retrieval.
	KnowledgeDir string
	// IndexPath is the sqlite index file; ":memory:" is acceptable.
	IndexPath string
	Device    string
	Log       zerolog.Logger
}

// Handler is a ready-to-converse session together with the retriever it
// owns. Closing the Handler releases both.
type Handler struct {
	*Session
	retriever rag.Retriever
}

// NewHandler builds a conversational session end to end: resolve the model
// key, reuse the newest best checkpoint when one exists under the
// checkpoints root, otherwise run the full fine-tuning pipeline first, then
// bind a retriever to the knowledge root and seed the session state. The
// access token is forwarded to the backend and never logged.
func NewHandler(ctx context.Context, modelSize, accessToken string, converseMode bool, deps Deps) (*Handler, error) {
	desc, err := catalog.Resolve(modelSize)
	if err != nil {
		return nil, err
	}
	device := deps.Device
	if device == "" {
		device = "cpu"
	}
	ld := loader.New(deps.Backend, deps.Log)

	dir, found, err := loader.Discover(deps.CheckpointsRoot)
	if err != nil {
		return nil, err
	}
	var model engine.Model
	var tok engine.Tokenizer
	if found {
		handle, err := loader.NewHandle(dir)
		if err != nil {
			return nil, err
		}
		deps.Log.Info().Str("checkpoint", dir).Msg("reusing existing checkpoint")
		model, tok, err = ld.LoadFromCheckpoint(ctx, handle, accessToken, device)
		if err != nil {
			return nil, err
		}
	} else {
		deps.Log.Info().Str("model", desc.Key).Msg("no checkpoint found, training from scratch")
		handle, err := trainPipeline(ctx, deps, ld, desc, accessToken, device)
		if err != nil {
			return nil, err
		}
		model, tok, err = ld.LoadFromCheckpoint(ctx, handle, accessToken, device)
		if err != nil {
			return nil, err
		}
	}

	var retriever rag.Retriever
	if !converseMode && deps.KnowledgeDir != "" {
		r, err := rag.New(deps.KnowledgeDir, indexPathOrDefault(deps))
		if err != nil {
			_ = model.Close()
			return nil, err
		}
		retriever = r
	}

	s, err := New(Config{
		Model:         model,
		Tokenizer:     tok,
		Retriever:     retriever,
		ConverseMode:  converseMode,
		DomainContext: readDomainContext(deps),
		Log:           deps.Log,
	})
	if err != nil {
		if retriever != nil {
			_ = retriever.Close()
		}
		_ = model.Close()
		return nil, err
	}
	return &Handler{Session: s, retriever: retriever}, nil
}

// Close releases the retriever and the underlying model.
func (h *Handler) Close() error {
	if h.retriever != nil {
		_ = h.retriever.Close()
	}
	return h.Session.Close()
}

// RunFullTraining resolves the model key, loads a fresh trainable pair, and
// runs the complete fine-tuning pipeline regardless of existing checkpoints.
// It returns the in-memory trained pair; the best checkpoint is persisted
// under the checkpoints root as a side effect.
func RunFullTraining(ctx context.Context, modelSize, accessToken string, deps Deps) (engine.Model, engine.Tokenizer, error) {
	desc, err := catalog.Resolve(modelSize)
	if err != nil {
		return nil, nil, err
	}
	device := deps.Device
	if device == "" {
		device = "cpu"
	}
	ld := loader.New(deps.Backend, deps.Log)
	model, tok, err := ld.LoadFresh(ctx, desc, accessToken, device)
	if err != nil {
		return nil, nil, err
	}
	ds, err := loadSplits(deps.DataDir)
	if err != nil {
		_ = model.Close()
		return nil, nil, err
	}
	orch := trainer.New(deps.Backend, deps.CheckpointsRoot, deps.Log)
	if _, err := orch.Run(ctx, desc, model, tok, ds); err != nil {
		_ = model.Close()
		return nil, nil, err
	}
	return model, tok, nil
}

// trainPipeline runs the from-scratch path: fresh load, dataset split, one
// orchestrated fine-tuning run. The training pair is closed once the best
// checkpoint handle has been produced; callers reload from the checkpoint.
func trainPipeline(ctx context.Context, deps Deps, ld *loader.Loader, desc types.ModelDescriptor, accessToken, device string) (types.CheckpointHandle, error) {
	model, tok, err := ld.LoadFresh(ctx, desc, accessToken, device)
	if err != nil {
		return types.CheckpointHandle{}, err
	}
	defer func() { _ = model.Close() }()
	ds, err := loadSplits(deps.DataDir)
	if err != nil {
		return types.CheckpointHandle{}, err
	}
	orch := trainer.New(deps.Backend, deps.CheckpointsRoot, deps.Log)
	return orch.Run(ctx, desc, model, tok, ds)
}

func loadSplits(dataDir string) (dataset.Splits, error) {
	examples, err := dataset.LoadDir(dataDir)
	if err != nil {
		return dataset.Splits{}, err
	}
	return dataset.Split(examples), nil
}

// readDomainContext loads the optional context override from the knowledge
// root. Missing or unreadable files fall back to the built-in default.
func readDomainContext(deps Deps) string {
	if deps.KnowledgeDir == "" {
		return ""
	}
	path := filepath.Join(deps.KnowledgeDir, domainContextFile)
	if !fsutil.PathExists(path) {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		deps.Log.Warn().Err(err).Str("path", path).Msg("domain context unreadable, using default")
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func indexPathOrDefault(deps Deps) string {
	if deps.IndexPath != "" {
		return deps.IndexPath
	}
	return ":memory:"
}
