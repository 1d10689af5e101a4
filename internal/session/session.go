// Package session owns the per-conversation state machine: an append-only
// chat history over an injected model/tokenizer pair, with retrieval-backed
// prompt augmentation on the first turn only. A Session is not safe for
// concurrent use; callers serialize turns (see internal/hub).
package session

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"glayoutd/internal/engine"
	"glayoutd/internal/rag"
	"glayoutd/pkg/types"
)

// Maximum new tokens per call. Both are fixed configuration constants: the
// session turn budget and the smaller plain-completion budget.
const (
	maxNewTokensSession  = 1024
	maxNewTokensComplete = 1000
)

// Fixed prompt fragments for the first-turn augmentation.
const (
	domainPreamble     = "Glayout strictsyntax is a electronic circuit layout command language.\n"
	contextIntro       = "The following is more specific context. This is only useful if it is related to the circuit the user is requesting below.\n"
	convertInstruction = "Convert the following prompt to Glayout strictsyntax:\n"
)

// seededAck is the synthetic assistant acknowledgment paired with the domain
// context when seeding a non-converse session.
const seededAck = "Thank you for providing the detailed context on Glayout strict syntax. I now have a foundational understanding of the commands. You can prompt me with specific requests to create circuits, and I will be able to write the Glayout strict syntax commands for you."

// defaultDomainContext seeds the first synthetic user message when the
// caller supplies no domain context document.
const defaultDomainContext = `Glayout strictsyntax is a command language for analog circuit layout.
Commands create parametric cells (nfet, pfet, mimcap, via stacks), place and
route them, and export the result. Each command is one line: a verb followed
by named arguments, for example "place nfet width=2 fingers=4" or
"route smart from=m1.drain to=m2.gate". Components are referred to by the
names given at placement time.`

// Config carries the injected collaborators for one Session. Model and
// Tokenizer are required; Retriever is optional (no retrieval when nil).
type Config struct {
	Model        engine.Model
	Tokenizer    engine.Tokenizer
	Retriever    rag.Retriever
	ConverseMode bool
	// DomainContext overrides the seeded first user message. Ignored when
	// ConverseMode is set.
	DomainContext string
	Log           zerolog.Logger
}

// Session is the stateful per-conversation object.
type Session struct {
	id            string
	model         engine.Model
	tok           engine.Tokenizer
	retriever     rag.Retriever
	converseMode  bool
	domainContext string
	log           zerolog.Logger

	history       []types.ChatMessage
	pastFirstTurn bool
}

// New constructs a Session and seeds its initial state.
func New(cfg Config) (*Session, error) {
	if cfg.Model == nil || cfg.Tokenizer == nil {
		return nil, errors.New("session requires a model and tokenizer")
	}
	domainContext := cfg.DomainContext
	if domainContext == "" {
		domainContext = defaultDomainContext
	}
	s := &Session{
		id:            uuid.NewString(),
		model:         cfg.Model,
		tok:           cfg.Tokenizer,
		retriever:     cfg.Retriever,
		converseMode:  cfg.ConverseMode,
		domainContext: domainContext,
		log:           cfg.Log,
	}
	s.Reset()
	return s, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// ConverseMode reports whether prompt engineering and retrieval are disabled.
func (s *Session) ConverseMode() bool { return s.converseMode }

// History returns a copy of the append-only conversation log.
func (s *Session) History() []types.ChatMessage {
	return append([]types.ChatMessage(nil), s.history...)
}

// Reset reinitializes conversation state exactly as at construction, without
// reloading the model. Outside converse mode the history is seeded with the
// domain context and a fixed acknowledgment, and the next turn is treated as
// the first again.
func (s *Session) Reset() {
	s.history = nil
	if s.converseMode {
		s.pastFirstTurn = true
		return
	}
	s.pastFirstTurn = false
	s.history = append(s.history,
		types.ChatMessage{Role: types.RoleUser, Content: s.domainContext},
		types.ChatMessage{Role: types.RoleAssistant, Content: seededAck},
	)
}

// Generate runs one conversational turn. On the first turn (converse mode
// off) the prompt is augmented with the domain preamble, an optional top-1
// retrieval snippet, and the conversion instruction; every later turn passes
// the input through unchanged. A successful call appends exactly the user
// and assistant messages; a failed call leaves history untouched and the
// session usable.
func (s *Session) Generate(ctx context.Context, userInput string) (string, error) {
	full := userInput
	firstTurn := !s.pastFirstTurn
	if firstTurn {
		full = s.augment(ctx, userInput)
	}
	// Render against history plus the pending user turn; the turn is
	// committed only after a successful decode.
	pending := append(s.History(), types.ChatMessage{Role: types.RoleUser, Content: full})
	ids, err := s.tok.ApplyChatTemplate(ctx, pending, true)
	if err != nil {
		return "", ErrGenerationFailure(err)
	}
	out, err := s.model.Generate(ctx, ids, engine.GenerateOptions{
		MaxNewTokens: maxNewTokensSession,
		PadTokenID:   s.tok.PadTokenID(),
	})
	if err != nil {
		return "", ErrGenerationFailure(err)
	}
	span := out[len(ids):]
	if len(span) > 0 {
		// Drop the trailing terminator position.
		span = span[:len(span)-1]
	}
	// Special tokens are kept on the session path; the plain-completion
	// helper strips them. The flag makes the divergence explicit.
	text, err := s.tok.Decode(ctx, span, false)
	if err != nil {
		return "", ErrGenerationFailure(err)
	}
	s.history = append(s.history,
		types.ChatMessage{Role: types.RoleUser, Content: full},
		types.ChatMessage{Role: types.RoleAssistant, Content: text},
	)
	s.pastFirstTurn = true
	return text, nil
}

// augment builds the first-turn prompt. A retriever miss or failure is
// non-fatal: augmentation proceeds without the context block.
func (s *Session) augment(ctx context.Context, userInput string) string {
	var b strings.Builder
	b.WriteString(domainPreamble)
	if s.retriever != nil {
		snips, err := s.retriever.Query(ctx, userInput, 1)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("retrieval failed, continuing without context")
		case len(snips) > 0 && snips[0] != "":
			b.WriteString(contextIntro)
			b.WriteString(snips[0])
			b.WriteString("\n")
		}
	}
	b.WriteString(convertInstruction)
	b.WriteString(userInput)
	return b.String()
}

// Close releases the model held by the session.
func (s *Session) Close() error {
	return s.model.Close()
}

// Complete generates a one-shot completion outside any session: a single
// user turn, the smaller token budget, and special tokens stripped from the
// decoded output.
func Complete(ctx context.Context, model engine.Model, tok engine.Tokenizer, prompt string) (string, error) {
	msgs := []types.ChatMessage{{Role: types.RoleUser, Content: prompt}}
	ids, err := tok.ApplyChatTemplate(ctx, msgs, true)
	if err != nil {
		return "", ErrGenerationFailure(err)
	}
	out, err := model.Generate(ctx, ids, engine.GenerateOptions{
		MaxNewTokens: maxNewTokensComplete,
		PadTokenID:   tok.PadTokenID(),
	})
	if err != nil {
		return "", ErrGenerationFailure(err)
	}
	text, err := tok.Decode(ctx, out, true)
	if err != nil {
		return "", ErrGenerationFailure(err)
	}
	return text, nil
}
