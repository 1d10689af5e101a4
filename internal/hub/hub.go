// Package hub owns the live session registry and per-session admission. A
// Session serializes its own turns behind a single in-flight slot plus a
// bounded queue; callers that cannot get a slot in time are told to back off.
package hub

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"glayoutd/internal/session"
	"glayoutd/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth = 32
	defaultMaxWait       = 30 * time.Second
)

// Builder constructs a ready session handler for a resolved model size.
// Construction may be slow (checkpoint discovery, possibly a full training
// run); the hub never holds its lock across a build.
type Builder func(ctx context.Context, modelSize string, converseMode bool) (*session.Handler, error)

// Config encapsulates all tunables for Hub construction.
type Config struct {
	Build         Builder
	MaxQueueDepth int
	MaxWait       time.Duration
	Log           zerolog.Logger
}

// entry is one live session with its queueing primitives.
type entry struct {
	handler   *session.Handler
	modelSize string
	lastUsed  time.Time
	// histLen mirrors the session's history length so Snapshot never reads
	// the history while a turn is appending to it.
	histLen  int
	inflight bool
	draining bool

	genCh   chan struct{} // size 1: single in-flight turn
	queueCh chan struct{} // buffered: queue slots
}

// Hub is the session registry. Safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	build         Builder
	maxQueueDepth int
	maxWait       time.Duration
	log           zerolog.Logger
	startTime     time.Time
}

// New constructs a Hub from Config, applying defaults for unset tunables.
func New(cfg Config) *Hub {
	h := &Hub{
		sessions:  make(map[string]*entry),
		build:     cfg.Build,
		log:       cfg.Log,
		startTime: time.Now(),
	}
	if cfg.MaxQueueDepth <= 0 {
		h.maxQueueDepth = defaultMaxQueueDepth
	} else {
		h.maxQueueDepth = cfg.MaxQueueDepth
	}
	if cfg.MaxWait <= 0 {
		h.maxWait = defaultMaxWait
	} else {
		h.maxWait = cfg.MaxWait
	}
	return h
}

// Create builds a new session and registers it.
func (h *Hub) Create(ctx context.Context, modelSize string, converseMode bool) (types.SessionResponse, error) {
	handler, err := h.build(ctx, modelSize, converseMode)
	if err != nil {
		return types.SessionResponse{}, err
	}
	e := &entry{
		handler:   handler,
		modelSize: modelSize,
		lastUsed:  time.Now(),
		histLen:   len(handler.History()),
		genCh:     make(chan struct{}, 1),
		queueCh:   make(chan struct{}, h.maxQueueDepth),
	}
	h.mu.Lock()
	h.sessions[handler.ID()] = e
	h.mu.Unlock()
	h.log.Info().Str("session", handler.ID()).Str("model", modelSize).Msg("session created")
	return types.SessionResponse{
		ID:           handler.ID(),
		ModelSize:    modelSize,
		ConverseMode: handler.ConverseMode(),
		HistoryLen:   len(handler.History()),
	}, nil
}

// beginTurn reserves a queue slot and then the single in-flight slot.
// Returns a release func to be deferred.
func (h *Hub) beginTurn(ctx context.Context, id string) (*entry, func(), error) {
	h.mu.RLock()
	e := h.sessions[id]
	h.mu.RUnlock()
	if e == nil {
		return nil, func() {}, sessionNotFoundError{id: id}
	}

	// Fast path: respect an already-canceled context
	if err := ctx.Err(); err != nil {
		return nil, func() {}, err
	}

	// Try to reserve a queue slot with timeout
	timer := time.NewTimer(h.maxWait)
	defer timer.Stop()
	select {
	case e.queueCh <- struct{}{}:
		// reserved queue slot
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	case <-timer.C:
		return nil, func() {}, tooBusyError{id: id}
	}

	// Wait to acquire the single in-flight slot
	acquired := false
	defer func() {
		if !acquired {
			<-e.queueCh
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, func() {}, err
	}
	timer2 := time.NewTimer(h.maxWait)
	defer timer2.Stop()
	select {
	case e.genCh <- struct{}{}:
		acquired = true
	case <-ctx.Done():
		return nil, func() {}, ctx.Err()
	case <-timer2.C:
		return nil, func() {}, tooBusyError{id: id}
	}

	// A deletion may have started while we waited for the slot.
	h.mu.Lock()
	if e.draining {
		h.mu.Unlock()
		<-e.genCh
		return nil, func() {}, sessionNotFoundError{id: id}
	}
	e.inflight = true
	e.lastUsed = time.Now()
	h.mu.Unlock()
	return e, func() {
		h.mu.Lock()
		e.inflight = false
		e.histLen = len(e.handler.History())
		h.mu.Unlock()
		<-e.genCh
		<-e.queueCh
	}, nil
}

// Generate runs one turn on the identified session.
func (h *Hub) Generate(ctx context.Context, id, input string) (types.GenerateResponse, error) {
	e, release, err := h.beginTurn(ctx, id)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	defer release()
	out, err := e.handler.Generate(ctx, input)
	if err != nil {
		return types.GenerateResponse{}, err
	}
	return types.GenerateResponse{Output: out, HistoryLen: len(e.handler.History())}, nil
}

// Reset reinitializes the identified session's conversation state.
func (h *Hub) Reset(ctx context.Context, id string) (types.SessionResponse, error) {
	e, release, err := h.beginTurn(ctx, id)
	if err != nil {
		return types.SessionResponse{}, err
	}
	defer release()
	e.handler.Reset()
	return types.SessionResponse{
		ID:           id,
		ModelSize:    e.modelSize,
		ConverseMode: e.handler.ConverseMode(),
		HistoryLen:   len(e.handler.History()),
	}, nil
}

// History returns the identified session's conversation log.
func (h *Hub) History(ctx context.Context, id string) ([]types.ChatMessage, error) {
	e, release, err := h.beginTurn(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.handler.History(), nil
}

// Delete unregisters a session, waits out any in-flight turn, and releases
// its resources. New calls against the id fail as not-found immediately.
func (h *Hub) Delete(id string) error {
	h.mu.Lock()
	e := h.sessions[id]
	if e == nil || e.draining {
		h.mu.Unlock()
		return sessionNotFoundError{id: id}
	}
	e.draining = true
	delete(h.sessions, id)
	h.mu.Unlock()

	// Acquiring the in-flight slot waits for the current turn to finish.
	e.genCh <- struct{}{}
	err := e.handler.Close()
	<-e.genCh
	h.log.Info().Str("session", id).Msg("session deleted")
	return err
}

// Snapshot summarizes all live sessions for the status endpoint.
func (h *Hub) Snapshot() types.StatusResponse {
	h.mu.RLock()
	sessions := make([]types.SessionStatus, 0, len(h.sessions))
	for id, e := range h.sessions {
		sessions = append(sessions, types.SessionStatus{
			ID:         id,
			ModelSize:  e.modelSize,
			HistoryLen: e.histLen,
			LastUsed:   e.lastUsed.Unix(),
			Inflight:   e.inflight,
		})
	}
	h.mu.RUnlock()
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	now := time.Now()
	return types.StatusResponse{
		Sessions:       sessions,
		UptimeSeconds:  int64(now.Sub(h.startTime).Seconds()),
		ServerTimeUnix: now.Unix(),
	}
}

// Close deletes every live session.
func (h *Hub) Close() error {
	h.mu.RLock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	h.mu.RUnlock()
	var firstErr error
	for _, id := range ids {
		if err := h.Delete(id); err != nil && firstErr == nil && !IsSessionNotFound(err) {
			firstErr = err
		}
	}
	return firstErr
}
