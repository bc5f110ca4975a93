// Package chat is the relay pipeline: it validates a request, checks the
// inference backend, gathers the user's memory, builds the prompt,
// dispatches it and records the finished exchange.
//
// Each request runs through
//
//	validate -> check backend -> fetch memory -> dispatch -> (complete | stream) -> persist
//
// and stops at the first failing step. Nothing is retried. Memory reads are
// best effort: a store failure while fetching context degrades to an empty
// context instead of failing the chat. Persistence happens exactly once per
// completed exchange and its failure is logged, never returned.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/scrypster/memochat/internal/llm"
	"github.com/scrypster/memochat/internal/logger"
	"github.com/scrypster/memochat/internal/memory"
	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/pkg/types"
)

// Request is a single chat turn.
type Request struct {
	Message string      `json:"message"`
	UserID  string      `json:"userId"`
	Stream  bool        `json:"stream,omitempty"`
	Options llm.Options `json:"options"`
}

// Validate checks the fields every request needs.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	}
	return nil
}

// Reply is the result of a non-streaming chat.
type Reply struct {
	Response       string    `json:"response"`
	ConversationID string    `json:"conversationId"`
	Timestamp      time.Time `json:"timestamp"`
}

// Config holds pipeline settings.
type Config struct {
	// Persona is the system preamble placed before the context block.
	Persona string

	// Window is how many recent exchanges feed the context (default: 5).
	Window int
}

// Pipeline runs chat requests. It holds no per-request state and is safe
// for concurrent use.
type Pipeline struct {
	backend       llm.Backend
	conversations storage.ConversationStore
	facts         storage.FactStore
	persona       string
	window        int
	log           *logger.Logger
	now           func() time.Time
}

// NewPipeline creates a pipeline over backend and the two halves of the store.
func NewPipeline(backend llm.Backend, conversations storage.ConversationStore, facts storage.FactStore, cfg Config, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Window < 1 {
		cfg.Window = memory.DefaultWindow
	}
	return &Pipeline{
		backend:       backend,
		conversations: conversations,
		facts:         facts,
		persona:       cfg.Persona,
		window:        cfg.Window,
		log:           log.With("component", "chat"),
		now:           time.Now,
	}
}

// Model returns the backend's configured model.
func (p *Pipeline) Model() string {
	return p.backend.GetModel()
}

// snapshot is the memory gathered for one request.
type snapshot struct {
	recent   []*types.ConversationRecord
	facts    []*types.MemoryFact
	degraded bool
}

// Chat runs a request to completion and returns the whole reply.
func (p *Pipeline) Chat(ctx context.Context, req Request) (*Reply, error) {
	prompt, snap, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	text, err := p.backend.Complete(ctx, prompt, req.Options)
	if err != nil {
		p.log.Warn("completion failed", "user_id", req.UserID, "error", err)
		return nil, err
	}

	reply := &Reply{Response: text, Timestamp: p.now().UTC()}
	if rec := p.persist(ctx, req, text, snap, false); rec != nil {
		reply.ConversationID = rec.ID
		reply.Timestamp = rec.CreatedAt
	}
	return reply, nil
}

// prepare runs every step up to dispatch and returns the prompt.
func (p *Pipeline) prepare(ctx context.Context, req Request) (string, snapshot, error) {
	if err := req.Validate(); err != nil {
		return "", snapshot{}, err
	}

	if err := p.checkBackend(ctx); err != nil {
		return "", snapshot{}, err
	}

	snap := p.fetchMemory(ctx, req.UserID)
	contextBlock := memory.BuildContext(snap.recent, snap.facts, p.window)
	return memory.BuildPrompt(p.persona, contextBlock, req.Message), snap, nil
}

func (p *Pipeline) checkBackend(ctx context.Context) error {
	status := p.backend.CheckStatus(ctx)
	if !status.Reachable {
		p.log.Warn("backend unreachable", "detail", status.Detail)
		if status.Detail != "" {
			return fmt.Errorf("%w: %s", ErrBackendUnavailable, status.Detail)
		}
		return ErrBackendUnavailable
	}
	if !status.ModelAvailable {
		p.log.Warn("model not available", "model", status.Model)
		return fmt.Errorf("%w: %s is not installed", ErrModelUnavailable, status.Model)
	}
	return nil
}

// fetchMemory never fails. Read errors are logged and leave that part of
// the snapshot empty.
func (p *Pipeline) fetchMemory(ctx context.Context, userID string) snapshot {
	var snap snapshot

	recent, err := p.conversations.RecentConversations(ctx, userID, p.window)
	if err != nil {
		p.log.Warn("failed to load recent conversations, continuing without history", "user_id", userID, "error", err)
		snap.degraded = true
	} else {
		snap.recent = recent
	}

	facts, err := p.facts.AllFacts(ctx, userID)
	if err != nil {
		p.log.Warn("failed to load facts, continuing without facts", "user_id", userID, "error", err)
		snap.degraded = true
	} else {
		snap.facts = facts
	}

	return snap
}

// persist appends the finished exchange. The reply is already decided, so
// the write is detached from ctx cancellation and a failure is only logged.
func (p *Pipeline) persist(ctx context.Context, req Request, response string, snap snapshot, streamed bool) *types.ConversationRecord {
	metadata := map[string]interface{}{
		"model":           p.backend.GetModel(),
		"streamed":        streamed,
		"memory_degraded": snap.degraded,
	}

	rec, err := p.conversations.AppendConversation(context.WithoutCancel(ctx), req.UserID, req.Message, response, metadata)
	if err != nil {
		p.log.Error("failed to persist conversation", "user_id", req.UserID, "error", err)
		return nil
	}
	return rec
}
