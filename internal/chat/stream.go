package chat

import (
	"context"
	"strings"

	"github.com/scrypster/memochat/internal/llm"
	"github.com/scrypster/memochat/pkg/types"
)

// Event is one element of a relayed stream. A Chunk event carries text for
// the caller. The last event has either Done set, with Record holding the
// persisted exchange (nil if the write failed), or Err set after the
// FallbackNotice chunk has been sent.
type Event struct {
	Chunk  string
	Done   bool
	Record *types.ConversationRecord
	Err    error
}

// Stream runs a request in streaming mode.
//
// Validation, the backend check, memory loading and opening the backend
// stream all happen before Stream returns, so any of those failures come
// back as an error with nothing yet sent to the caller.
//
// The returned channel is closed after the terminal event. If ctx ends
// first the backend stream is released, nothing is persisted and the
// channel closes without a terminal event.
func (p *Pipeline) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	prompt, snap, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	// The relay owns a child context so an early exit always releases the
	// backend reader.
	ctx, cancel := context.WithCancel(ctx)

	upstream, err := p.backend.StreamComplete(ctx, prompt, req.Options)
	if err != nil {
		cancel()
		p.log.Warn("failed to open completion stream", "user_id", req.UserID, "error", err)
		return nil, err
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer cancel()
		p.relay(ctx, req, snap, upstream, out)
	}()
	return out, nil
}

func (p *Pipeline) relay(ctx context.Context, req Request, snap snapshot, upstream <-chan llm.StreamEvent, out chan<- Event) {
	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var full strings.Builder
	for ev := range upstream {
		switch {
		case ev.Err != nil:
			p.log.Warn("completion stream interrupted", "user_id", req.UserID, "received_bytes", full.Len(), "error", ev.Err)
			if send(Event{Chunk: FallbackNotice}) {
				send(Event{Err: ev.Err})
			}
			return

		case ev.Done:
			if ctx.Err() != nil {
				return
			}
			rec := p.persist(ctx, req, full.String(), snap, true)
			send(Event{Done: true, Record: rec})
			return

		default:
			full.WriteString(ev.Chunk)
			if !send(Event{Chunk: ev.Chunk}) {
				return
			}
		}
	}

	// Upstream closed without a terminal event: the caller went away.
	p.log.Debug("stream abandoned by caller", "user_id", req.UserID, "received_bytes", full.Len())
}
