package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/scrypster/memochat/internal/llm"
	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/pkg/types"
)

// fakeBackend is a scripted llm.Backend.
type fakeBackend struct {
	mu sync.Mutex

	status      llm.Status
	reply       string
	completeErr error
	openErr     error

	// events are delivered in order on StreamComplete. When block is true
	// the stream stays open after them until ctx ends.
	events []llm.StreamEvent
	block  bool

	prompts   []string
	options   []llm.Options
	released  chan struct{}
	checkHits int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		status:   llm.Status{Reachable: true, ModelAvailable: true, Model: "llama3.2"},
		reply:    "Hello there!",
		released: make(chan struct{}),
	}
}

func (f *fakeBackend) GetModel() string { return "llama3.2" }

func (f *fakeBackend) CheckStatus(ctx context.Context) llm.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkHits++
	return f.status
}

func (f *fakeBackend) record(prompt string, opts llm.Options) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	f.options = append(f.options, opts)
}

func (f *fakeBackend) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeBackend) Complete(ctx context.Context, prompt string, opts llm.Options) (string, error) {
	f.record(prompt, opts)
	if f.completeErr != nil {
		return "", f.completeErr
	}
	return f.reply, nil
}

func (f *fakeBackend) StreamComplete(ctx context.Context, prompt string, opts llm.Options) (<-chan llm.StreamEvent, error) {
	f.record(prompt, opts)
	if f.openErr != nil {
		return nil, f.openErr
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		defer close(f.released)
		for _, ev := range f.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if f.block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// fakeStore is an in-memory ConversationStore and FactStore with
// injectable failures.
type fakeStore struct {
	mu sync.Mutex

	records []*types.ConversationRecord
	facts   map[string]*types.MemoryFact

	readErr   error
	appendErr error
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{facts: map[string]*types.MemoryFact{}}
}

var _ storage.ConversationStore = (*fakeStore)(nil)
var _ storage.FactStore = (*fakeStore)(nil)

func (s *fakeStore) AppendConversation(ctx context.Context, userID, message, response string, metadata map[string]interface{}) (*types.ConversationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return nil, s.appendErr
	}
	s.seq++
	rec := &types.ConversationRecord{
		ID:        fmt.Sprintf("conv-%d", s.seq),
		UserID:    userID,
		Message:   message,
		Response:  response,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, s.seq, 0, time.UTC),
		Metadata:  metadata,
	}
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *fakeStore) RecentConversations(ctx context.Context, userID string, limit int) ([]*types.ConversationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := []*types.ConversationRecord{}
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].UserID == userID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *fakeStore) ListConversations(ctx context.Context, userID string, opts storage.ConversationQuery) ([]*types.ConversationRecord, error) {
	opts.Normalize()
	return s.RecentConversations(ctx, userID, opts.Limit)
}

func (s *fakeStore) ConversationStats(ctx context.Context, userID string) (*types.ConversationStats, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) UpsertFact(ctx context.Context, userID, key, value string) (*types.MemoryFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &types.MemoryFact{UserID: userID, Key: key, Value: value}
	s.facts[userID+"/"+key] = f
	return f, nil
}

func (s *fakeStore) GetFact(ctx context.Context, userID, key string) (*types.MemoryFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.facts[userID+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return f, nil
}

func (s *fakeStore) AllFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return nil, s.readErr
	}
	out := []*types.MemoryFact{}
	for _, f := range s.facts {
		if f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) DeleteFact(ctx context.Context, userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.facts, userID+"/"+key)
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
