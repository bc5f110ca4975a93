package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memochat/internal/chat"
	"github.com/scrypster/memochat/internal/llm"
	"github.com/scrypster/memochat/internal/storage"
	"github.com/scrypster/memochat/internal/storage/sqlite"
	"github.com/scrypster/memochat/pkg/types"
)

// mockOllama is a scripted Ollama server.
type mockOllama struct {
	*httptest.Server

	mu         sync.Mutex
	models     []string
	reply      string
	chunks     []string
	breakAfter int // when > 0, an error frame follows this many chunks
	prompts    []string
	pulled     []string
}

func newMockOllama(t *testing.T) *mockOllama {
	t.Helper()
	m := &mockOllama{
		models: []string{"llama3.2:latest"},
		reply:  "Hello from the model",
		chunks: []string{"Hello", " from", " the", " model"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		defer m.mu.Unlock()
		var resp struct {
			Models []map[string]string `json:"models"`
		}
		for _, name := range m.models {
			resp.Models = append(resp.Models, map[string]string{"name": name})
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
			Stream bool   `json:"stream"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.prompts = append(m.prompts, req.Prompt)
		reply, chunks, breakAfter := m.reply, m.chunks, m.breakAfter
		m.mu.Unlock()

		if !req.Stream {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"response": reply, "done": true})
			return
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		for i, c := range chunks {
			if breakAfter > 0 && i == breakAfter {
				_ = enc.Encode(map[string]interface{}{"error": "model crashed"})
				return
			}
			_ = enc.Encode(map[string]interface{}{"response": c, "done": false})
			w.(http.Flusher).Flush()
		}
		_ = enc.Encode(map[string]interface{}{"response": "", "done": true})
	})
	mux.HandleFunc("/api/pull", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		m.mu.Lock()
		m.pulled = append(m.pulled, req.Model)
		m.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "success"})
	})

	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockOllama) lastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}

func (m *mockOllama) promptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

func (m *mockOllama) setModels(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.models = names
}

func (m *mockOllama) setBreakAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.breakAfter = n
}

func (m *mockOllama) pulledModels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.pulled...)
}

// testEnv wires handlers to an in-memory SQLite store and a mock Ollama.
type testEnv struct {
	handlers *APIHandlers
	store    *sqlite.MemoryStore
	ollama   *mockOllama
	pipeline *chat.Pipeline
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := sqlite.NewMemoryStore(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ollama := newMockOllama(t)
	backend := llm.NewOllamaClient(llm.OllamaConfig{BaseURL: ollama.URL, Model: "llama3.2"})
	pipeline := chat.NewPipeline(backend, store, store, chat.Config{Persona: "You are a test assistant.", Window: 5}, nil)

	return &testEnv{
		handlers: NewAPIHandlers(store, backend, pipeline, nil),
		store:    store,
		ollama:   ollama,
		pipeline: pipeline,
	}
}

// newDownBackend returns a client pointed at a closed server.
func newDownBackend(t *testing.T) *llm.OllamaClient {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	return llm.NewOllamaClient(llm.OllamaConfig{BaseURL: url, Model: "llama3.2"})
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withPath sets path wildcards the server mux would normally fill in.
func withPath(req *http.Request, kv ...string) *http.Request {
	for i := 0; i+1 < len(kv); i += 2 {
		req.SetPathValue(kv[i], kv[i+1])
	}
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(strings.NewReader(w.Body.String())).Decode(dst), "body: %s", w.Body.String())
}

// MockStore is a testify mock of storage.Store for failure paths.
type MockStore struct {
	mock.Mock
}

var _ storage.Store = (*MockStore)(nil)

func (m *MockStore) AppendConversation(ctx context.Context, userID, message, response string, metadata map[string]interface{}) (*types.ConversationRecord, error) {
	args := m.Called(ctx, userID, message, response, metadata)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ConversationRecord), args.Error(1)
}

func (m *MockStore) RecentConversations(ctx context.Context, userID string, limit int) ([]*types.ConversationRecord, error) {
	args := m.Called(ctx, userID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.ConversationRecord), args.Error(1)
}

func (m *MockStore) ListConversations(ctx context.Context, userID string, opts storage.ConversationQuery) ([]*types.ConversationRecord, error) {
	args := m.Called(ctx, userID, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.ConversationRecord), args.Error(1)
}

func (m *MockStore) ConversationStats(ctx context.Context, userID string) (*types.ConversationStats, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.ConversationStats), args.Error(1)
}

func (m *MockStore) UpsertFact(ctx context.Context, userID, key, value string) (*types.MemoryFact, error) {
	args := m.Called(ctx, userID, key, value)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MemoryFact), args.Error(1)
}

func (m *MockStore) GetFact(ctx context.Context, userID, key string) (*types.MemoryFact, error) {
	args := m.Called(ctx, userID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.MemoryFact), args.Error(1)
}

func (m *MockStore) AllFacts(ctx context.Context, userID string) ([]*types.MemoryFact, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*types.MemoryFact), args.Error(1)
}

func (m *MockStore) DeleteFact(ctx context.Context, userID, key string) error {
	args := m.Called(ctx, userID, key)
	return args.Error(0)
}

func (m *MockStore) Init(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockStore) Close() error {
	return nil
}
