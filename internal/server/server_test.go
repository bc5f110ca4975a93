package server_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memochat/internal/config"
	"github.com/scrypster/memochat/internal/llm"
	"github.com/scrypster/memochat/internal/server"
	"github.com/scrypster/memochat/internal/storage/sqlite"
)

// newMockOllama serves /api/tags and /api/generate with a fixed reply.
func newMockOllama(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"models":[{"name":"llama3.2:latest"}]}`)
	})
	mux.HandleFunc("/api/generate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Stream bool `json:"stream"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			_, _ = io.WriteString(w, `{"response":"hi there","done":true}`)
			return
		}
		for _, line := range []string{`{"response":"hi","done":false}`, `{"response":" there","done":false}`, `{"response":"","done":true}`} {
			_, _ = io.WriteString(w, line+"\n")
			w.(http.Flusher).Flush()
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// startTestServer starts the relay on a random port with an in-memory SQLite
// store and returns its base URL.
func startTestServer(t *testing.T) string {
	t.Helper()

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	store, err := sqlite.NewMemoryStore(":memory:", nil)
	require.NoError(t, err, "failed to create in-memory SQLite store")

	ollama := newMockOllama(t)
	backend := llm.NewOllamaClient(llm.OllamaConfig{BaseURL: ollama.URL, Model: "llama3.2"})

	ctx, cancel := context.WithCancel(context.Background())
	addr, err := server.Start(ctx, cfg, store, backend, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		cancel()
		time.Sleep(50 * time.Millisecond) // Give server time to shut down
		_ = store.Close()
	})

	return "http://" + addr
}

func TestServer_StartsOnRandomPort(t *testing.T) {
	base := startTestServer(t)
	assert.False(t, strings.HasSuffix(base, ":0"))
}

func TestServer_ListenError(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{Host: "256.0.0.1", Port: 1}}
	_, err := server.Start(context.Background(), cfg, nil, nil, nil)
	assert.Error(t, err)
}

func TestServer_HealthAndSecurityHeaders(t *testing.T) {
	base := startTestServer(t)

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
}

func TestServer_MethodNotAllowed(t *testing.T) {
	base := startTestServer(t)

	resp, err := http.Get(base + "/chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPut, base+"/memories/u1/color", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_MemoryRoundTripAndChat(t *testing.T) {
	base := startTestServer(t)

	resp, err := http.Post(base+"/memories/u1", "application/json", strings.NewReader(`{"key":"color","value":"blue"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/memories/u1/color")
	require.NoError(t, err)
	var fact map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&fact))
	resp.Body.Close()
	assert.Equal(t, "blue", fact["value"])

	resp, err = http.Post(base+"/chat", "application/json", strings.NewReader(`{"message":"hi","userId":"u1"}`))
	require.NoError(t, err)
	var reply map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	resp.Body.Close()
	assert.Equal(t, "hi there", reply["response"])

	resp, err = http.Get(base + "/conversations/u1/stats")
	require.NoError(t, err)
	var stats struct {
		Stats struct {
			TotalConversations int `json:"totalConversations"`
		} `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.Equal(t, 1, stats.Stats.TotalConversations)
}

func TestServer_StreamingChat(t *testing.T) {
	base := startTestServer(t)

	resp, err := http.Post(base+"/chat", "application/json", strings.NewReader(`{"message":"hi","userId":"u2","stream":true}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain; charset=utf-8", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(bufio.NewReader(resp.Body))
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(body))

	resp2, err := http.Get(base + "/conversations/u2")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var list struct {
		Conversations []struct {
			Response string `json:"response"`
		} `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&list))
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, "hi there", list.Conversations[0].Response)
}
