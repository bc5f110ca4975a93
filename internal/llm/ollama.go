package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/scrypster/memochat/internal/logger"
)

const (
	defaultBaseURL       = "http://localhost:11434"
	defaultModel         = "llama3.2"
	defaultTimeout       = 120 * time.Second
	defaultStatusTimeout = 5 * time.Second
	defaultTemperature   = 0.7
	defaultTopP          = 0.9

	// maxStreamLineBytes bounds a single NDJSON frame.
	maxStreamLineBytes = 1 << 20

	// maxErrorBodyBytes bounds how much of a failed response is quoted in errors.
	maxErrorBodyBytes = 4096
)

// OllamaClient handles communication with the Ollama API for local LLM inference.
// Completion dispatch (whole and streaming) goes through a circuit breaker;
// status probes and model administration do not.
type OllamaClient struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	timeout        time.Duration
	statusTimeout  time.Duration
	defaults       Options
	log            *logger.Logger
}

// OllamaConfig holds Ollama client configuration.
type OllamaConfig struct {
	// BaseURL is the base URL for the Ollama API (default: http://localhost:11434)
	BaseURL string

	// Model is the model name used for completions (default: llama3.2)
	Model string

	// Timeout bounds a non-streaming completion (default: 120s).
	// Streams are bounded only by the caller's context.
	Timeout time.Duration

	// StatusTimeout bounds a status probe (default: 5s)
	StatusTimeout time.Duration

	// Defaults are the sampling parameters applied under per-request options.
	// Temperature defaults to 0.7 and TopP to 0.9 when left nil.
	Defaults Options

	// HTTPClient overrides the transport. It must not set Client.Timeout,
	// which would cut long streams short.
	HTTPClient *http.Client

	// CircuitBreaker overrides the breaker settings (default: DefaultCircuitBreakerConfig).
	CircuitBreaker *CircuitBreakerConfig

	// Logger receives stream diagnostics (default: discard).
	Logger *logger.Logger
}

// generateRequest represents the request body for the /api/generate endpoint.
type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options Options `json:"options"`
}

// generateResponse is one /api/generate reply, or one NDJSON frame when streaming.
type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// tagsResponse represents the response from the /api/tags endpoint.
type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// pullRequest / pullResponse are the non-streaming /api/pull exchange.
type pullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

type pullResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewOllamaClient creates a new Ollama client, filling unset configuration
// with the package defaults.
func NewOllamaClient(config OllamaConfig) *OllamaClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.StatusTimeout == 0 {
		config.StatusTimeout = defaultStatusTimeout
	}
	if config.Defaults.Temperature == nil {
		config.Defaults.Temperature = Float(defaultTemperature)
	}
	if config.Defaults.TopP == nil {
		config.Defaults.TopP = Float(defaultTopP)
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}
	if config.Logger == nil {
		config.Logger = logger.Nop()
	}
	breakerCfg := DefaultCircuitBreakerConfig()
	if config.CircuitBreaker != nil {
		breakerCfg = *config.CircuitBreaker
	}
	log := config.Logger.With("component", "ollama")

	return &OllamaClient{
		baseURL:        strings.TrimRight(config.BaseURL, "/"),
		client:         config.HTTPClient,
		circuitBreaker: NewCircuitBreaker(breakerCfg, log),
		model:          config.Model,
		timeout:        config.Timeout,
		statusTimeout:  config.StatusTimeout,
		defaults:       config.Defaults,
		log:            log,
	}
}

// Compile-time assertion that OllamaClient satisfies Backend.
var _ Backend = (*OllamaClient)(nil)

// GetModel returns the configured model name.
func (c *OllamaClient) GetModel() string {
	return c.model
}

// Defaults returns the sampling parameters applied when a request leaves them unset.
func (c *OllamaClient) Defaults() Options {
	return c.defaults
}

// BreakerState exposes the circuit breaker state for diagnostics.
func (c *OllamaClient) BreakerState() string {
	return c.circuitBreaker.State()
}

// Complete sends a non-streaming completion request and returns the full response text.
//
// Errors wrap ErrBackendUnavailable (connection failure, timeout, open circuit),
// ErrBackendError (non-success status) or ErrMalformedResponse (undecodable body).
// If ctx is cancelled the context error is returned as is.
func (c *OllamaClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.complete(ctx, prompt, opts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return "", fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		return "", err
	}

	return result.(string), nil
}

// complete is Complete without the circuit breaker.
func (c *OllamaClient) complete(ctx context.Context, prompt string, opts Options) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newGenerateRequest(ctx, prompt, opts, false)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var respData generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if respData.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrBackendError, respData.Error)
	}

	return respData.Response, nil
}

// StreamComplete opens a streaming completion and returns a channel of
// fragments. Failures to open the stream are returned directly, with the
// same error classes as Complete.
//
// The channel is forward-only and is closed after a Done or Err event. If
// ctx ends first the body is released and the channel is closed without a
// terminal event. Callers that stop reading early must cancel ctx so the
// reader goroutine can exit.
//
// Frames that are not valid JSON are logged and skipped; a single corrupt
// line does not end an otherwise healthy stream.
func (c *OllamaClient) StreamComplete(ctx context.Context, prompt string, opts Options) (<-chan StreamEvent, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.openStream(ctx, prompt, opts)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		return nil, err
	}

	events := make(chan StreamEvent)
	go c.readStream(ctx, result.(io.ReadCloser), events)
	return events, nil
}

// openStream issues the streaming request and returns the live body.
func (c *OllamaClient) openStream(ctx context.Context, prompt string, opts Options) (io.ReadCloser, error) {
	req, err := c.newGenerateRequest(ctx, prompt, opts, true)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	return resp.Body, nil
}

// readStream decodes NDJSON frames from body onto events until a frame with
// done=true, end of body, a read failure, or ctx ending.
func (c *OllamaClient) readStream(ctx context.Context, body io.ReadCloser, events chan<- StreamEvent) {
	defer close(events)
	defer body.Close()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLineBytes)

	skipped := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var frame generateResponse
		if err := json.Unmarshal(line, &frame); err != nil {
			skipped++
			c.log.Warn("skipping malformed stream line", "error", err, "line", truncate(string(line), 200))
			continue
		}

		if frame.Error != "" {
			send(StreamEvent{Err: fmt.Errorf("%w: %w: %s", ErrStreamInterrupted, ErrBackendError, frame.Error)})
			return
		}

		if frame.Response != "" {
			if !send(StreamEvent{Chunk: frame.Response}) {
				return
			}
		}

		if frame.Done {
			if skipped > 0 {
				c.log.Debug("stream completed with skipped lines", "skipped", skipped)
			}
			send(StreamEvent{Done: true})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			// Caller is gone; nobody is listening for a terminal event.
			return
		}
		send(StreamEvent{Err: fmt.Errorf("%w: %v", ErrStreamInterrupted, err)})
		return
	}

	// Body closed cleanly without a done frame.
	send(StreamEvent{Done: true})
}

// CheckStatus probes /api/tags. It never fails: connection problems and
// non-success statuses fold into Reachable=false with Detail set.
func (c *OllamaClient) CheckStatus(ctx context.Context) Status {
	status := Status{Model: c.model}

	models, err := c.ListModels(ctx)
	if err != nil {
		status.Detail = err.Error()
		return status
	}

	status.Reachable = true
	status.Models = models
	status.ModelAvailable = HasModel(models, c.model)
	if !status.ModelAvailable {
		status.Detail = fmt.Sprintf("model %q is not installed", c.model)
	}
	return status
}

// ListModels returns the names of the models installed on the backend.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var respData tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	models := make([]string, len(respData.Models))
	for i, model := range respData.Models {
		models[i] = model.Name
	}
	return models, nil
}

// PullModel asks the backend to download a model and waits for it to finish.
// An empty name pulls the configured model.
func (c *OllamaClient) PullModel(ctx context.Context, name string) error {
	if name == "" {
		name = c.model
	}

	jsonData, err := json.Marshal(pullRequest{Model: name, Stream: false})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/pull", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}

	var respData pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if respData.Error != "" {
		return fmt.Errorf("%w: %s", ErrBackendError, respData.Error)
	}
	if respData.Status != "success" {
		return fmt.Errorf("%w: pull of %q ended with status %q", ErrBackendError, name, respData.Status)
	}
	return nil
}

// HasModel reports whether name is among models, treating a bare name and
// name:latest as the same model.
func HasModel(models []string, name string) bool {
	for _, m := range models {
		if m == name || m == name+":latest" || name == m+":latest" {
			return true
		}
	}
	return false
}

// newGenerateRequest builds a POST /api/generate request with defaults merged under opts.
func (c *OllamaClient) newGenerateRequest(ctx context.Context, prompt string, opts Options, stream bool) (*http.Request, error) {
	reqBody := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  stream,
		Options: c.defaults.Merge(opts),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if stream {
		req.Header.Set("Accept", "application/x-ndjson")
	}
	return req, nil
}

// transportError classifies a failed round trip. A cancelled caller context
// is reported as itself; everything else means the backend is unreachable.
func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// statusError builds an ErrBackendError quoting the start of the body.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return fmt.Errorf("%w: ollama returned status %d: %s", ErrBackendError, resp.StatusCode, strings.TrimSpace(string(body)))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
