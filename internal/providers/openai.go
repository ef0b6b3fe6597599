package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// OpenAIClient talks to any OpenAI-compatible chat completions API
// (OpenAI, Groq, OpenRouter, local vLLM, ...). The wire format is a
// backend detail; the returned value is always a normalized
// protocol.LLMResponse.
type OpenAIClient struct {
	apiBase string
	apiKey  string
	client  *http.Client
	retry   RetryConfig
	breaker *circuitBreaker
	pacer   *rate.Limiter

	mu    sync.RWMutex
	model string
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIBase    string
	APIKey     string
	Model      string
	MaxRetries uint64
	RetryDelay time.Duration
	// BreakerThreshold consecutive failed calls open the breaker for
	// BreakerCooldown. Zero values use defaults.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// RequestsPerSecond paces outbound calls. Zero disables pacing.
	RequestsPerSecond float64
}

// NewOpenAIClient builds a client. APIBase defaults to the public
// OpenAI endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")

	retryCfg := DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		retryCfg.Delay = cfg.RetryDelay
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &OpenAIClient{
		apiBase: apiBase,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: 120 * time.Second},
		retry:   retryCfg,
		breaker: newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown),
		pacer:   pacer,
		model:   cfg.Model,
	}
}

// Call implements Client. A call that exhausts its retries counts as
// one breaker failure; individual retry attempts do not.
func (c *OpenAIClient) Call(ctx context.Context, systemPrompt string, messages []protocol.Message, toolSchemas []map[string]any) (*protocol.LLMResponse, error) {
	if err := c.breaker.allow(); err != nil {
		return nil, err
	}

	resp, err := retryDo(ctx, c.retry, func() (*protocol.LLMResponse, error) {
		return c.callOnce(ctx, systemPrompt, messages, toolSchemas)
	})
	if err != nil {
		c.breaker.recordFailure()
		return nil, wrapExhausted(c.retry.MaxRetries, err)
	}

	c.breaker.recordSuccess()
	return resp, nil
}

func (c *OpenAIClient) callOnce(ctx context.Context, systemPrompt string, messages []protocol.Message, toolSchemas []map[string]any) (*protocol.LLMResponse, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	wireMsgs := make([]map[string]any, 0, len(messages)+1)
	if systemPrompt != "" {
		wireMsgs = append(wireMsgs, map[string]any{"role": protocol.RoleSystem, "content": systemPrompt})
	}
	for _, m := range messages {
		wireMsgs = append(wireMsgs, map[string]any{"role": m.Role, "content": m.Text()})
	}

	body := map[string]any{
		"model":      c.CurrentModel(),
		"messages":   wireMsgs,
		"max_tokens": 2048,
	}
	if len(toolSchemas) > 0 {
		body["tools"] = toolSchemas
		body["tool_choice"] = "auto"
	}

	respBody, err := c.doRequest(ctx, "POST", c.apiBase+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var wire struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(respBody).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg := wire.Choices[0].Message
	var resp *protocol.LLMResponse
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		input := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(input) || len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		resp = protocol.ToolCall(strings.TrimSpace(tc.Function.Name), input)
	} else {
		resp = protocol.Final(msg.Content)
	}

	if err := resp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

// ListModels implements Client.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]string, error) {
	respBody, err := c.doRequest(ctx, "GET", c.apiBase+"/models", nil)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var wire struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(respBody).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	models := make([]string, 0, len(wire.Data))
	for _, m := range wire.Data {
		models = append(models, m.ID)
	}
	return models, nil
}

// SetModel implements Client.
func (c *OpenAIClient) SetModel(model string) {
	c.mu.Lock()
	c.model = model
	c.mu.Unlock()
}

// CurrentModel implements Client.
func (c *OpenAIClient) CurrentModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *OpenAIClient) doRequest(ctx context.Context, method, url string, body any) (io.ReadCloser, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
		resp.Body.Close()
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(respBody))
	}
	return resp.Body, nil
}
