package openai

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

	"github.com/pitchlabs/pitchcoach-backend/internal/platform/ctxutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

// Client is a minimal chat-completions client for OpenAI-compatible
// providers. ChatComplete returns the raw assistant text.
type Client interface {
	ChatComplete(ctx context.Context, system, user string, p Params) (string, error)
	Model() string
}

// Params are the generation parameters a caller may request. The
// provider can reject either optional one; the client strips rejected
// parameters and retries in a fixed subset order.
type Params struct {
	Temperature *float64
	MaxTokens   int
	JSONObject  bool
}

type client struct {
	log      *logger.Logger
	http     *http.Client
	baseURL  string
	apiKey   string
	model    string
	authMode string

	mu        sync.Mutex
	noTemp    map[string]bool
	noRespFmt map[string]bool
}

func NewClient(log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	apiKey := envutil.String("LLM_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("LLM_API_KEY is not set")
	}
	c := &client{
		log:       log.With("service", "openai.Client"),
		http:      &http.Client{Timeout: envutil.Seconds("LLM_TIMEOUT_SECONDS", 120*time.Second)},
		baseURL:   strings.TrimRight(envutil.String("LLM_BASE_URL", "https://api.gptsapi.net/v1"), "/"),
		apiKey:    apiKey,
		model:     envutil.String("LLM_MODEL", "gpt-5.1-chat"),
		authMode:  strings.ToLower(envutil.String("LLM_AUTH_MODE", "authorization")),
		noTemp:    map[string]bool{},
		noRespFmt: map[string]bool{},
	}
	return c, nil
}

func (c *client) Model() string { return c.model }

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("chat completion error %d: %s", e.status, e.body)
}

// attempt is one parameter subset to try. Order is fixed: full request,
// temperature dropped, response_format dropped, both dropped.
type attempt struct {
	dropTemp    bool
	dropRespFmt bool
}

func (c *client) ChatComplete(ctx context.Context, system, user string, p Params) (string, error) {
	ctx = ctxutil.Default(ctx)

	c.mu.Lock()
	skipTemp := c.noTemp[c.model]
	skipRespFmt := c.noRespFmt[c.model]
	c.mu.Unlock()

	attempts := []attempt{
		{dropTemp: skipTemp, dropRespFmt: skipRespFmt},
		{dropTemp: true, dropRespFmt: skipRespFmt},
		{dropTemp: skipTemp, dropRespFmt: true},
		{dropTemp: true, dropRespFmt: true},
	}

	seen := map[string]bool{}
	var lastErr error
	for _, a := range attempts {
		sig := fmt.Sprintf("t=%v,f=%v", a.dropTemp, a.dropRespFmt)
		if seen[sig] {
			continue
		}
		seen[sig] = true

		out, err := c.doOnce(ctx, system, user, p, a)
		if err == nil {
			return out, nil
		}
		lastErr = err

		he, ok := err.(*httpError)
		if !ok || he.status != 400 {
			return "", err
		}
		switch {
		case !a.dropTemp && isUnsupportedTemperature(he.body):
			c.remember(c.noTemp)
		case !a.dropRespFmt && isUnsupportedResponseFormat(he.body):
			c.remember(c.noRespFmt)
		default:
			return "", err
		}
		c.log.Warn("provider rejected request parameter, retrying without it",
			"status", he.status, "attempt", sig)
	}
	return "", lastErr
}

func (c *client) remember(memo map[string]bool) {
	c.mu.Lock()
	memo[c.model] = true
	c.mu.Unlock()
}

func (c *client) doOnce(ctx context.Context, system, user string, p Params, a attempt) (string, error) {
	req := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: p.MaxTokens,
	}
	if p.Temperature != nil && !a.dropTemp {
		req.Temperature = p.Temperature
	}
	if p.JSONObject && !a.dropRespFmt {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hr.Header.Set("Content-Type", "application/json")
	if c.authMode == "x-api-key" {
		hr.Header.Set("x-api-key", c.apiKey)
	} else {
		hr.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return "", fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read chat completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &httpError{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
	}
	return extractContent(raw)
}

func extractContent(raw []byte) (string, error) {
	var payload struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	content := payload.Choices[0].Message.Content

	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("chat completion returned empty assistant content")
		}
		return s, nil
	}

	// Some providers return content as a list of typed parts.
	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			b.WriteString(p.Text)
		}
		if strings.TrimSpace(b.String()) == "" {
			return "", fmt.Errorf("chat completion returned empty assistant content")
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("chat completion returned unrecognized content shape")
}

func isUnsupportedTemperature(msg string) bool {
	m := strings.ToLower(msg)
	if !strings.Contains(m, "temperature") {
		return false
	}
	return strings.Contains(m, "unsupported") ||
		strings.Contains(m, "does not support") ||
		strings.Contains(m, "default (1)")
}

func isUnsupportedResponseFormat(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "response_format") || strings.Contains(m, "json_object")
}
