package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, url string) Client {
	t.Helper()
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_BASE_URL", url)
	t.Setenv("LLM_MODEL", "test-model")
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	c, err := NewClient(log)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

func chatOK(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(b)
}

func TestChatComplete_Success(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, chatOK(`{"round":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.ChatComplete(t.Context(), "sys", "user", Params{MaxTokens: 100})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != `{"round":1}` {
		t.Fatalf("unexpected content: %q", out)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
}

func TestChatComplete_StripsRejectedTemperatureAndLearns(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "temperature") {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"model does not support temperature, only the default (1) is allowed"}}`)
			return
		}
		io.WriteString(w, chatOK("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	temp := 0.3
	p := Params{Temperature: &temp, MaxTokens: 100}

	out, err := c.ChatComplete(t.Context(), "sys", "user", p)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected content: %q", out)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected 2 calls (reject then retry), got %d", n)
	}

	// The rejection is remembered per model: the next request skips
	// temperature outright.
	if _, err := c.ChatComplete(t.Context(), "sys", "user", p); err != nil {
		t.Fatalf("second chat: %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Fatalf("expected 3 calls total, got %d", n)
	}
}

func TestChatComplete_StripsRejectedResponseFormat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "response_format") {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":{"message":"response_format is not supported for this model"}}`)
			return
		}
		io.WriteString(w, chatOK("ok"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	out, err := c.ChatComplete(t.Context(), "sys", "user", Params{MaxTokens: 100, JSONObject: true})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if out != "ok" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestChatComplete_NoRetryOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, "upstream exploded")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	temp := 0.3
	if _, err := c.ChatComplete(t.Context(), "sys", "user", Params{Temperature: &temp}); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestChatComplete_NoRetryOnUnrelated400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"context length exceeded"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	temp := 0.3
	if _, err := c.ChatComplete(t.Context(), "sys", "user", Params{Temperature: &temp}); err == nil {
		t.Fatalf("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected 1 call, got %d", n)
	}
}

func TestExtractContent_PartsList(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}}]}`)
	out, err := extractContent(raw)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out != "hello world" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestExtractContent_EmptyContent(t *testing.T) {
	raw := []byte(`{"choices":[{"message":{"content":""}}]}`)
	if _, err := extractContent(raw); err == nil {
		t.Fatalf("expected error for empty content")
	}
	raw = []byte(`{"choices":[]}`)
	if _, err := extractContent(raw); err == nil {
		t.Fatalf("expected error for no choices")
	}
}

func TestIsUnsupportedTemperature(t *testing.T) {
	if !isUnsupportedTemperature("Unsupported value: 'temperature'") {
		t.Fatalf("expected match")
	}
	if isUnsupportedTemperature("temperature was set") {
		t.Fatalf("plain mention must not match")
	}
	if isUnsupportedTemperature("unsupported model") {
		t.Fatalf("non-temperature message must not match")
	}
}
