package rounds

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/openai"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

// scriptedChat returns its responses in order and records the prompts
// it received.
type scriptedChat struct {
	responses []string
	prompts   []string
}

func (s *scriptedChat) ChatComplete(ctx context.Context, system, user string, p openai.Params) (string, error) {
	s.prompts = append(s.prompts, user)
	if len(s.responses) == 0 {
		return "", context.Canceled
	}
	out := s.responses[0]
	s.responses = s.responses[1:]
	return out, nil
}

func round1Response(t *testing.T) string {
	t.Helper()
	raw, err := json.Marshal(validRound1Payload())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func newRunnerFixture(t *testing.T, chat ChatClient) (*Runner, repos.JobStore, uuid.UUID) {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store := repos.NewMemoryJobStore()
	assembler, err := coaching.NewInputAssembler(store, log)
	if err != nil {
		t.Fatalf("assembler: %v", err)
	}
	r, err := NewRunner(store, assembler, chat, nil, log)
	if err != nil {
		t.Fatalf("runner: %v", err)
	}

	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"transcript_full_text": "we build rockets for the mid market",
		"words":                []byte(`[{"word":"we","start":0,"end":0.3},{"word":"build","start":0.4,"end":0.8}]`),
		"derived_metrics":      []byte(`{"duration_sec":60,"total_words":120,"wpm":120,"filler_count":0,"filler_rate_per_min":0,"top_fillers":[],"pause_count":0,"total_pause_sec":0,"avg_pause_sec":0,"max_pause_sec":0}`),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return r, store, id
}

func TestRunnerRun_PersistsDonePayload(t *testing.T) {
	chat := &scriptedChat{responses: []string{round1Response(t)}}
	r, store, id := newRunnerFixture(t, chat)

	if err := r.Run(context.Background(), id, 1); err != nil {
		t.Fatalf("run: %v", err)
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !job.RoundDone(1) {
		t.Fatalf("expected round 1 done, got %q", job.Round1Status)
	}
	if job.Round1Version == nil || *job.Round1Version != "r1_v2" {
		t.Fatalf("unexpected version: %v", job.Round1Version)
	}
	if job.Round1Error != nil {
		t.Fatalf("expected no error, got %q", *job.Round1Error)
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Round1Payload, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["round"] != float64(1) {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestRunnerRun_RepairsInvalidResponseOnce(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"round": 1, "title": "broken"}`,
		round1Response(t),
	}}
	r, store, id := newRunnerFixture(t, chat)

	if err := r.Run(context.Background(), id, 1); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(chat.prompts) != 2 {
		t.Fatalf("expected initial + repair prompts, got %d", len(chat.prompts))
	}
	if !strings.Contains(chat.prompts[1], "<<<") || !strings.Contains(chat.prompts[1], `"broken"`) {
		t.Fatalf("repair prompt should embed the invalid output, got %q", chat.prompts[1])
	}

	job, _ := store.Get(context.Background(), id)
	if !job.RoundDone(1) {
		t.Fatalf("expected round 1 done after repair")
	}
}

func TestRunnerRun_FailsAfterRepairStillInvalid(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"round": 1}`,
		`{"round": 1}`,
	}}
	r, store, id := newRunnerFixture(t, chat)

	err := r.Run(context.Background(), id, 1)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "failed validation after repair") {
		t.Fatalf("unexpected error: %v", err)
	}

	job, _ := store.Get(context.Background(), id)
	if job.Round1Status != domain.RoundStatusFailed {
		t.Fatalf("expected failed status, got %q", job.Round1Status)
	}
	if job.Round1Error == nil || !strings.Contains(*job.Round1Error, "failed validation after repair") {
		t.Fatalf("expected persisted error, got %v", job.Round1Error)
	}
}

func TestRunnerRun_MissingTranscriptFailsRound(t *testing.T) {
	chat := &scriptedChat{responses: []string{round1Response(t)}}
	log, _ := logger.New("production")
	store := repos.NewMemoryJobStore()
	assembler, _ := coaching.NewInputAssembler(store, log)
	r, _ := NewRunner(store, assembler, chat, nil, log)

	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := r.Run(context.Background(), id, 1)
	if err == nil {
		t.Fatalf("expected failure without transcript")
	}
	job, _ := store.Get(context.Background(), id)
	if job.Round1Status != domain.RoundStatusFailed {
		t.Fatalf("expected failed status, got %q", job.Round1Status)
	}
	if len(chat.prompts) != 0 {
		t.Fatalf("model must not be called without a transcript")
	}
}

func TestRunnerRun_Round5RequiresPriorRounds(t *testing.T) {
	chat := &scriptedChat{responses: []string{"unused"}}
	r, store, id := newRunnerFixture(t, chat)

	err := r.Run(context.Background(), id, 5)
	if err == nil {
		t.Fatalf("expected precondition failure")
	}
	if !strings.Contains(err.Error(), "round1") {
		t.Fatalf("error should name the missing rounds, got %v", err)
	}
	job, _ := store.Get(context.Background(), id)
	if job.Round5Status != domain.RoundStatusFailed {
		t.Fatalf("expected failed status, got %q", job.Round5Status)
	}
	if len(chat.prompts) != 0 {
		t.Fatalf("model must not be called when prerequisites are missing")
	}
}

func TestRunnerRun_Round4WithoutExtractorFails(t *testing.T) {
	chat := &scriptedChat{responses: []string{"unused"}}
	r, store, id := newRunnerFixture(t, chat)

	err := r.Run(context.Background(), id, 4)
	if err == nil {
		t.Fatalf("expected round 4 to fail without body language data or extractor")
	}
	job, _ := store.Get(context.Background(), id)
	if job.Round4Status != domain.RoundStatusFailed {
		t.Fatalf("expected failed status, got %q", job.Round4Status)
	}
}

func TestTruncateError(t *testing.T) {
	short := "short"
	if truncateError(short) != short {
		t.Fatalf("short errors pass through")
	}
	long := strings.Repeat("x", maxErrorLen+100)
	got := truncateError(long)
	if len(got) != maxErrorLen {
		t.Fatalf("expected %d chars, got %d", maxErrorLen, len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("expected ellipsis suffix")
	}
}

func TestVersionTags(t *testing.T) {
	want := map[int]string{1: "r1_v2", 2: "r2_v2", 3: "r3_v2", 4: "r4_v2", 5: "r5_v2"}
	for n, v := range want {
		if got := Version(n); got != v {
			t.Fatalf("Version(%d) = %q, want %q", n, got, v)
		}
	}
	if Version(9) != "" {
		t.Fatalf("unknown round should yield empty version")
	}
}
