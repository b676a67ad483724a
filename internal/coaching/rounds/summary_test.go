package rounds

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

func validSummaryResponse() string {
	return `{
		"headline": "A confident pitch with a muddled business model",
		"summary": "The founder presented clearly but skipped pricing entirely.",
		"key_strengths": ["clear problem statement"],
		"key_improvements": ["explain the revenue model"]
	}`
}

func newSummarizerFixture(t *testing.T, chat ChatClient) (*Summarizer, repos.JobStore, uuid.UUID) {
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
	s, err := NewSummarizer(store, assembler, chat, log)
	if err != nil {
		t.Fatalf("summarizer: %v", err)
	}

	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"transcript_full_text": "we build rockets for the mid market",
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s, store, id
}

func TestSummarizerRun_PersistsSummary(t *testing.T) {
	chat := &scriptedChat{responses: []string{validSummaryResponse()}}
	s, store, id := newSummarizerFixture(t, chat)

	payload, err := s.Run(context.Background(), id)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got["headline"] == "" {
		t.Fatalf("unexpected payload: %v", got)
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(job.SummaryJSON) == 0 {
		t.Fatalf("expected persisted summary_json")
	}
	if job.SummaryError != nil {
		t.Fatalf("expected no summary error, got %q", *job.SummaryError)
	}
}

func TestSummarizerRun_RepairsInvalidResponseOnce(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"headline": "only a headline"}`,
		validSummaryResponse(),
	}}
	s, store, id := newSummarizerFixture(t, chat)

	if _, err := s.Run(context.Background(), id); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(chat.prompts) != 2 {
		t.Fatalf("expected initial + repair prompts, got %d", len(chat.prompts))
	}
	if !strings.Contains(chat.prompts[1], "<<<") || !strings.Contains(chat.prompts[1], "only a headline") {
		t.Fatalf("repair prompt should embed the invalid output, got %q", chat.prompts[1])
	}

	job, _ := store.Get(context.Background(), id)
	if len(job.SummaryJSON) == 0 {
		t.Fatalf("expected persisted summary after repair")
	}
}

func TestSummarizerRun_FailsAfterRepairStillInvalid(t *testing.T) {
	chat := &scriptedChat{responses: []string{
		`{"headline": "h"}`,
		`{"headline": "h"}`,
	}}
	s, store, id := newSummarizerFixture(t, chat)

	_, err := s.Run(context.Background(), id)
	if err == nil {
		t.Fatalf("expected failure")
	}
	if !strings.Contains(err.Error(), "failed validation after repair") {
		t.Fatalf("unexpected error: %v", err)
	}

	job, _ := store.Get(context.Background(), id)
	if len(job.SummaryJSON) != 0 {
		t.Fatalf("no summary should be persisted on failure")
	}
	if job.SummaryError == nil || !strings.Contains(*job.SummaryError, "failed validation after repair") {
		t.Fatalf("expected persisted summary error, got %v", job.SummaryError)
	}
}

func TestSummarizerRun_MissingTranscript(t *testing.T) {
	chat := &scriptedChat{responses: []string{validSummaryResponse()}}
	log, _ := logger.New("production")
	store := repos.NewMemoryJobStore()
	assembler, _ := coaching.NewInputAssembler(store, log)
	s, _ := NewSummarizer(store, assembler, chat, log)

	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := s.Run(context.Background(), id)
	if err == nil {
		t.Fatalf("expected failure without transcript")
	}
	if len(chat.prompts) != 0 {
		t.Fatalf("model must not be called without a transcript")
	}
}

func TestValidateSummary(t *testing.T) {
	if err := validateSummary([]byte(validSummaryResponse())); err != nil {
		t.Fatalf("valid summary rejected: %v", err)
	}
	cases := map[string]string{
		"missing headline":     `{"summary":"s","key_strengths":[],"key_improvements":[]}`,
		"empty summary":        `{"headline":"h","summary":"  ","key_strengths":[],"key_improvements":[]}`,
		"strengths not a list": `{"headline":"h","summary":"s","key_strengths":"clear","key_improvements":[]}`,
	}
	for name, raw := range cases {
		if err := validateSummary([]byte(raw)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
