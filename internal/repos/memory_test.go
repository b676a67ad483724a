package repos

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

func TestMemoryJobStore_CreateStartsQueued(t *testing.T) {
	store := NewMemoryJobStore()
	id := uuid.New()
	job, err := store.Create(context.Background(), id)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued status, got %q", job.Status)
	}
	for n := 1; n <= 5; n++ {
		if rs := job.Round(n); rs.Status != domain.RoundStatusPending {
			t.Fatalf("round %d expected pending, got %q", n, rs.Status)
		}
	}
	if _, err := store.Create(context.Background(), id); err == nil {
		t.Fatalf("expected duplicate create to fail")
	}
}

func TestMemoryJobStore_UpdateFieldsMergesOnlyGivenKeys(t *testing.T) {
	store := NewMemoryJobStore()
	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"status":   domain.JobStatusTranscribing,
		"progress": 20,
		"error":    "boom",
	}); err != nil {
		t.Fatalf("first update: %v", err)
	}

	// Second update omits status and progress; only error is touched.
	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"error": nil,
	}); err != nil {
		t.Fatalf("second update: %v", err)
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Status != domain.JobStatusTranscribing || job.Progress != 20 {
		t.Fatalf("untouched fields changed: status=%q progress=%d", job.Status, job.Progress)
	}
	if job.Error != nil {
		t.Fatalf("expected error cleared, got %v", *job.Error)
	}
}

func TestMemoryJobStore_RoundFields(t *testing.T) {
	store := NewMemoryJobStore()
	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}

	payload := []byte(`{"round":3,"title":"t"}`)
	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"round3_status":  domain.RoundStatusDone,
		"round3_version": "r3_v2",
		"round3_payload": payload,
		"round3_error":   nil,
	}); err != nil {
		t.Fatalf("round update: %v", err)
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rs := job.Round(3)
	if rs.Status != domain.RoundStatusDone {
		t.Fatalf("expected done, got %q", rs.Status)
	}
	if rs.Version == nil || *rs.Version != "r3_v2" {
		t.Fatalf("expected version r3_v2, got %v", rs.Version)
	}
	if string(rs.Payload) != string(payload) {
		t.Fatalf("payload mismatch: %s", rs.Payload)
	}
	if !job.RoundDone(3) {
		t.Fatalf("expected RoundDone(3)")
	}
	if job.RoundDone(2) {
		t.Fatalf("round 2 should not be done")
	}
}

func TestMemoryJobStore_UnknownFieldRejected(t *testing.T) {
	store := NewMemoryJobStore()
	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateFields(context.Background(), id, map[string]any{"statuss": "x"}); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if err := store.UpdateFields(context.Background(), id, map[string]any{"round9_status": "x"}); err == nil {
		t.Fatalf("expected out-of-range round field to be rejected")
	}
}

func TestMemoryJobStore_GetReturnsSnapshot(t *testing.T) {
	store := NewMemoryJobStore()
	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"words": []byte(`[{"word":"hi"}]`),
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	a, _ := store.Get(context.Background(), id)
	a.Words[1] = 'X'
	b, _ := store.Get(context.Background(), id)
	if string(b.Words) != `[{"word":"hi"}]` {
		t.Fatalf("snapshot not isolated, got %s", b.Words)
	}
}

func TestMemoryJobStore_NotFound(t *testing.T) {
	store := NewMemoryJobStore()
	_, err := store.Get(context.Background(), uuid.New())
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.UpdateFields(context.Background(), uuid.New(), map[string]any{"status": "x"}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if err := store.Delete(context.Background(), uuid.New()); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}
