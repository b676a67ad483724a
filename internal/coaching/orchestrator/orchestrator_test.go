package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching/rounds"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

// fakeRunner records which rounds ran and persists round state the way
// the real runner does, so the orchestrator's re-fetch sees it.
type fakeRunner struct {
	store repos.JobStore

	mu     sync.Mutex
	ran    []int
	failOn map[int]bool
	block  chan struct{}

	// Optional per-round choreography: entered[n] closes when round n
	// starts, gate[n] blocks it until the test releases it, finished[n]
	// closes when it settles.
	entered  map[int]chan struct{}
	gate     map[int]chan struct{}
	finished map[int]chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, jobID uuid.UUID, n int) error {
	if f.block != nil {
		<-f.block
	}
	if ch := f.entered[n]; ch != nil {
		close(ch)
	}
	if ch := f.gate[n]; ch != nil {
		<-ch
	}
	if ch := f.finished[n]; ch != nil {
		defer close(ch)
	}
	f.mu.Lock()
	f.ran = append(f.ran, n)
	fail := f.failOn[n]
	f.mu.Unlock()

	if fail {
		_ = f.store.UpdateFields(ctx, jobID, map[string]any{
			fmt.Sprintf("round%d_status", n): domain.RoundStatusFailed,
			fmt.Sprintf("round%d_error", n):  "synthetic failure",
		})
		return fmt.Errorf("round %d synthetic failure", n)
	}
	_ = f.store.UpdateFields(ctx, jobID, map[string]any{
		fmt.Sprintf("round%d_status", n):  domain.RoundStatusDone,
		fmt.Sprintf("round%d_payload", n): []byte(fmt.Sprintf(`{"round":%d}`, n)),
	})
	return nil
}

func (f *fakeRunner) rounds() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.ran...)
	sort.Ints(out)
	return out
}

func newTestOrchestrator(t *testing.T, failOn map[int]bool) (*Orchestrator, *fakeRunner, repos.JobStore) {
	t.Helper()
	log, err := logger.New("production")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	store := repos.NewMemoryJobStore()
	runner := &fakeRunner{store: store, failOn: failOn}
	o, err := New(store, runner, log)
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	return o, runner, store
}

func newTranscribedJob(t *testing.T, store repos.JobStore) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"status":               domain.JobStatusDone,
		"transcript_full_text": "we build rockets for the mid market",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	return id
}

func TestRunJob_AllRoundsSucceedThenRound5(t *testing.T) {
	o, runner, store := newTestOrchestrator(t, nil)
	id := newTranscribedJob(t, store)

	o.runJob(context.Background(), id)

	got := runner.rounds()
	want := []int{1, 2, 3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected rounds %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected rounds %v, got %v", want, got)
		}
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !job.RoundDone(5) {
		t.Fatalf("expected round 5 done, got %q", job.Round5Status)
	}
}

func TestRunJob_FailureSkipsRound5WithDetail(t *testing.T) {
	o, runner, store := newTestOrchestrator(t, map[int]bool{2: true})
	id := newTranscribedJob(t, store)

	o.runJob(context.Background(), id)

	for _, n := range runner.rounds() {
		if n == 5 {
			t.Fatalf("round 5 must not run after a prerequisite failure")
		}
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Round5Status != domain.RoundStatusFailed {
		t.Fatalf("expected round 5 failed, got %q", job.Round5Status)
	}
	if job.Round5Error == nil {
		t.Fatalf("expected a skip message")
	}
	msg := *job.Round5Error
	if !strings.HasPrefix(msg, "Round 5 skipped because prerequisite rounds are incomplete or failed:") {
		t.Fatalf("unexpected skip message: %q", msg)
	}
	if !strings.Contains(msg, "round2 (failed)") {
		t.Fatalf("skip message should name round2 and its status, got %q", msg)
	}
	if job.Round5Version == nil || *job.Round5Version != rounds.Version(5) {
		t.Fatalf("skipped round 5 should carry its version tag, got %v", job.Round5Version)
	}
}

func TestRunPending_FirstFailureAttribution(t *testing.T) {
	o, runner, store := newTestOrchestrator(t, map[int]bool{1: true, 3: true})
	id := newTranscribedJob(t, store)

	// Round 3 enters first and holds; round 1 then fails while round 3
	// is still in flight, so round 1 must be attributed as the first
	// failure and round 3's failure recorded as additional.
	entered3 := make(chan struct{})
	gate3 := make(chan struct{})
	finished1 := make(chan struct{})
	runner.entered = map[int]chan struct{}{3: entered3}
	runner.gate = map[int]chan struct{}{1: entered3, 3: gate3}
	runner.finished = map[int]chan struct{}{1: finished1}
	go func() {
		<-finished1
		time.Sleep(50 * time.Millisecond)
		close(gate3)
	}()

	first := o.runPending(context.Background(), id, []int{1, 2, 3, 4}, o.log)
	if first != 1 {
		t.Fatalf("expected round 1 as the first failure, got %d", first)
	}

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Round1Status != domain.RoundStatusFailed {
		t.Fatalf("expected round 1 failed, got %q", job.Round1Status)
	}
	if job.Round3Status != domain.RoundStatusFailed {
		t.Fatalf("expected round 3 failed too, got %q", job.Round3Status)
	}
}

func TestRunJob_PreservesDoneRound5OnRegression(t *testing.T) {
	o, runner, store := newTestOrchestrator(t, map[int]bool{1: true})
	id := newTranscribedJob(t, store)

	payload := []byte(`{"round":5,"title":"kept"}`)
	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"round2_status": domain.RoundStatusDone, "round2_payload": []byte(`{"round":2}`),
		"round3_status": domain.RoundStatusDone, "round3_payload": []byte(`{"round":3}`),
		"round4_status": domain.RoundStatusDone, "round4_payload": []byte(`{"round":4}`),
		"round5_status": domain.RoundStatusDone, "round5_payload": payload,
	}); err != nil {
		t.Fatalf("seed rounds: %v", err)
	}

	o.runJob(context.Background(), id)

	job, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job.Round5Status != domain.RoundStatusDone {
		t.Fatalf("round 5 regressed to %q", job.Round5Status)
	}
	if string(job.Round5Payload) != string(payload) {
		t.Fatalf("round 5 payload changed: %s", job.Round5Payload)
	}
	if got := runner.rounds(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("expected only round 1 to run, got %v", got)
	}
}

func TestRunJob_OnlyMissingRoundsRun(t *testing.T) {
	o, runner, store := newTestOrchestrator(t, nil)
	id := newTranscribedJob(t, store)

	if err := store.UpdateFields(context.Background(), id, map[string]any{
		"round1_status": domain.RoundStatusDone, "round1_payload": []byte(`{"round":1}`),
		"round3_status": domain.RoundStatusDone, "round3_payload": []byte(`{"round":3}`),
	}); err != nil {
		t.Fatalf("seed rounds: %v", err)
	}

	o.runJob(context.Background(), id)

	got := runner.rounds()
	want := []int{2, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected rounds %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected rounds %v, got %v", want, got)
		}
	}
}

func TestRunJob_NoTranscriptDoesNothing(t *testing.T) {
	o, runner, store := newTestOrchestrator(t, nil)
	id := uuid.New()
	if _, err := store.Create(context.Background(), id); err != nil {
		t.Fatalf("create: %v", err)
	}

	o.runJob(context.Background(), id)

	if got := runner.rounds(); len(got) != 0 {
		t.Fatalf("expected no rounds, got %v", got)
	}
}

func TestEnsureStarted_MutualExclusionPerJob(t *testing.T) {
	o, runner, store := newTestOrchestrator(t, nil)
	id := newTranscribedJob(t, store)

	runner.block = make(chan struct{})

	if !o.EnsureStarted(id) {
		t.Fatalf("first EnsureStarted should start a run")
	}
	if o.EnsureStarted(id) {
		t.Fatalf("second EnsureStarted must not start a duplicate run")
	}

	// A different job is not blocked by the first one.
	other := newTranscribedJob(t, store)
	if !o.EnsureStarted(other) {
		t.Fatalf("other job should start independently")
	}

	close(runner.block)

	deadline := time.After(5 * time.Second)
	for {
		job, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if job.RoundDone(5) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("run did not complete, round5=%q", job.Round5Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The slot frees once the run completes.
	for i := 0; i < 500; i++ {
		if o.EnsureStarted(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("slot never released after completion")
}
