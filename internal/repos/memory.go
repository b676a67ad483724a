package repos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
)

// memoryJobStore keeps jobs in a map behind a single mutex. It is used
// in tests and as the fallback when no database is configured.
type memoryJobStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*domain.Job
}

func NewMemoryJobStore() JobStore {
	return &memoryJobStore{jobs: make(map[uuid.UUID]*domain.Job)}
}

func (s *memoryJobStore) Create(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return nil, fmt.Errorf("job already exists: %s", id)
	}
	job := newQueuedJob(id)
	s.jobs[id] = job
	return snapshot(job), nil
}

func (s *memoryJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return snapshot(job), nil
}

func (s *memoryJobStore) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	for k, v := range fields {
		if err := applyField(job, k, v); err != nil {
			return err
		}
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memoryJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(s.jobs, id)
	return nil
}

// snapshot returns a copy the caller can read without holding the lock.
func snapshot(j *domain.Job) *domain.Job {
	c := *j
	c.Words = cloneJSON(j.Words)
	c.Segments = cloneJSON(j.Segments)
	c.DerivedMetrics = cloneJSON(j.DerivedMetrics)
	c.Result = cloneJSON(j.Result)
	c.Calibration = cloneJSON(j.Calibration)
	c.SummaryJSON = cloneJSON(j.SummaryJSON)
	c.Round1Payload = cloneJSON(j.Round1Payload)
	c.Round2Payload = cloneJSON(j.Round2Payload)
	c.Round3Payload = cloneJSON(j.Round3Payload)
	c.Round4Payload = cloneJSON(j.Round4Payload)
	c.Round5Payload = cloneJSON(j.Round5Payload)
	return &c
}

func cloneJSON(in datatypes.JSON) datatypes.JSON {
	if in == nil {
		return nil
	}
	out := make(datatypes.JSON, len(in))
	copy(out, in)
	return out
}

func applyField(j *domain.Job, key string, val any) error {
	switch key {
	case "status":
		j.Status = asString(val)
	case "progress":
		j.Progress = asInt(val)
	case "error":
		j.Error = asStringPtr(val)
	case "transcript_full_text":
		j.TranscriptFullText = asStringPtr(val)
	case "words":
		j.Words = asJSON(val)
	case "segments":
		j.Segments = asJSON(val)
	case "derived_metrics":
		j.DerivedMetrics = asJSON(val)
	case "result":
		j.Result = asJSON(val)
	case "deck_text":
		j.DeckText = asStringPtr(val)
	case "video_gcs_uri":
		j.VideoGCSURI = asStringPtr(val)
	case "calibration":
		j.Calibration = asJSON(val)
	case "artifacts_error":
		j.ArtifactsError = asStringPtr(val)
	case "summary_json":
		j.SummaryJSON = asJSON(val)
	case "summary_error":
		j.SummaryError = asStringPtr(val)
	default:
		return applyRoundField(j, key, val)
	}
	return nil
}

func applyRoundField(j *domain.Job, key string, val any) error {
	if !strings.HasPrefix(key, "round") || len(key) < 7 || key[6] != '_' {
		return fmt.Errorf("unknown job field %q", key)
	}
	n := int(key[5] - '0')
	if n < 1 || n > 5 {
		return fmt.Errorf("unknown job field %q", key)
	}
	status, version, payload, errPtr := roundSlots(j, n)
	switch key[7:] {
	case "status":
		*status = asString(val)
	case "version":
		*version = asStringPtr(val)
	case "payload":
		*payload = asJSON(val)
	case "error":
		*errPtr = asStringPtr(val)
	default:
		return fmt.Errorf("unknown job field %q", key)
	}
	return nil
}

func roundSlots(j *domain.Job, n int) (*string, **string, *datatypes.JSON, **string) {
	switch n {
	case 1:
		return &j.Round1Status, &j.Round1Version, &j.Round1Payload, &j.Round1Error
	case 2:
		return &j.Round2Status, &j.Round2Version, &j.Round2Payload, &j.Round2Error
	case 3:
		return &j.Round3Status, &j.Round3Version, &j.Round3Payload, &j.Round3Error
	case 4:
		return &j.Round4Status, &j.Round4Version, &j.Round4Payload, &j.Round4Error
	default:
		return &j.Round5Status, &j.Round5Version, &j.Round5Payload, &j.Round5Error
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int32:
		return int(t)
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return 0
	}
}

func asStringPtr(v any) *string {
	switch t := v.(type) {
	case nil:
		return nil
	case *string:
		return t
	case string:
		return &t
	default:
		s := fmt.Sprint(v)
		return &s
	}
}

func asJSON(v any) datatypes.JSON {
	switch t := v.(type) {
	case nil:
		return nil
	case datatypes.JSON:
		return t
	case []byte:
		return datatypes.JSON(t)
	case json.RawMessage:
		return datatypes.JSON(t)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return datatypes.JSON(b)
	}
}
