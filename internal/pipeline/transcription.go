package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/domain"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/envutil"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/gcp"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/localmedia"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

// videoUploadJoinTimeout bounds how long the pipeline waits for the
// original-media upload before moving on without it.
const videoUploadJoinTimeout = 30 * time.Second

// Request describes one transcription run. Either MediaPath (a local
// upload) or MediaKey (an object already in the bucket) must be set.
type Request struct {
	JobID     uuid.UUID
	MediaPath string
	MediaKey  string
	MediaExt  string
	DeckData  []byte
	DeckMime  string
}

// Pipeline drives a job from queued media to transcript, derived
// metrics, and durable artifacts.
type Pipeline struct {
	store  repos.JobStore
	bucket gcp.BucketService
	speech gcp.SpeechService
	tools  localmedia.Tools
	deck   gcp.DeckReader
	video  gcp.VideoService
	log    *logger.Logger

	cleanupOutput bool
	cleanupAudio  bool
}

// New builds the pipeline. deck and video are optional; when nil the
// corresponding best-effort stages are skipped.
func New(store repos.JobStore, bucket gcp.BucketService, speech gcp.SpeechService, tools localmedia.Tools, deck gcp.DeckReader, video gcp.VideoService, log *logger.Logger) (*Pipeline, error) {
	if store == nil || bucket == nil || speech == nil || tools == nil {
		return nil, fmt.Errorf("store, bucket, speech, and tools required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Pipeline{
		store:         store,
		bucket:        bucket,
		speech:        speech,
		tools:         tools,
		deck:          deck,
		video:         video,
		log:           log.With("service", "pipeline"),
		cleanupOutput: envutil.Bool("GCS_CLEANUP_OUTPUT", true),
		cleanupAudio:  envutil.Bool("GCS_CLEANUP_AUDIO", true),
	}, nil
}

// Start runs the pipeline on a detached goroutine with its own error
// boundary; the caller returns to the client immediately and polls the
// job for progress.
func (p *Pipeline) Start(req Request) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("pipeline panic", "job_id", req.JobID, "panic", r)
				p.update(context.Background(), req.JobID, map[string]any{
					"status":   domain.JobStatusFailed,
					"progress": 100,
					"error":    fmt.Sprintf("internal pipeline panic: %v", r),
				})
			}
		}()
		_ = p.Run(context.Background(), req)
	}()
}

// Run executes the full pipeline synchronously. Any uncaught stage
// error marks the job failed; best-effort stages only log.
func (p *Pipeline) Run(ctx context.Context, req Request) error {
	log := p.log.With("job_id", req.JobID)
	started := time.Now()

	tmpDir, err := os.MkdirTemp("", "pitchjob-*")
	if err != nil {
		p.fail(ctx, req.JobID, fmt.Errorf("create temp dir: %w", err))
		return err
	}

	audioKey := fmt.Sprintf("jobs/%s/audio.wav", req.JobID)
	outputPrefix := fmt.Sprintf("jobs/%s/stt_v2_output/", req.JobID)
	defer func() {
		p.cleanup(req.JobID, audioKey, outputPrefix)
		if req.MediaPath != "" {
			_ = os.Remove(req.MediaPath)
		}
		_ = os.RemoveAll(tmpDir)
	}()

	if err := p.run(ctx, req, tmpDir, audioKey, outputPrefix, log); err != nil {
		p.fail(ctx, req.JobID, err)
		return err
	}
	log.Info("pipeline done", "elapsed", time.Since(started).String())
	return nil
}

func (p *Pipeline) run(ctx context.Context, req Request, tmpDir, audioKey, outputPrefix string, log *logger.Logger) error {
	// Optional deck extraction first; failure here should not cost the
	// founder their transcript.
	if len(req.DeckData) > 0 && p.deck != nil {
		p.update(ctx, req.JobID, map[string]any{
			"status": domain.JobStatusDeckProcessing, "progress": 10,
		})
		if text, err := p.deck.ExtractDeckText(ctx, req.DeckData, req.DeckMime); err != nil {
			log.Warn("deck text extraction failed", "error", err)
		} else {
			p.update(ctx, req.JobID, map[string]any{"deck_text": text})
		}
	}

	p.update(ctx, req.JobID, map[string]any{
		"status": domain.JobStatusTranscribing, "progress": 10,
	})

	mediaPath, videoKey, join, err := p.stageMedia(ctx, req, tmpDir, log)
	if err != nil {
		return err
	}

	// Critical path of Fork A: canonical audio conversion.
	wavPath := filepath.Join(tmpDir, "audio.wav")
	if _, err := p.tools.ConvertToWAV16kMono(ctx, mediaPath, wavPath); err != nil {
		return err
	}

	p.update(ctx, req.JobID, map[string]any{
		"status": domain.JobStatusUploadingAudio, "progress": 20,
	})
	if err := p.bucket.UploadFile(ctx, audioKey, wavPath, "audio/wav"); err != nil {
		return err
	}

	result, err := p.transcribe(ctx, req.JobID, wavPath, audioKey, outputPrefix, tmpDir, log)
	if err != nil {
		return err
	}

	// Progress never moves backwards within a run; metrics summarization
	// happens after parsing, which already reported 80.
	p.update(ctx, req.JobID, map[string]any{
		"status": domain.JobStatusSummarizing, "progress": 80,
	})
	metrics := coaching.ComputeDerivedMetrics(result.Words)
	metrics.SentencePacing = coaching.ComputeSentencePacing(result.Words)

	p.extractSignals(ctx, req.JobID, wavPath, videoKey, join, result.Words, &metrics, log)

	// Bounded join on the original-media upload; the transcript is
	// already usable, so a timeout here is only a warning.
	if join != nil {
		if uploadErr, ok := join.wait(videoUploadJoinTimeout); !ok {
			log.Warn("video upload still running after bounded wait, continuing without it")
		} else if uploadErr != nil {
			log.Warn("video upload failed", "error", uploadErr)
		} else {
			p.update(ctx, req.JobID, map[string]any{"video_gcs_uri": p.bucket.URI(videoKey)})
		}
	}

	p.update(ctx, req.JobID, map[string]any{"progress": 90})
	p.writeArtifacts(ctx, req.JobID, result, &metrics, log)

	rawWords, err := domain.JSONFrom(result.Words)
	if err != nil {
		return fmt.Errorf("encode words: %w", err)
	}
	rawSegments, err := domain.JSONFrom(result.Segments)
	if err != nil {
		return fmt.Errorf("encode segments: %w", err)
	}
	rawMetrics, err := domain.JSONFrom(metrics)
	if err != nil {
		return fmt.Errorf("encode derived metrics: %w", err)
	}
	rawResult, err := domain.JSONFrom(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	p.update(ctx, req.JobID, map[string]any{
		"status":               domain.JobStatusDone,
		"progress":             100,
		"transcript_full_text": result.FullText,
		"words":                rawWords,
		"segments":             rawSegments,
		"derived_metrics":      rawMetrics,
		"result":               rawResult,
		"error":                nil,
	})
	return nil
}

// stageMedia resolves the local media path and kicks off the parallel
// original-media upload (Fork A's non-fatal branch). When the media
// already lives in the bucket there is nothing to upload; it is
// downloaded for local processing instead.
func (p *Pipeline) stageMedia(ctx context.Context, req Request, tmpDir string, log *logger.Logger) (mediaPath, videoKey string, join *uploadJoin, err error) {
	ext := req.MediaExt
	if ext == "" && req.MediaPath != "" {
		ext = filepath.Ext(req.MediaPath)
	}
	if ext == "" && req.MediaKey != "" {
		ext = filepath.Ext(req.MediaKey)
	}
	if ext == "" {
		ext = ".mp4"
	}
	videoKey = fmt.Sprintf("jobs/%s/video%s", req.JobID, ext)

	if req.MediaKey != "" {
		mediaPath = filepath.Join(tmpDir, "media"+ext)
		if err := p.bucket.DownloadToFile(ctx, req.MediaKey, mediaPath); err != nil {
			return "", "", nil, fmt.Errorf("download media %s: %w", req.MediaKey, err)
		}
		p.update(ctx, req.JobID, map[string]any{"video_gcs_uri": p.bucket.URI(req.MediaKey)})
		return mediaPath, req.MediaKey, nil, nil
	}

	if req.MediaPath == "" {
		return "", "", nil, fmt.Errorf("no media supplied for job %s", req.JobID)
	}

	join = newUploadJoin()
	go func() {
		join.ch <- p.bucket.UploadFile(ctx, videoKey, req.MediaPath, contentTypeForExt(ext))
	}()
	return req.MediaPath, videoKey, join, nil
}

// transcribe runs speech recognition, splitting long audio into
// time-bounded chunks transcribed independently and merged back onto
// one timeline.
func (p *Pipeline) transcribe(ctx context.Context, jobID uuid.UUID, wavPath, audioKey, outputPrefix, tmpDir string, log *logger.Logger) (*domain.TranscriptResult, error) {
	duration, err := p.tools.ProbeDurationSeconds(ctx, wavPath)
	if err != nil {
		log.Warn("could not probe audio duration, assuming single request", "error", err)
		duration = 0
	}

	p.update(ctx, jobID, map[string]any{
		"status": domain.JobStatusSTTBatch, "progress": 40,
	})

	if duration <= chunkSeconds {
		if err := p.speech.RunBatch(ctx, p.bucket.URI(audioKey), p.bucket.URI(outputPrefix)); err != nil {
			return nil, err
		}
		p.update(ctx, jobID, map[string]any{
			"status": domain.JobStatusWaitingForSTT, "progress": 60,
		})
		result, err := p.speech.CollectOutput(ctx, p.bucket.URI(outputPrefix))
		if err != nil {
			return nil, err
		}
		p.update(ctx, jobID, map[string]any{
			"status": domain.JobStatusParsingResults, "progress": 80,
		})
		return result, nil
	}

	log.Info("audio exceeds single-request duration, chunking",
		"duration_sec", duration, "chunk_sec", chunkSeconds)

	var parts []chunkPart
	for i := 0; ; i++ {
		offset := float64(i) * chunkSeconds
		if offset >= duration {
			break
		}
		chunkPath := filepath.Join(tmpDir, fmt.Sprintf("chunk_%03d.wav", i))
		if _, err := p.tools.CutWAV(ctx, wavPath, chunkPath, offset, chunkSeconds); err != nil {
			return nil, err
		}
		chunkKey := fmt.Sprintf("jobs/%s/stt_v2_chunks/chunk_%03d.wav", jobID, i)
		if err := p.bucket.UploadFile(ctx, chunkKey, chunkPath, "audio/wav"); err != nil {
			return nil, err
		}
		chunkOutput := fmt.Sprintf("%schunk_%03d/", outputPrefix, i)
		if err := p.speech.RunBatch(ctx, p.bucket.URI(chunkKey), p.bucket.URI(chunkOutput)); err != nil {
			return nil, err
		}
		parts = append(parts, chunkPart{OffsetSec: offset, Result: nil})
	}

	p.update(ctx, jobID, map[string]any{
		"status": domain.JobStatusWaitingForSTT, "progress": 60,
	})
	for i := range parts {
		chunkOutput := fmt.Sprintf("%schunk_%03d/", outputPrefix, i)
		result, err := p.speech.CollectOutput(ctx, p.bucket.URI(chunkOutput))
		if err != nil {
			return nil, err
		}
		parts[i].Result = result
	}

	p.update(ctx, jobID, map[string]any{
		"status": domain.JobStatusParsingResults, "progress": 80,
	})
	return MergeChunkParts(parts), nil
}

// extractSignals runs Fork B: tone timeline from the canonical audio
// and body language from the stored media, in parallel, both
// best-effort. Whatever succeeded is merged into the metrics.
func (p *Pipeline) extractSignals(ctx context.Context, jobID uuid.UUID, wavPath, videoKey string, join *uploadJoin, words []domain.Word, metrics *domain.DerivedMetrics, log *logger.Logger) {
	var g errgroup.Group
	var mu sync.Mutex

	g.Go(func() error {
		frames, err := coaching.AnalyzeWAVEnergy(wavPath)
		if err != nil {
			log.Warn("tone timeline extraction failed", "error", err)
			return nil
		}
		timeline := coaching.BuildEnergyTimeline(frames, words)
		mu.Lock()
		metrics.EnergyTimeline = timeline
		mu.Unlock()
		return nil
	})

	g.Go(func() error {
		if p.video == nil {
			return nil
		}
		// Needs the media durably stored first.
		if join != nil {
			if uploadErr, ok := join.wait(videoUploadJoinTimeout); !ok || uploadErr != nil {
				log.Warn("skipping body language extraction, video not available",
					"upload_ok", ok, "error", uploadErr)
				return nil
			}
		}
		calibration := p.loadCalibration(ctx, jobID)
		bl, err := p.video.ExtractBodyLanguage(ctx, p.bucket.URI(videoKey), calibration)
		if err != nil {
			log.Warn("body language extraction failed", "error", err)
			return nil
		}
		mu.Lock()
		metrics.BodyLanguage = bl
		mu.Unlock()
		return nil
	})

	_ = g.Wait()
}

func (p *Pipeline) loadCalibration(ctx context.Context, jobID uuid.UUID) map[string]any {
	job, err := p.store.Get(ctx, jobID)
	if err != nil || len(job.Calibration) == 0 {
		return nil
	}
	var calibration map[string]any
	if err := json.Unmarshal(job.Calibration, &calibration); err != nil {
		return nil
	}
	return calibration
}

// writeArtifacts persists the durable artifact set. Failure is recorded
// on the job but never fails the pipeline.
func (p *Pipeline) writeArtifacts(ctx context.Context, jobID uuid.UUID, result *domain.TranscriptResult, metrics *domain.DerivedMetrics, log *logger.Logger) {
	prefix := fmt.Sprintf("jobs/%s/artifacts/", jobID)
	err := func() error {
		if err := p.bucket.UploadText(ctx, prefix+"transcript.txt", result.FullText); err != nil {
			return err
		}
		if err := p.bucket.UploadJSON(ctx, prefix+"words.json", result.Words); err != nil {
			return err
		}
		if err := p.bucket.UploadJSON(ctx, prefix+"diarization.json", buildDiarizationPayload(result.Words)); err != nil {
			return err
		}
		meta := map[string]any{
			"job_id":       jobID,
			"duration_sec": metrics.DurationSec,
			"total_words":  metrics.TotalWords,
			"wpm":          metrics.WPM,
			"segments":     len(result.Segments),
			"created_at":   time.Now().UTC().Format(time.RFC3339),
		}
		return p.bucket.UploadJSON(ctx, prefix+"meta.json", meta)
	}()
	if err != nil {
		log.Warn("artifact write failed", "error", err)
		p.update(ctx, jobID, map[string]any{"artifacts_error": err.Error()})
	}
}

func (p *Pipeline) fail(ctx context.Context, jobID uuid.UUID, err error) {
	p.log.Error("pipeline failed", "job_id", jobID, "error", err)
	p.update(ctx, jobID, map[string]any{
		"status":   domain.JobStatusFailed,
		"progress": 100,
		"error":    err.Error(),
	})
}

// update applies a partial job update, logging instead of failing when
// the store rejects it. Progress only moves forward within a run.
func (p *Pipeline) update(ctx context.Context, jobID uuid.UUID, fields map[string]any) {
	if err := p.store.UpdateFields(ctx, jobID, fields); err != nil {
		p.log.Warn("job update failed", "job_id", jobID, "error", err)
	}
}

// cleanup removes scratch storage objects best-effort. Never raises.
func (p *Pipeline) cleanup(jobID uuid.UUID, audioKey, outputPrefix string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if p.cleanupOutput {
		if err := p.bucket.DeletePrefix(ctx, outputPrefix); err != nil {
			p.log.Warn("could not delete stt scratch output", "job_id", jobID, "error", err)
		}
		if err := p.bucket.DeletePrefix(ctx, fmt.Sprintf("jobs/%s/stt_v2_chunks/", jobID)); err != nil {
			p.log.Warn("could not delete stt chunk objects", "job_id", jobID, "error", err)
		}
	}
	if p.cleanupAudio {
		if err := p.bucket.DeleteObject(ctx, audioKey); err != nil {
			p.log.Warn("could not delete intermediate audio", "job_id", jobID, "error", err)
		}
	}
}

// uploadJoin lets two stages wait on the same one-shot upload result
// with independent bounded timeouts.
type uploadJoin struct {
	ch   chan error
	mu   sync.Mutex
	done bool
	err  error
}

func newUploadJoin() *uploadJoin {
	return &uploadJoin{ch: make(chan error, 1)}
}

// wait blocks up to timeout for the upload to settle. ok is false when
// the upload is still running.
func (u *uploadJoin) wait(timeout time.Duration) (err error, ok bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return u.err, true
	}
	select {
	case e := <-u.ch:
		u.done = true
		u.err = e
		return e, true
	case <-time.After(timeout):
		return nil, false
	}
}

func contentTypeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".mov":
		return "video/quicktime"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	default:
		return "application/octet-stream"
	}
}
