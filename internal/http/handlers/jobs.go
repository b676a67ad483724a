package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching"
	"github.com/pitchlabs/pitchcoach-backend/internal/coaching/rounds"
	"github.com/pitchlabs/pitchcoach-backend/internal/http/response"
	"github.com/pitchlabs/pitchcoach-backend/internal/pipeline"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/gcp"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

const (
	maxDeckBytes     = 32 << 20
	signedURLExpires = 15 * time.Minute
)

var allowedMediaExts = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".mkv": true, ".m4v": true,
	".wav": true, ".mp3": true, ".m4a": true,
}

type JobHandler struct {
	store      repos.JobStore
	pipe       *pipeline.Pipeline
	bucket     gcp.BucketService
	deck       gcp.DeckReader
	summarizer *rounds.Summarizer
	log        *logger.Logger
}

func NewJobHandler(store repos.JobStore, pipe *pipeline.Pipeline, bucket gcp.BucketService, deck gcp.DeckReader, summarizer *rounds.Summarizer, log *logger.Logger) *JobHandler {
	return &JobHandler{store: store, pipe: pipe, bucket: bucket, deck: deck, summarizer: summarizer, log: log.With("handler", "jobs")}
}

// POST /api/jobs
// Multipart form: "media" (required), "deck" (optional), "calibration"
// (optional JSON object field). Responds immediately with the queued
// job; processing continues in the background.
func (h *JobHandler) CreateJob(c *gin.Context) {
	media, err := c.FormFile("media")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_media", fmt.Errorf("multipart field 'media' is required: %w", err))
		return
	}
	ext := strings.ToLower(filepath.Ext(media.Filename))
	if !allowedMediaExts[ext] {
		response.RespondError(c, http.StatusBadRequest, "unsupported_media_type", fmt.Errorf("unsupported media extension %q", ext))
		return
	}

	deckData, deckMime, err := h.readDeckField(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck", err)
		return
	}

	job, err := h.store.Create(c.Request.Context(), uuid.New())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "job_create_failed", err)
		return
	}

	if raw := strings.TrimSpace(c.PostForm("calibration")); raw != "" {
		var calibration map[string]any
		if err := json.Unmarshal([]byte(raw), &calibration); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_calibration", err)
			return
		}
		if err := h.store.UpdateFields(c.Request.Context(), job.ID, map[string]any{"calibration": json.RawMessage(raw)}); err != nil {
			h.log.Warn("could not store calibration", "job_id", job.ID, "error", err)
		}
	}

	mediaPath := filepath.Join(os.TempDir(), fmt.Sprintf("pitchmedia-%s%s", job.ID, ext))
	if err := c.SaveUploadedFile(media, mediaPath); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "media_store_failed", err)
		return
	}

	h.pipe.Start(pipeline.Request{
		JobID:     job.ID,
		MediaPath: mediaPath,
		MediaExt:  ext,
		DeckData:  deckData,
		DeckMime:  deckMime,
	})
	response.RespondAccepted(c, gin.H{"job": job})
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, repos.ErrJobNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// POST /api/jobs/upload-url
// Body: {"filename": "..."}. Returns a signed PUT URL so large
// recordings skip the API server entirely.
func (h *JobHandler) CreateUploadURL(c *gin.Context) {
	var body struct {
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	ext := strings.ToLower(filepath.Ext(body.Filename))
	if !allowedMediaExts[ext] {
		response.RespondError(c, http.StatusBadRequest, "unsupported_media_type", fmt.Errorf("unsupported media extension %q", ext))
		return
	}
	key := fmt.Sprintf("uploads/%s/media%s", uuid.New(), ext)
	contentType := body.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	url, err := h.bucket.SignedUploadURL(c.Request.Context(), key, contentType, signedURLExpires)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "signed_url_failed", err)
		return
	}
	response.RespondOK(c, gin.H{
		"upload_url": url,
		"key":        key,
		"expires_in": int(signedURLExpires.Seconds()),
	})
}

// POST /api/jobs/process-gcs
// Body: {"key": "uploads/.../media.mp4"}. Starts the pipeline on an
// object the client already uploaded through a signed URL.
func (h *JobHandler) ProcessGCS(c *gin.Context) {
	var body struct {
		Key     string `json:"key"`
		DeckKey string `json:"deck_key"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	key := strings.TrimSpace(body.Key)
	if strings.HasPrefix(key, "gs://") {
		bucket, objectKey, err := gcp.ParseGCSURI(key)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_key", err)
			return
		}
		if bucket != h.bucket.Bucket() {
			response.RespondError(c, http.StatusBadRequest, "invalid_key", fmt.Errorf("object lives outside the media bucket"))
			return
		}
		key = objectKey
	}
	if key == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_key", fmt.Errorf("key is required"))
		return
	}

	var deckData []byte
	var deckMime string
	if deckKey := strings.TrimSpace(body.DeckKey); deckKey != "" {
		text, err := h.bucket.DownloadText(c.Request.Context(), deckKey)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "deck_fetch_failed", err)
			return
		}
		deckData = []byte(text)
		deckMime = mimeForExt(filepath.Ext(deckKey))
	}

	job, err := h.store.Create(c.Request.Context(), uuid.New())
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "job_create_failed", err)
		return
	}
	h.pipe.Start(pipeline.Request{
		JobID:    job.ID,
		MediaKey: key,
		MediaExt: filepath.Ext(key),
		DeckData: deckData,
		DeckMime: deckMime,
	})
	response.RespondAccepted(c, gin.H{"job": job})
}

// POST /api/jobs/:id/deck
// Multipart form: "deck". Extracts slide text for an existing job so a
// founder can attach the deck after the recording is processed.
func (h *JobHandler) UploadDeck(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if _, err := h.store.Get(c.Request.Context(), jobID); err != nil {
		response.RespondError(c, http.StatusNotFound, "job_not_found", err)
		return
	}
	if h.deck == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "deck_reader_unavailable", fmt.Errorf("no document processor is configured"))
		return
	}

	data, mime, err := h.readDeckField(c)
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_deck", err)
		return
	}
	if len(data) == 0 {
		response.RespondError(c, http.StatusBadRequest, "missing_deck", fmt.Errorf("multipart field 'deck' is required"))
		return
	}

	text, err := h.deck.ExtractDeckText(c.Request.Context(), data, mime)
	if err != nil {
		response.RespondError(c, http.StatusBadGateway, "deck_extraction_failed", err)
		return
	}
	if err := h.store.UpdateFields(c.Request.Context(), jobID, map[string]any{"deck_text": text}); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "job_update_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"deck_text": text})
}

// PUT /api/jobs/:id/calibration
// Body: arbitrary JSON object consumed by body-language extraction.
func (h *JobHandler) SetCalibration(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
		return
	}
	var calibration map[string]any
	if err := json.Unmarshal(raw, &calibration); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_calibration", err)
		return
	}
	if err := h.store.UpdateFields(c.Request.Context(), jobID, map[string]any{"calibration": json.RawMessage(raw)}); err != nil {
		if errors.Is(err, repos.ErrJobNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "job_update_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"calibration": calibration})
}

// POST /api/jobs/:id/summarize
// Generates and persists the executive summary for a transcribed job,
// returning the payload. Repeated calls regenerate it.
func (h *JobHandler) Summarize(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if h.summarizer == nil {
		response.RespondError(c, http.StatusServiceUnavailable, "summarizer_unavailable", fmt.Errorf("no language model client is configured"))
		return
	}
	payload, err := h.summarizer.Run(c.Request.Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, repos.ErrJobNotFound):
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
		case errors.Is(err, coaching.ErrMissingTranscript):
			response.RespondError(c, http.StatusConflict, "transcript_not_ready", err)
		default:
			response.RespondError(c, http.StatusBadGateway, "summary_failed", err)
		}
		return
	}
	response.RespondOK(c, gin.H{"job_id": jobID, "summary_json": payload})
}

func (h *JobHandler) readDeckField(c *gin.Context) ([]byte, string, error) {
	deck, err := c.FormFile("deck")
	if err != nil {
		return nil, "", nil
	}
	if deck.Size > maxDeckBytes {
		return nil, "", fmt.Errorf("deck exceeds %d bytes", maxDeckBytes)
	}
	f, err := deck.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxDeckBytes+1))
	if err != nil {
		return nil, "", err
	}
	return data, mimeForExt(filepath.Ext(deck.Filename)), nil
}

func mimeForExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".pdf":
		return "application/pdf"
	case ".pptx":
		return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	case ".txt":
		return "text/plain"
	default:
		return "application/pdf"
	}
}
