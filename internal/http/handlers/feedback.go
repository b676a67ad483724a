package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pitchlabs/pitchcoach-backend/internal/coaching/orchestrator"
	"github.com/pitchlabs/pitchcoach-backend/internal/http/response"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
	"github.com/pitchlabs/pitchcoach-backend/internal/repos"
)

type FeedbackHandler struct {
	store repos.JobStore
	orch  *orchestrator.Orchestrator
	log   *logger.Logger
}

func NewFeedbackHandler(store repos.JobStore, orch *orchestrator.Orchestrator, log *logger.Logger) *FeedbackHandler {
	return &FeedbackHandler{store: store, orch: orch, log: log.With("handler", "feedback")}
}

// POST /api/jobs/:id/feedback
// Kicks off the feedback rounds for a transcribed job. Safe to call
// repeatedly: a run already in flight is not duplicated.
func (h *FeedbackHandler) StartFeedback(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	if _, err := h.store.Get(c.Request.Context(), jobID); err != nil {
		if errors.Is(err, repos.ErrJobNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	started := h.orch.EnsureStarted(jobID)
	response.RespondAccepted(c, gin.H{"job_id": jobID, "started": started})
}

// GET /api/jobs/:id/feedback
// Returns the state of all five rounds.
func (h *FeedbackHandler) GetFeedback(c *gin.Context) {
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
	rounds := make([]any, 0, 5)
	for n := 1; n <= 5; n++ {
		rounds = append(rounds, job.Round(n))
	}
	response.RespondOK(c, gin.H{"job_id": jobID, "rounds": rounds})
}

// GET /api/jobs/:id/feedback/rounds/:round
func (h *FeedbackHandler) GetRound(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	n, err := strconv.Atoi(c.Param("round"))
	if err != nil || n < 1 || n > 5 {
		response.RespondError(c, http.StatusBadRequest, "invalid_round", fmt.Errorf("round must be 1-5"))
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
	response.RespondOK(c, gin.H{"job_id": jobID, "round": job.Round(n)})
}
