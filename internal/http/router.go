package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/pitchlabs/pitchcoach-backend/internal/http/handlers"
	httpMW "github.com/pitchlabs/pitchcoach-backend/internal/http/middleware"
	"github.com/pitchlabs/pitchcoach-backend/internal/platform/logger"
)

type RouterConfig struct {
	JobHandler      *httpH.JobHandler
	FeedbackHandler *httpH.FeedbackHandler
	HealthHandler   *httpH.HealthHandler

	Log *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("pitchcoach-backend"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)

	api := r.Group("/api")
	{
		api.POST("/jobs", cfg.JobHandler.CreateJob)
		api.POST("/jobs/upload-url", cfg.JobHandler.CreateUploadURL)
		api.POST("/jobs/process-gcs", cfg.JobHandler.ProcessGCS)
		api.GET("/jobs/:id", cfg.JobHandler.GetJob)
		api.POST("/jobs/:id/deck", cfg.JobHandler.UploadDeck)
		api.PUT("/jobs/:id/calibration", cfg.JobHandler.SetCalibration)
		api.POST("/jobs/:id/summarize", cfg.JobHandler.Summarize)

		api.POST("/jobs/:id/feedback", cfg.FeedbackHandler.StartFeedback)
		api.GET("/jobs/:id/feedback", cfg.FeedbackHandler.GetFeedback)
		api.GET("/jobs/:id/feedback/rounds/:round", cfg.FeedbackHandler.GetRound)
	}

	return r
}
