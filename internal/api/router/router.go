package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feedops/tick-capture/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes.
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "tick-capture-api",
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Create a new capture job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List recent jobs with instrument/field counts
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// DELETE /api/v1/jobs/:job_id - Delete a job (active jobs included)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}
	}

	return r
}
