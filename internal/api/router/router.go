package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/metriport/metriport-sub005/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(logger *slog.Logger, imports *handler.ImportHandler) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "patient-import-api",
		})
	})

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/imports")
		{
			// POST /api/v1/imports - Upload a CSV and start an import
			jobs.POST("", imports.CreateImport)

			// GET /api/v1/imports/:job_id - Get import job state
			jobs.GET("/:job_id", imports.GetImport)

			// GET /api/v1/imports/:job_id/rows - List row states
			jobs.GET("/:job_id/rows", imports.ListRows)

			// GET /api/v1/imports/:job_id/rows/:row_number/mapping - Get the created patient of a row
			jobs.GET("/:job_id/rows/:row_number/mapping", imports.GetMapping)

			// GET /api/v1/imports/:job_id/results - Download the results CSV
			jobs.GET("/:job_id/results", imports.GetResults)
		}
	}

	return r
}
