package api

import (
	"github.com/gin-gonic/gin"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	// Health check
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	v1.Use(IdentityMiddleware())
	{
		// Single generation allows guests under the IP quota
		v1.POST("/generate", handler.Generate)

		authed := v1.Group("")
		authed.Use(RequireUser())
		{
			authed.POST("/batch/upload", handler.UploadBatch)
			authed.GET("/batch/:batch_id/status", handler.GetBatchStatus)
			authed.POST("/batch/export", handler.ExportBatch)

			authed.GET("/credits/balance", handler.GetCreditBalance)
			authed.GET("/credits/transactions", handler.ListCreditTransactions)

			authed.GET("/dashboard/stats", handler.GetDashboardStats)
			authed.GET("/dashboard/batches", handler.GetBatchSessions)
		}
	}
}
