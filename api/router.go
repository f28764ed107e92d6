package api

import (
	"github.com/fyerfyer/report-checker/api/handler"
	"github.com/fyerfyer/report-checker/api/middleware"
	"github.com/gin-gonic/gin"
)

// SetupRouter 设置API路由
// 配置所有的API端点并应用中间件
func SetupRouter(reportHandler *handler.ReportHandler, enableCORS bool) *gin.Engine {
	router := gin.New()

	// 应用全局中间件，追踪ID需要最先设置
	router.Use(middleware.SetTraceID())
	router.Use(middleware.Logger())
	router.Use(middleware.ErrorMiddleware())

	if enableCORS {
		router.Use(Cors())
	}

	// 在调试模式下记录请求体
	if gin.Mode() == gin.DebugMode {
		router.Use(middleware.RequestBodyLog())
	}

	api := router.Group("/api")
	{
		reportGroup := api.Group("/reports")
		{
			// 上传报告 - POST /api/reports
			reportGroup.POST("", reportHandler.UploadReport)

			// 提取报告字段 - GET /api/reports/parse
			reportGroup.GET("/parse", reportHandler.ParseReport)

			// 合规检查 - POST /api/reports/check
			reportGroup.POST("/check", reportHandler.CheckReport)

			// 流式合规检查 - POST /api/reports/check/stream
			reportGroup.POST("/check/stream", reportHandler.CheckReportStream)
		}

		// 健康检查API
		api.GET("/health", reportHandler.Health)
	}

	return router
}

// Cors 跨域资源共享中间件
func Cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Trace-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
