package health

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes 挂载探针路由。
// /health/live 只证明进程在响应；/health/ready 供编排系统决定是否引流；
// /health 输出门闸与各依赖明细，给运维定位用。
func RegisterRoutes(r *gin.Engine, agg *Aggregator) {
	r.GET("/health/live", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"alive": true})
	})

	r.GET("/health/ready", func(c *gin.Context) {
		if !agg.Ready(c.Request.Context()) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})

	r.GET("/health", func(c *gin.Context) {
		report := agg.Snapshot(c.Request.Context())
		code := http.StatusOK
		// 降级仍返回200：可以服务，只是要看明细
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, report)
	})
}
