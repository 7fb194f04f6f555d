// Package api 暴露管理面REST接口：凭据开通、网关查询与指令、OTA升级。
package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/api/middleware"
)

// Handlers 管理面Handler集合
type Handlers struct {
	Credentials *CredentialsHandler
	Gateways    *GatewayHandler
	OTA         *OTAHandler
}

// RegisterRoutes 注册管理面路由，/api 组统一走API Key认证
func RegisterRoutes(r *gin.Engine, h Handlers, apiKey string, logger *zap.Logger) {
	if r == nil {
		return
	}
	if apiKey == "" {
		logger.Warn("http api key not configured, all management requests will be rejected")
	}

	api := r.Group("/api")
	api.Use(middleware.APIKeyAuth(apiKey, logger))

	if h.Credentials != nil {
		api.POST("/credentials", h.Credentials.Provision)
		api.POST("/credentials/:identity/activate", h.Credentials.Activate)
		api.POST("/credentials/:identity/revoke", h.Credentials.Revoke)
	}

	if h.Gateways != nil {
		api.GET("/gateways/:gatewayId", h.Gateways.Get)
		api.GET("/gateways/:gatewayId/states", h.Gateways.States)
		api.POST("/gateways/:gatewayId/commands", h.Gateways.SendCommand)
	}

	if h.OTA != nil {
		api.POST("/firmwares", h.OTA.CreateFirmware)
		api.POST("/gateways/:gatewayId/upgrades", h.OTA.CreateUpgrade)
		api.GET("/gateways/:gatewayId/upgrades", h.OTA.ListUpgrades)
		api.GET("/upgrades/:msgId", h.OTA.GetUpgrade)
	}

	logger.Info("management routes registered")
}
