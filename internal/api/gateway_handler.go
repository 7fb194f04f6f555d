package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/dp"
	"github.com/hanqi-iot/irrigation-server/internal/storage"
)

// commandPublisher 面向网关的下行发布出口（broker提供），主题路由由发布方收口
type commandPublisher interface {
	PublishToGateway(gatewayID string, payload []byte, qos byte) error
}

// onlineChecker 在线判定（broker登记表提供）
type onlineChecker interface {
	IsOnline(gatewayID string, now time.Time) bool
}

// GatewayHandler 网关查询与指令下发
type GatewayHandler struct {
	repo    storage.CoreRepo
	schemas *dp.Registry
	pub     commandPublisher
	online  onlineChecker
	logger  *zap.Logger
}

// NewGatewayHandler 创建网关Handler
func NewGatewayHandler(repo storage.CoreRepo, schemas *dp.Registry, pub commandPublisher, online onlineChecker, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{repo: repo, schemas: schemas, pub: pub, online: online, logger: logger}
}

// Get 网关详情（含在线状态）
func (h *GatewayHandler) Get(c *gin.Context) {
	gatewayID := c.Param("gatewayId")
	gw, err := h.repo.GetGateway(c.Request.Context(), gatewayID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	online := false
	if h.online != nil {
		online = h.online.IsOnline(gatewayID, time.Now())
	}
	c.JSON(http.StatusOK, gin.H{
		"gatewayId":       gw.GatewayID,
		"productId":       gw.ProductID,
		"deviceType":      gw.DeviceType,
		"firmwareVersion": gw.FirmwareVersion,
		"lastSeenAt":      gw.LastSeenAt,
		"online":          online,
	})
}

// States 网关DP快照
func (h *GatewayHandler) States(c *gin.Context) {
	gatewayID := c.Param("gatewayId")
	states, err := h.repo.GetDPStates(c.Request.Context(), gatewayID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := make([]gin.H, 0, len(states))
	for _, s := range states {
		out = append(out, gin.H{
			"dpId":       s.DPID,
			"value":      s.Value,
			"reportedAt": s.ReportedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"gatewayId": gatewayID, "states": out})
}

// SendCommandRequest 下行指令请求：dps键为DP id
type SendCommandRequest struct {
	DPS map[int]interface{} `json:"dps" binding:"required"`
}

// SendCommand 下发DP指令。指令整体校验，任一DP违规则整体拒绝。
func (h *GatewayHandler) SendCommand(c *gin.Context) {
	gatewayID := c.Param("gatewayId")

	var req SendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.DPS) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	gw, err := h.repo.GetGateway(c.Request.Context(), gatewayID)
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	msg, err := h.schemas.BuildCommand(gw.ProductID, gatewayID, req.DPS)
	if err != nil {
		var verr *dp.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":      "validation failed",
				"violations": verr.Violations,
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := msg.Encode()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "encode failed"})
		return
	}
	if err := h.pub.PublishToGateway(gatewayID, payload, 1); err != nil {
		h.logger.Error("command publish failed",
			zap.String("gateway_id", gatewayID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "publish failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"msgId": msg.MsgID})
}
