package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/ota"
	"github.com/hanqi-iot/irrigation-server/internal/storage"
	"github.com/hanqi-iot/irrigation-server/internal/storage/models"
)

// OTAHandler OTA升级管理
type OTAHandler struct {
	orch   *ota.Orchestrator
	repo   storage.CoreRepo
	logger *zap.Logger
}

// NewOTAHandler 创建OTA Handler
func NewOTAHandler(orch *ota.Orchestrator, repo storage.CoreRepo, logger *zap.Logger) *OTAHandler {
	return &OTAHandler{orch: orch, repo: repo, logger: logger}
}

// CreateFirmwareRequest 固件登记请求
type CreateFirmwareRequest struct {
	DeviceType  string `json:"deviceType" binding:"required"`
	Version     string `json:"version" binding:"required"`
	FirmwareRef string `json:"firmwareRef" binding:"required"`
	Checksum    string `json:"checksum"`
	SizeBytes   *int64 `json:"sizeBytes"`
	Released    bool   `json:"released"`
}

// CreateFirmware 登记固件元数据
func (h *OTAHandler) CreateFirmware(c *gin.Context) {
	var req CreateFirmwareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	fw := &models.Firmware{
		DeviceType:  req.DeviceType,
		Version:     req.Version,
		Status:      models.FirmwareDraft,
		FirmwareRef: req.FirmwareRef,
		Checksum:    req.Checksum,
		SizeBytes:   req.SizeBytes,
	}
	if req.Released {
		now := time.Now()
		fw.Status = models.FirmwareReleased
		fw.ReleasedAt = &now
	}

	if err := h.repo.CreateFirmware(c.Request.Context(), fw); err != nil {
		h.logger.Error("create firmware failed",
			zap.String("device_type", req.DeviceType),
			zap.String("version", req.Version),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": fw.ID, "status": fw.Status})
}

// CreateUpgrade 发起网关固件升级
func (h *OTAHandler) CreateUpgrade(c *gin.Context) {
	gatewayID := c.Param("gatewayId")

	task, err := h.orch.CreateUpgrade(c.Request.Context(), gatewayID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "gateway not found"})
		return
	case errors.Is(err, ota.ErrNoFirmware):
		c.JSON(http.StatusConflict, gin.H{"error": "no released firmware for device type"})
		return
	case errors.Is(err, ota.ErrAlreadyCurrent):
		c.JSON(http.StatusConflict, gin.H{"error": "firmware already current"})
		return
	case err != nil:
		// 任务可能已落库但指令未送达
		if task != nil {
			c.JSON(http.StatusAccepted, gin.H{
				"msgId":   task.MsgID,
				"status":  task.Status,
				"warning": "upgrade command not delivered",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create upgrade"})
		return
	}

	c.JSON(http.StatusCreated, taskJSON(task))
}

// GetUpgrade 按msgId查升级任务
func (h *OTAHandler) GetUpgrade(c *gin.Context) {
	task, err := h.orch.Task(c.Request.Context(), c.Param("msgId"))
	if errors.Is(err, ota.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, taskJSON(task))
}

// ListUpgrades 网关升级历史
func (h *OTAHandler) ListUpgrades(c *gin.Context) {
	gatewayID := c.Param("gatewayId")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	tasks, err := h.orch.History(c.Request.Context(), gatewayID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	out := make([]gin.H, 0, len(tasks))
	for i := range tasks {
		out = append(out, taskJSON(&tasks[i]))
	}
	c.JSON(http.StatusOK, gin.H{"gatewayId": gatewayID, "tasks": out})
}

func taskJSON(t *models.UpgradeTask) gin.H {
	return gin.H{
		"msgId":        t.MsgID,
		"gatewayId":    t.GatewayID,
		"fromVersion":  t.FromVersion,
		"toVersion":    t.ToVersion,
		"status":       t.Status,
		"progress":     t.Progress,
		"startTime":    t.StartTime,
		"completeTime": t.CompleteTime,
		"durationMs":   t.DurationMs,
		"errorCode":    t.ErrorCode,
		"errorMessage": t.ErrorMessage,
		"createdAt":    t.CreatedAt,
	}
}
