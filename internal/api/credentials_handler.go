package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/storage"
	"github.com/hanqi-iot/irrigation-server/internal/storage/models"
)

// credentialNotifier 凭据变更广播：本地快照桥直通 + 跨实例事件总线
type credentialNotifier interface {
	OnCredentialUpdated(identity string)
}

// EventPublisher 跨实例凭据变更事件出口（Redis实现，可为nil）
type EventPublisher interface {
	PublishCredentialUpdated(ctx context.Context, identity string) error
}

// CredentialsHandler 凭据开通/激活管理
type CredentialsHandler struct {
	repo     storage.CoreRepo
	notifier credentialNotifier
	events   EventPublisher
	logger   *zap.Logger
}

// NewCredentialsHandler 创建凭据Handler
func NewCredentialsHandler(repo storage.CoreRepo, notifier credentialNotifier, events EventPublisher, logger *zap.Logger) *CredentialsHandler {
	return &CredentialsHandler{repo: repo, notifier: notifier, events: events, logger: logger}
}

// ProvisionRequest 凭据开通请求
type ProvisionRequest struct {
	Identity string `json:"identity" binding:"required"`
	Secret   string `json:"secret" binding:"required,min=16"`
}

// Provision 开通凭据（状态pending，设备可完成握手但不得进入总线）
func (h *CredentialsHandler) Provision(c *gin.Context) {
	var req ProvisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	rec, err := h.repo.UpsertCredential(c.Request.Context(), req.Identity, []byte(req.Secret))
	if err != nil {
		h.logger.Error("provision credential failed",
			zap.String("identity", req.Identity), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to provision"})
		return
	}

	h.broadcast(c.Request.Context(), req.Identity)
	c.JSON(http.StatusCreated, gin.H{
		"identity": rec.Identity,
		"status":   rec.Status,
	})
}

// Activate 激活凭据（准入消息总线）
func (h *CredentialsHandler) Activate(c *gin.Context) {
	identity := c.Param("identity")
	if err := h.repo.UpdateCredentialStatus(c.Request.Context(), identity, models.CredentialActive); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logger.Error("activate credential failed",
			zap.String("identity", identity), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to activate"})
		return
	}

	h.broadcast(c.Request.Context(), identity)
	c.JSON(http.StatusOK, gin.H{"identity": identity, "status": "active"})
}

// Revoke 回退凭据到pending（逐出消息总线，但保留握手能力）
func (h *CredentialsHandler) Revoke(c *gin.Context) {
	identity := c.Param("identity")
	if err := h.repo.UpdateCredentialStatus(c.Request.Context(), identity, models.CredentialPending); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.logger.Error("revoke credential failed",
			zap.String("identity", identity), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke"})
		return
	}

	h.broadcast(c.Request.Context(), identity)
	c.JSON(http.StatusOK, gin.H{"identity": identity, "status": "pending"})
}

// broadcast 变更后通知本地快照桥并广播跨实例事件。
// 事件尽力而为：丢失由快照桥的周期重载自愈。
func (h *CredentialsHandler) broadcast(ctx context.Context, identity string) {
	if h.notifier != nil {
		h.notifier.OnCredentialUpdated(identity)
	}
	if h.events != nil {
		if err := h.events.PublishCredentialUpdated(ctx, identity); err != nil {
			h.logger.Warn("credential event publish failed",
				zap.String("identity", identity), zap.Error(err))
		}
	}
}
