package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hanqi-iot/irrigation-server/internal/storage/models"
)

// ErrNotFound 统一的"记录不存在"哨兵，实现需将底层错误折算为它
var ErrNotFound = errors.New("record not found")

// CoreRepo 面向接入核心的存储抽象。
// 约束：
// - 禁止上层直接写 SQL，统一通过本接口访问
// - 实现需要提供事务封装 WithTx，保证核心路径原子性
// - 接口保持 DB-agnostic（面向模型与基础类型）
type CoreRepo interface {
	// ---------- 事务 ----------
	// WithTx 在单个事务中执行 fn，嵌套调用复用当前事务
	WithTx(ctx context.Context, fn func(repo CoreRepo) error) error

	// ---------- 凭据 ----------
	// FindAllCredentials 返回全部 active/pending 凭据（快照重载入口）
	FindAllCredentials(ctx context.Context) ([]models.Credential, error)
	// UpsertCredential 按 identity 插入或更新密钥（状态重置为 pending）
	UpsertCredential(ctx context.Context, identity string, secret []byte) (*models.Credential, error)
	// UpdateCredentialStatus 更新凭据状态，identity 不存在返回 ErrNotFound
	UpdateCredentialStatus(ctx context.Context, identity, status string) error

	// ---------- 网关 ----------
	// EnsureGateway 若 gatewayID 不存在则创建，返回网关记录
	EnsureGateway(ctx context.Context, gatewayID, productID, deviceType string) (*models.Gateway, error)
	// GetGateway 按业务ID查询网关
	GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error)
	// TouchGatewayLastSeen 刷新网关最近上报时间
	TouchGatewayLastSeen(ctx context.Context, gatewayID string, at time.Time) error
	// UpdateGatewayFirmware 更新网关记录的固件版本（OTA完成后）
	UpdateGatewayFirmware(ctx context.Context, gatewayID, version string) error

	// ---------- 固件 ----------
	// LatestReleasedFirmware 指定设备类型最新 released 固件，不存在返回 ErrNotFound
	LatestReleasedFirmware(ctx context.Context, deviceType string) (*models.Firmware, error)
	// CreateFirmware 登记固件元数据
	CreateFirmware(ctx context.Context, fw *models.Firmware) error

	// ---------- 升级任务 ----------
	// CreateUpgradeTask 创建升级任务
	CreateUpgradeTask(ctx context.Context, task *models.UpgradeTask) error
	// GetUpgradeTaskByMsgID 按 msgId 查任务，不存在返回 ErrNotFound
	GetUpgradeTaskByMsgID(ctx context.Context, msgID string) (*models.UpgradeTask, error)
	// SaveUpgradeTask 整行保存任务（进度/结果回执落库）
	SaveUpgradeTask(ctx context.Context, task *models.UpgradeTask) error
	// ListUpgradeTasks 按网关列升级历史（按创建时间倒序）
	ListUpgradeTasks(ctx context.Context, gatewayID string, limit, offset int) ([]models.UpgradeTask, error)

	// ---------- DP状态与流水 ----------
	// UpsertDPState 刷新网关DP最新值快照
	UpsertDPState(ctx context.Context, gatewayID string, dpID int, value string, reportedAt time.Time) error
	// GetDPStates 读取网关全部DP快照
	GetDPStates(ctx context.Context, gatewayID string) ([]models.DPState, error)
	// AppendDPReportLog 追加上报流水（批量）
	AppendDPReportLog(ctx context.Context, logs []models.DPReportLog) error
}
