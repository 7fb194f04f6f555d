package gormrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/hanqi-iot/irrigation-server/internal/storage"
	"github.com/hanqi-iot/irrigation-server/internal/storage/models"
)

// Repository 基于 GORM 的 CoreRepo 实现。
// 使用 isTx 标记区分事务上下文，避免嵌套事务重复 Begin/Commit。
type Repository struct {
	db   *gorm.DB
	isTx bool
}

// New 返回一个使用给定 *gorm.DB 的 CoreRepo 实例。
func New(db *gorm.DB) storage.CoreRepo {
	return &Repository{db: db}
}

// WithTx 复用现有事务或开启新事务执行 fn。
func (r *Repository) WithTx(ctx context.Context, fn func(storage.CoreRepo) error) error {
	if r.isTx {
		return fn(r)
	}

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	child := &Repository{db: tx, isTx: true}
	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// ---------- 凭据 ----------

// FindAllCredentials 返回全部 active/pending 凭据。
func (r *Repository) FindAllCredentials(ctx context.Context) ([]models.Credential, error) {
	var records []models.Credential
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{models.CredentialActive, models.CredentialPending}).
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpsertCredential 按 identity 插入或更新密钥，状态重置为 pending。
func (r *Repository) UpsertCredential(ctx context.Context, identity string, secret []byte) (*models.Credential, error) {
	record := &models.Credential{
		Identity: identity,
		Secret:   secret,
		Status:   models.CredentialPending,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "identity"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"secret":     gorm.Expr("excluded.secret"),
				"status":     models.CredentialPending,
				"updated_at": gorm.Expr("NOW()"),
			}),
		}).
		Create(record).Error
	if err != nil {
		return nil, err
	}

	var out models.Credential
	if err := r.db.WithContext(ctx).Where("identity = ?", identity).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCredentialStatus 更新凭据状态。
func (r *Repository) UpdateCredentialStatus(ctx context.Context, identity, status string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Credential{}).
		Where("identity = ?", identity).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---------- 网关 ----------

// EnsureGateway 若不存在则创建网关记录。
func (r *Repository) EnsureGateway(ctx context.Context, gatewayID, productID, deviceType string) (*models.Gateway, error) {
	record := &models.Gateway{
		GatewayID:  gatewayID,
		ProductID:  productID,
		DeviceType: deviceType,
	}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "gateway_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{"updated_at": gorm.Expr("NOW()")}),
		}).
		Create(record).Error
	if err != nil {
		return nil, err
	}
	return r.GetGateway(ctx, gatewayID)
}

// GetGateway 按业务ID查询网关。
func (r *Repository) GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error) {
	var gw models.Gateway
	err := r.db.WithContext(ctx).Where("gateway_id = ?", gatewayID).First(&gw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gw, nil
}

// TouchGatewayLastSeen 刷新网关最近上报时间。
func (r *Repository) TouchGatewayLastSeen(ctx context.Context, gatewayID string, at time.Time) error {
	ts := at
	return r.db.WithContext(ctx).
		Model(&models.Gateway{}).
		Where("gateway_id = ?", gatewayID).
		Updates(map[string]interface{}{
			"last_seen_at": &ts,
			"updated_at":   gorm.Expr("NOW()"),
		}).Error
}

// UpdateGatewayFirmware 更新网关固件版本。
func (r *Repository) UpdateGatewayFirmware(ctx context.Context, gatewayID, version string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Gateway{}).
		Where("gateway_id = ?", gatewayID).
		Updates(map[string]interface{}{
			"firmware_version": version,
			"updated_at":       gorm.Expr("NOW()"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ---------- 固件 ----------

// LatestReleasedFirmware 指定设备类型最新 released 固件。
func (r *Repository) LatestReleasedFirmware(ctx context.Context, deviceType string) (*models.Firmware, error) {
	var fw models.Firmware
	err := r.db.WithContext(ctx).
		Where("device_type = ? AND status = ?", deviceType, models.FirmwareReleased).
		Order("released_at DESC NULLS LAST, id DESC").
		First(&fw).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fw, nil
}

// CreateFirmware 登记固件元数据。
func (r *Repository) CreateFirmware(ctx context.Context, fw *models.Firmware) error {
	return r.db.WithContext(ctx).Create(fw).Error
}

// ---------- 升级任务 ----------

// CreateUpgradeTask 创建升级任务。
func (r *Repository) CreateUpgradeTask(ctx context.Context, task *models.UpgradeTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// GetUpgradeTaskByMsgID 按 msgId 查任务。
func (r *Repository) GetUpgradeTaskByMsgID(ctx context.Context, msgID string) (*models.UpgradeTask, error) {
	var task models.UpgradeTask
	err := r.db.WithContext(ctx).Where("msg_id = ?", msgID).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// SaveUpgradeTask 整行保存任务。
func (r *Repository) SaveUpgradeTask(ctx context.Context, task *models.UpgradeTask) error {
	return r.db.WithContext(ctx).Save(task).Error
}

// ListUpgradeTasks 按网关列升级历史。
func (r *Repository) ListUpgradeTasks(ctx context.Context, gatewayID string, limit, offset int) ([]models.UpgradeTask, error) {
	var tasks []models.UpgradeTask
	q := r.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// ---------- DP状态与流水 ----------

// UpsertDPState 刷新网关DP最新值快照。
func (r *Repository) UpsertDPState(ctx context.Context, gatewayID string, dpID int, value string, reportedAt time.Time) error {
	record := &models.DPState{
		GatewayID:  gatewayID,
		DPID:       dpID,
		Value:      value,
		ReportedAt: reportedAt,
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "gateway_id"}, {Name: "dp_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"value":       gorm.Expr("excluded.value"),
				"reported_at": gorm.Expr("excluded.reported_at"),
				"updated_at":  gorm.Expr("NOW()"),
			}),
		}).
		Create(record).Error
}

// GetDPStates 读取网关全部DP快照。
func (r *Repository) GetDPStates(ctx context.Context, gatewayID string) ([]models.DPState, error) {
	var states []models.DPState
	err := r.db.WithContext(ctx).
		Where("gateway_id = ?", gatewayID).
		Order("dp_id ASC").
		Find(&states).Error
	if err != nil {
		return nil, err
	}
	return states, nil
}

// AppendDPReportLog 批量追加上报流水。
func (r *Repository) AppendDPReportLog(ctx context.Context, logs []models.DPReportLog) error {
	if len(logs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&logs).Error
}
