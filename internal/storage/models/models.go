package models

import (
	"time"
)

// 注意：
// - 保持与 db/migrations 的建表语句完全对齐
// - 不使用 gorm.Model，显式声明每个字段，避免隐式 DeletedAt

// 凭据状态
const (
	CredentialPending = "pending"
	CredentialActive  = "active"
)

// Credential 映射 credentials 表：设备接入凭据
type Credential struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 设备身份（MAC或序列号），唯一
	Identity string `gorm:"column:identity;type:text;not null;uniqueIndex"`
	// 预共享密钥
	Secret []byte `gorm:"column:secret;not null"`
	// pending=开通待确认 active=已激活
	Status    string    `gorm:"column:status;type:text;not null;default:pending"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Credential) TableName() string { return "credentials" }

// Gateway 映射 gateways 表：灌溉网关
type Gateway struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 网关业务ID（即MQTT clientId）
	GatewayID string `gorm:"column:gateway_id;type:text;not null;uniqueIndex"`
	// 产品型号（DP Schema键）
	ProductID string `gorm:"column:product_id;type:text;not null"`
	// 设备类型（固件匹配维度）
	DeviceType string `gorm:"column:device_type;type:text;not null"`
	// 当前上报固件版本
	FirmwareVersion string     `gorm:"column:firmware_version;type:text"`
	LastSeenAt      *time.Time `gorm:"column:last_seen_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (Gateway) TableName() string { return "gateways" }

// 固件状态
const (
	FirmwareDraft    = "draft"
	FirmwareReleased = "released"
	FirmwareRevoked  = "revoked"
)

// Firmware 映射 firmwares 表：固件元数据（不含二进制传输细节）
type Firmware struct {
	ID         int64  `gorm:"column:id;primaryKey;autoIncrement"`
	DeviceType string `gorm:"column:device_type;type:text;not null;index:idx_fw_type_status,priority:1"`
	Version    string `gorm:"column:version;type:text;not null"`
	// draft/released/revoked，只有released参与升级匹配
	Status string `gorm:"column:status;type:text;not null;index:idx_fw_type_status,priority:2"`
	// 固件包引用（下载地址或对象存储键）
	FirmwareRef string     `gorm:"column:firmware_ref;type:text;not null"`
	Checksum    string     `gorm:"column:checksum;type:text"`
	SizeBytes   *int64     `gorm:"column:size_bytes"`
	ReleasedAt  *time.Time `gorm:"column:released_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (Firmware) TableName() string { return "firmwares" }

// 升级任务状态机：pending → downloading → verifying → installing → completed|failed
const (
	UpgradePending     = "pending"
	UpgradeDownloading = "downloading"
	UpgradeVerifying   = "verifying"
	UpgradeInstalling  = "installing"
	UpgradeCompleted   = "completed"
	UpgradeFailed      = "failed"
)

// UpgradeTask 映射 upgrade_tasks 表：OTA升级任务，终态后永不删除，充当升级历史
type UpgradeTask struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// 指令消息ID，设备回执以此关联
	MsgID       string `gorm:"column:msg_id;type:text;not null;uniqueIndex"`
	GatewayID   string `gorm:"column:gateway_id;type:text;not null;index"`
	FromVersion string `gorm:"column:from_version;type:text"`
	ToVersion   string `gorm:"column:to_version;type:text;not null"`
	FirmwareRef string `gorm:"column:firmware_ref;type:text;not null"`
	Status      string `gorm:"column:status;type:text;not null;default:pending"`
	// 0..100
	Progress     int        `gorm:"column:progress;not null;default:0"`
	StartTime    *time.Time `gorm:"column:start_time"`
	CompleteTime *time.Time `gorm:"column:complete_time"`
	// 毫秒
	DurationMs   *int64    `gorm:"column:duration_ms"`
	ErrorCode    *string   `gorm:"column:error_code;type:text"`
	ErrorMessage *string   `gorm:"column:error_message;type:text"`
	RetryCount   int       `gorm:"column:retry_count;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UpgradeTask) TableName() string { return "upgrade_tasks" }

// DPState 映射 dp_states 表：网关DP最新值快照（复合主键 gateway_id + dp_id）
type DPState struct {
	GatewayID string `gorm:"column:gateway_id;type:text;primaryKey"`
	DPID      int    `gorm:"column:dp_id;primaryKey"`
	// JSON字符串化的DP取值
	Value      string    `gorm:"column:value;type:text"`
	ReportedAt time.Time `gorm:"column:reported_at;not null"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (DPState) TableName() string { return "dp_states" }

// DPReportLog 映射 dp_report_log 表：上报流水（含被判非法的DP项）
type DPReportLog struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	GatewayID string    `gorm:"column:gateway_id;type:text;not null;index:idx_dplog_gw_time,priority:1"`
	ProductID string    `gorm:"column:product_id;type:text;not null"`
	DPID      int       `gorm:"column:dp_id;not null"`
	Value     string    `gorm:"column:value;type:text"`
	Valid     bool      `gorm:"column:valid;not null"`
	Reason    string    `gorm:"column:reason;type:text"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index:idx_dplog_gw_time,priority:2,sort:desc"`
}

func (DPReportLog) TableName() string { return "dp_report_log" }
