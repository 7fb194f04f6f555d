// Package envelope 定义设备上下行消息的统一信封格式。
// 所有上报与指令都符合该形状：msgType 选择载荷含义，msgId 关联指令与其回执。
package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// 消息类型常量
const (
	TypeDPReport    = "dp_report"    // DP数据点上报
	TypeDPCommand   = "dp_command"   // DP下行指令
	TypeOTAUpgrade  = "ota_upgrade"  // OTA升级指令（下行）
	TypeOTAProgress = "ota_progress" // OTA进度上报（上行）
	TypeOTAResult   = "ota_result"   // OTA结果上报（上行）
	TypeEvent       = "event"        // 通用事件上报
)

// Message 统一消息信封
type Message struct {
	MsgType     string          `json:"msgType"`
	MsgID       string          `json:"msgId"`
	DeviceID    string          `json:"deviceId"`
	SubDeviceID string          `json:"subDeviceId,omitempty"`
	Timestamp   int64           `json:"timestamp"`
	Data        json.RawMessage `json:"data"`
}

// Parse 解析JSON字节流为信封
func Parse(payload []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if m.MsgType == "" {
		return nil, fmt.Errorf("parse envelope: missing msgType")
	}
	return &m, nil
}

// Encode 序列化信封
func (m *Message) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return b, nil
}

// DecodeData 将 data 字段解码到目标结构
func (m *Message) DecodeData(v interface{}) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("envelope data is empty")
	}
	return json.Unmarshal(m.Data, v)
}

// NewMsgID 生成消息ID：毫秒时间戳 + UUID短后缀。
// 时间戳前缀便于按时间排查，后缀保证并发下不碰撞。
func NewMsgID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
