package dp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hanqi-iot/irrigation-server/internal/envelope"
)

// CommandData 下行指令data字段（出口只产出扁平对象形式）
type CommandData struct {
	DPS map[string]interface{} `json:"dps"`
}

// BuildCommand 构建下行DP指令信封。
// 先整体校验（任一违规即拒绝，指令不得部分生效），再产出
// {msgId, deviceId, timestamp, data.dps}，dps键为字符串化DP id。
func (r *Registry) BuildCommand(productID, deviceID string, dps map[int]interface{}) (*envelope.Message, error) {
	if err := r.ValidateCommand(productID, dps); err != nil {
		return nil, err
	}

	flat := make(map[string]interface{}, len(dps))
	for id, v := range dps {
		flat[strconv.Itoa(id)] = v
	}
	data, err := json.Marshal(CommandData{DPS: flat})
	if err != nil {
		return nil, fmt.Errorf("build command: %w", err)
	}

	return &envelope.Message{
		MsgType:   envelope.TypeDPCommand,
		MsgID:     envelope.NewMsgID(),
		DeviceID:  deviceID,
		Timestamp: nowUnixMilli(),
		Data:      data,
	}, nil
}
