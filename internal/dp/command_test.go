package dp

import (
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanqi-iot/irrigation-server/internal/envelope"
)

func TestBuildCommand(t *testing.T) {
	reg := testSchema(t)
	msg, err := reg.BuildCommand("prod1", "GW001", map[int]interface{}{
		1:  true,
		17: 1800,
	})
	require.NoError(t, err)
	assert.Equal(t, envelope.TypeDPCommand, msg.MsgType)
	assert.Equal(t, "GW001", msg.DeviceID)
	assert.NotEmpty(t, msg.MsgID)
	assert.Greater(t, msg.Timestamp, int64(0))

	var data CommandData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, true, data.DPS["1"])
	assert.EqualValues(t, 1800, data.DPS["17"])
}

func TestBuildCommandRejectsViolation(t *testing.T) {
	reg := testSchema(t)
	_, err := reg.BuildCommand("prod1", "GW001", map[int]interface{}{105: 1})
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestBuildCommandMsgIDUnique(t *testing.T) {
	reg := testSchema(t)
	a, err := reg.BuildCommand("prod1", "GW001", map[int]interface{}{1: true})
	require.NoError(t, err)
	b, err := reg.BuildCommand("prod1", "GW001", map[int]interface{}{1: false})
	require.NoError(t, err)
	assert.NotEqual(t, a.MsgID, b.MsgID)
}

// 编码器产物回灌校验必须零违规：合法指令不会被自己的编码器拒绝
func TestBuildCommandRoundTrip(t *testing.T) {
	reg := testSchema(t)
	msg, err := reg.BuildCommand("prod1", "GW001", map[int]interface{}{
		1:   true,
		18:  120,
		101: "smart",
	})
	require.NoError(t, err)

	var data CommandData
	require.NoError(t, json.Unmarshal(msg.Data, &data))

	back := make(map[int]interface{}, len(data.DPS))
	for k, v := range data.DPS {
		id, convErr := strconv.Atoi(k)
		require.NoError(t, convErr)
		back[id] = v
	}
	assert.NoError(t, reg.ValidateCommand("prod1", back))
}
