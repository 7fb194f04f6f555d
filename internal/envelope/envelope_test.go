package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndDecode(t *testing.T) {
	raw := []byte(`{"msgType":"dp_report","msgId":"17001","deviceId":"GW001","timestamp":1700000000,"data":{"dps":{"1":true}}}`)
	m, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeDPReport, m.MsgType)
	assert.Equal(t, "GW001", m.DeviceID)

	var data struct {
		DPS map[string]interface{} `json:"dps"`
	}
	require.NoError(t, m.DecodeData(&data))
	assert.Equal(t, true, data.DPS["1"])
}

func TestParseRejectsMissingType(t *testing.T) {
	_, err := Parse([]byte(`{"msgId":"1","deviceId":"GW001"}`))
	assert.Error(t, err)
}

func TestParseRejectsBadJSON(t *testing.T) {
	_, err := Parse([]byte(`{not-json`))
	assert.Error(t, err)
}

func TestNewMsgIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMsgID()
		require.NotEmpty(t, id)
		seen[id] = true
	}
	// 同一毫秒内靠UUID后缀区分
	assert.Equal(t, 100, len(seen))
}
