package dp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

// testSchema 典型四通道灌溉产品的缩减版
func testSchema(t *testing.T) *Registry {
	t.Helper()
	defs := []Definition{
		{ID: 1, Code: "switch_1", AccessMode: AccessRW, DataType: TypeBool},
		{ID: 2, Code: "switch_2", AccessMode: AccessRW, DataType: TypeBool},
		{ID: 17, Code: "duration_1", AccessMode: AccessRW, DataType: TypeNumeric, Min: f(0), Max: f(86400)},
		{ID: 18, Code: "duration_2", AccessMode: AccessRW, DataType: TypeNumeric, Min: f(0), Max: f(86400)},
		{ID: 101, Code: "mode", AccessMode: AccessRW, DataType: TypeEnum, Enum: []string{"auto", "manual", "smart"}},
		{ID: 105, Code: "countdown_1", AccessMode: AccessRO, DataType: TypeNumeric, Min: f(0), Max: f(86400)},
		{ID: 119, Code: "work_state_1", AccessMode: AccessRO, DataType: TypeEnum, Enum: []string{"idle", "running", "fault"}},
		{ID: 131, Code: "runtime_1", AccessMode: AccessRO, DataType: TypeNumeric},
		{ID: 140, Code: "fault_bitmap", AccessMode: AccessRO, DataType: TypeFault},
		{ID: 150, Code: "reset", AccessMode: AccessWO, DataType: TypeBool},
	}
	s, err := NewSchema("prod1", 4, defs)
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(s)
	return reg
}

func TestSchemaUnknownProduct(t *testing.T) {
	reg := testSchema(t)
	_, err := reg.Schema("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown product")
}

func TestValidateCommandOK(t *testing.T) {
	reg := testSchema(t)
	err := reg.ValidateCommand("prod1", map[int]interface{}{
		1:   true,
		17:  600,
		101: "auto",
		150: true,
	})
	assert.NoError(t, err)
}

func TestValidateCommandBoolMismatch(t *testing.T) {
	reg := testSchema(t)
	err := reg.ValidateCommand("prod1", map[int]interface{}{1: "yes"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Violations, 1)
	assert.Equal(t, "DP1 should be boolean", ve.Violations[0].Reason)
}

// 校验的完备性：全部违规一次性收集，不止第一个
func TestValidateCommandCollectsAll(t *testing.T) {
	reg := testSchema(t)
	err := reg.ValidateCommand("prod1", map[int]interface{}{
		1:   "yes",       // 类型不符
		17:  100000,      // 超上限
		101: "turbo",     // 不在枚举
		105: 10,          // 只读DP不可下发
		999: true,        // 不存在
	})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Violations, 5)

	reasons := make(map[int]string)
	for _, v := range ve.Violations {
		reasons[v.DPID] = v.Reason
	}
	assert.Contains(t, reasons[17], "above maximum")
	assert.Contains(t, reasons[101], "not in enum")
	assert.Contains(t, reasons[105], "read-only")
	assert.Contains(t, reasons[999], "does not exist")
}

func TestValidateCommandRangeBoundsInclusive(t *testing.T) {
	reg := testSchema(t)
	assert.NoError(t, reg.ValidateCommand("prod1", map[int]interface{}{17: 0}))
	assert.NoError(t, reg.ValidateCommand("prod1", map[int]interface{}{17: 86400}))
	assert.Error(t, reg.ValidateCommand("prod1", map[int]interface{}{17: -1}))
	assert.Error(t, reg.ValidateCommand("prod1", map[int]interface{}{17: 86401}))
}

// 枚举值按字符串化比较，JSON数字也可命中数字型枚举
func TestEnumStringify(t *testing.T) {
	s, err := NewSchema("p2", 1, []Definition{
		{ID: 1, Code: "gear", AccessMode: AccessRW, DataType: TypeEnum, Enum: []string{"1", "2", "3"}},
	})
	require.NoError(t, err)
	reg := NewRegistry()
	reg.Register(s)
	assert.NoError(t, reg.ValidateCommand("p2", map[int]interface{}{1: float64(2)}))
	assert.Error(t, reg.ValidateCommand("p2", map[int]interface{}{1: float64(9)}))
}

func TestChannelDP(t *testing.T) {
	reg := testSchema(t)
	s, err := reg.Schema("prod1")
	require.NoError(t, err)

	id, err := s.ChannelDP(1, OffsetSwitch)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	id, err = s.ChannelDP(2, OffsetDuration)
	require.NoError(t, err)
	assert.Equal(t, 18, id)

	id, err = s.ChannelDP(1, OffsetCountdown)
	require.NoError(t, err)
	assert.Equal(t, 105, id)

	_, err = s.ChannelDP(5, OffsetSwitch)
	assert.Error(t, err) // 超出通道数

	_, err = s.ChannelDP(3, OffsetCountdown)
	assert.Error(t, err) // 偏移带内该通道未定义
}
