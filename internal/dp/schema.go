// Package dp 实现汉启DP（数据点）协议：产品DP定义、上报解析校验、下行指令构建。
// 每个产品一份静态Schema，启动时加载，运行期只读。
package dp

import (
	"fmt"
	"sync"
)

// AccessMode DP读写权限
type AccessMode string

const (
	AccessRW AccessMode = "rw" // 可读可写
	AccessRO AccessMode = "ro" // 只读（上报）
	AccessWO AccessMode = "wo" // 只写（下发）
)

// DataType DP数据类型
type DataType string

const (
	TypeBool    DataType = "bool"
	TypeNumeric DataType = "numeric"
	TypeEnum    DataType = "enum"
	TypeRaw     DataType = "raw"
	TypeFault   DataType = "fault"
)

// Definition 单个DP定义
type Definition struct {
	ID         int        `yaml:"id"`
	Code       string     `yaml:"code"`
	Name       string     `yaml:"name"`
	AccessMode AccessMode `yaml:"accessMode"`
	DataType   DataType   `yaml:"dataType"`
	Min        *float64   `yaml:"min,omitempty"`
	Max        *float64   `yaml:"max,omitempty"`
	Enum       []string   `yaml:"enum,omitempty"`
}

// ChannelOffset 通道DP偏移带。
// 通道n（1起）的各功能DP按固定偏移排布：开关在基址，时长在基址+16，
// 剩余倒计时在基址+104，工作状态在基址+118，累计运行在基址+130。
// 该映射由Schema统一提供，禁止调用方散落硬编码偏移运算。
type ChannelOffset int

const (
	OffsetSwitch    ChannelOffset = 0   // 通道开关
	OffsetDuration  ChannelOffset = 16  // 灌溉时长设置
	OffsetCountdown ChannelOffset = 104 // 运行剩余倒计时
	OffsetWorkState ChannelOffset = 118 // 工作状态
	OffsetRuntime   ChannelOffset = 130 // 累计运行时间
)

// Schema 产品DP架构
type Schema struct {
	ProductID    string
	ChannelCount int
	dps          map[int]*Definition
}

// NewSchema 构建产品Schema，DP id 不允许重复
func NewSchema(productID string, channelCount int, defs []Definition) (*Schema, error) {
	if productID == "" {
		return nil, fmt.Errorf("schema: empty productId")
	}
	s := &Schema{
		ProductID:    productID,
		ChannelCount: channelCount,
		dps:          make(map[int]*Definition, len(defs)),
	}
	for i := range defs {
		d := defs[i]
		if _, dup := s.dps[d.ID]; dup {
			return nil, fmt.Errorf("schema %s: duplicate DP id %d", productID, d.ID)
		}
		s.dps[d.ID] = &d
	}
	return s, nil
}

// Definition 按id查DP定义
func (s *Schema) Definition(id int) (*Definition, bool) {
	d, ok := s.dps[id]
	return d, ok
}

// ChannelDP 返回指定通道某功能偏移带下的DP id（通道1起）
func (s *Schema) ChannelDP(channel int, off ChannelOffset) (int, error) {
	if channel < 1 || channel > s.ChannelCount {
		return 0, fmt.Errorf("schema %s: channel %d out of range [1,%d]", s.ProductID, channel, s.ChannelCount)
	}
	id := channel + int(off)
	if _, ok := s.dps[id]; !ok {
		return 0, fmt.Errorf("schema %s: DP%d not defined for channel %d offset %d", s.ProductID, id, channel, int(off))
	}
	return id, nil
}

// Registry 产品Schema注册表（启动时填充，运行期只读）
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register 注册产品Schema，同产品重复注册覆盖
func (r *Registry) Register(s *Schema) {
	r.mu.Lock()
	r.schemas[s.ProductID] = s
	r.mu.Unlock()
}

// Schema 查询产品Schema
func (r *Registry) Schema(productID string) (*Schema, error) {
	r.mu.RLock()
	s, ok := r.schemas[productID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown product %q", productID)
	}
	return s, nil
}
