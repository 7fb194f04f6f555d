package dp

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// schemaFile 产品DP架构YAML文件结构
type schemaFile struct {
	ProductID    string       `yaml:"productId"`
	ChannelCount int          `yaml:"channelCount"`
	DPS          []Definition `yaml:"dps"`
}

// LoadFile 从单个YAML文件加载产品Schema
func LoadFile(path string) (*Schema, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var sf schemaFile
	if err := yaml.Unmarshal(content, &sf); err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}
	if err := checkDefinitions(sf); err != nil {
		return nil, fmt.Errorf("schema file %s: %w", path, err)
	}
	return NewSchema(sf.ProductID, sf.ChannelCount, sf.DPS)
}

// LoadDir 扫描目录下全部 *.yaml/*.yml 并注册到新建的Registry
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir: %w", err)
	}
	reg := NewRegistry()
	count := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		reg.Register(s)
		count++
	}
	if count == 0 {
		return nil, fmt.Errorf("no product schema found in %s", dir)
	}
	return reg, nil
}

// checkDefinitions 加载期静态检查：字段完整性与类型约束自洽
func checkDefinitions(sf schemaFile) error {
	if sf.ProductID == "" {
		return fmt.Errorf("missing productId")
	}
	if sf.ChannelCount <= 0 {
		return fmt.Errorf("channelCount must be positive")
	}
	for _, d := range sf.DPS {
		if d.ID <= 0 {
			return fmt.Errorf("DP id must be positive, got %d", d.ID)
		}
		switch d.AccessMode {
		case AccessRW, AccessRO, AccessWO:
		default:
			return fmt.Errorf("DP%d: bad accessMode %q", d.ID, d.AccessMode)
		}
		switch d.DataType {
		case TypeBool, TypeNumeric, TypeEnum, TypeRaw, TypeFault:
		default:
			return fmt.Errorf("DP%d: bad dataType %q", d.ID, d.DataType)
		}
		if d.DataType == TypeEnum && len(d.Enum) == 0 {
			return fmt.Errorf("DP%d: enum type requires enum values", d.ID)
		}
		if d.Min != nil && d.Max != nil && *d.Min > *d.Max {
			return fmt.Errorf("DP%d: min %v greater than max %v", d.ID, *d.Min, *d.Max)
		}
	}
	return nil
}
