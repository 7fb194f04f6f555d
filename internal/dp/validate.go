package dp

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Violation 单个DP校验失败项
type Violation struct {
	DPID   int    `json:"dpId"`
	Reason string `json:"reason"`
}

// ValidationError 聚合校验错误：一次携带全部违规项，调用方一轮就能看到所有问题
type ValidationError struct {
	ProductID  string
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Reason)
	}
	return fmt.Sprintf("product %s command validation failed: %s", e.ProductID, strings.Join(parts, "; "))
}

// ValidateCommand 校验下行指令的全部DP。
// 不做fail-fast：逐项收集违规（DP不存在、只读DP被下发、类型/范围/枚举不符）。
func (r *Registry) ValidateCommand(productID string, dps map[int]interface{}) error {
	schema, err := r.Schema(productID)
	if err != nil {
		return err
	}

	var violations []Violation
	for id, value := range dps {
		def, ok := schema.Definition(id)
		if !ok {
			violations = append(violations, Violation{id, fmt.Sprintf("DP%d does not exist", id)})
			continue
		}
		if def.AccessMode == AccessRO {
			violations = append(violations, Violation{id, fmt.Sprintf("DP%d is read-only", id)})
			continue
		}
		if reason := checkValue(def, value); reason != "" {
			violations = append(violations, Violation{id, reason})
		}
	}
	if len(violations) > 0 {
		return &ValidationError{ProductID: productID, Violations: violations}
	}
	return nil
}

// checkValue 按DP数据类型校验取值，返回空串表示合法
func checkValue(def *Definition, value interface{}) string {
	switch def.DataType {
	case TypeBool:
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("DP%d should be boolean", def.ID)
		}
	case TypeNumeric, TypeFault:
		n, ok := toNumber(value)
		if !ok {
			return fmt.Sprintf("DP%d should be numeric", def.ID)
		}
		if def.Min != nil && n < *def.Min {
			return fmt.Sprintf("DP%d value %v below minimum %v", def.ID, value, *def.Min)
		}
		if def.Max != nil && n > *def.Max {
			return fmt.Sprintf("DP%d value %v above maximum %v", def.ID, value, *def.Max)
		}
	case TypeEnum:
		s := stringify(value)
		for _, e := range def.Enum {
			if s == e {
				return ""
			}
		}
		return fmt.Sprintf("DP%d value %v not in enum %v", def.ID, value, def.Enum)
	case TypeRaw:
		switch value.(type) {
		case string, []byte:
		default:
			return fmt.Sprintf("DP%d should be raw string", def.ID)
		}
	}
	return ""
}

// toNumber 归一化数字取值。JSON解码产生float64，Go调用方可能传入整型。
func toNumber(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// stringify 枚举值按字符串形式比较
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		// 整数值避免输出为 "1.000000"
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		return fmt.Sprintf("%v", value)
	}
}
