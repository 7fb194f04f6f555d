package dp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

func nowUnixMilli() int64 { return time.Now().UnixMilli() }

// ReportItem 上报中的单个DP解析结果
type ReportItem struct {
	DPID   int
	Value  interface{}
	Valid  bool
	Reason string // Valid=false时的原因
}

// Report 一次上报的解析结果。
// 真实设备经常发出部分合法的上报，单个DP非法只标记该项，整体不作废。
type Report struct {
	ProductID    string
	Items        []ReportItem
	InvalidCount int
}

// ValidItems 返回合法DP项
func (r *Report) ValidItems() []ReportItem {
	out := make([]ReportItem, 0, len(r.Items))
	for _, it := range r.Items {
		if it.Valid {
			out = append(out, it)
		}
	}
	return out
}

// dpArrayItem 数组形式上报的单项
type dpArrayItem struct {
	DPID  int             `json:"dpId"`
	Value json.RawMessage `json:"value"`
}

// reportData 上报data字段：dps支持 {"<dpId>": value} 与 [{dpId,value}] 两种入口形式
type reportData struct {
	DPS json.RawMessage `json:"dps"`
}

// ParseReport 宽容解析上行DP上报。
// 未知DP、类型不符的DP标记为Invalid并计数，不中断其余DP的解析。
func (r *Registry) ParseReport(productID string, data json.RawMessage) (*Report, error) {
	schema, err := r.Schema(productID)
	if err != nil {
		return nil, err
	}

	var rd reportData
	if err := json.Unmarshal(data, &rd); err != nil {
		return nil, fmt.Errorf("parse report data: %w", err)
	}
	if len(rd.DPS) == 0 {
		return nil, fmt.Errorf("parse report: missing dps")
	}

	pairs, err := decodeDPS(rd.DPS)
	if err != nil {
		return nil, err
	}

	report := &Report{ProductID: productID}
	for _, p := range pairs {
		item := ReportItem{DPID: p.id, Value: p.value}
		def, ok := schema.Definition(p.id)
		switch {
		case !ok:
			item.Reason = fmt.Sprintf("DP%d does not exist", p.id)
		case def.AccessMode == AccessWO:
			item.Reason = fmt.Sprintf("DP%d is write-only", p.id)
		default:
			item.Reason = checkValue(def, p.value)
		}
		item.Valid = item.Reason == ""
		if !item.Valid {
			report.InvalidCount++
		}
		report.Items = append(report.Items, item)
	}
	return report, nil
}

type dpPair struct {
	id    int
	value interface{}
}

// decodeDPS 解码两种dps形式，输出按DP id排序保证确定性
func decodeDPS(raw json.RawMessage) ([]dpPair, error) {
	trimmed := firstNonSpace(raw)
	switch trimmed {
	case '{':
		var obj map[string]interface{}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("parse dps object: %w", err)
		}
		pairs := make([]dpPair, 0, len(obj))
		for k, v := range obj {
			id, err := strconv.Atoi(k)
			if err != nil {
				return nil, fmt.Errorf("parse dps object: bad key %q", k)
			}
			pairs = append(pairs, dpPair{id: id, value: v})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].id < pairs[j].id })
		return pairs, nil
	case '[':
		var arr []dpArrayItem
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, fmt.Errorf("parse dps array: %w", err)
		}
		pairs := make([]dpPair, 0, len(arr))
		for _, it := range arr {
			var v interface{}
			if len(it.Value) > 0 {
				if err := json.Unmarshal(it.Value, &v); err != nil {
					return nil, fmt.Errorf("parse dps array value for DP%d: %w", it.DPID, err)
				}
			}
			pairs = append(pairs, dpPair{id: it.DPID, value: v})
		}
		return pairs, nil
	}
	return nil, fmt.Errorf("parse dps: expected object or array")
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}
