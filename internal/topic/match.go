// Package topic 提供MQTT主题通配符匹配（+ 单段 / # 剩余全部）。
// 所有路由正确性都建立在 Match 之上，必须保持纯函数、无副作用。
package topic

import "strings"

// Match 判断已发布主题是否命中订阅模式。
// 规则：
//   - 模式段为 "#"：匹配剩余全部段，立即返回 true
//   - 模式段为 "+"：匹配任意单段，继续比较
//   - 其他：段必须逐字相等
//
// 模式比主题短且末尾没有 "#" 时不匹配（不存在隐式尾部通配）。
func Match(published, pattern string) bool {
	pubSegs := strings.Split(published, "/")
	patSegs := strings.Split(pattern, "/")

	n := len(pubSegs)
	if len(patSegs) > n {
		n = len(patSegs)
	}

	for i := 0; i < n; i++ {
		var pat string
		if i < len(patSegs) {
			pat = patSegs[i]
		}
		if pat == "#" {
			return true
		}
		if pat == "+" {
			if i >= len(pubSegs) {
				return false
			}
			continue
		}
		if i >= len(pubSegs) || pubSegs[i] != pat {
			return false
		}
	}
	return true
}
