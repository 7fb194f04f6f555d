package topic

import "fmt"

// 汉启网关主题约定。通配模式与Match规则配套使用。
const (
	// PatternGatewayReport 网关上报订阅模式
	PatternGatewayReport = "hanqi/gateway/+/report"
	// PatternGatewayOTAReport OTA专用上报订阅模式
	PatternGatewayOTAReport = "hanqi/gateway/+/ota/report"
)

// GatewayReport 指定网关的上报主题
func GatewayReport(gatewayID string) string {
	return "hanqi/gateway/" + gatewayID + "/report"
}

// GatewayCommand 云端下行指令主题
func GatewayCommand(gatewayID string) string {
	return "hanqi/gateway/" + gatewayID + "/command"
}

// GatewayOTAReport OTA上报主题
func GatewayOTAReport(gatewayID string) string {
	return "hanqi/gateway/" + gatewayID + "/ota/report"
}

// GatewayOTAUpgrade OTA升级指令主题
func GatewayOTAUpgrade(gatewayID string) string {
	return "hanqi/gateway/" + gatewayID + "/ota/upgrade"
}

// GatewayPrefix 指定网关的主题前缀（订阅策略用）
func GatewayPrefix(gatewayID string) string {
	return "hanqi/gateway/" + gatewayID + "/"
}

// GatewayIDFromTopic 解析上报主题中的网关段（hanqi/gateway/{id}/...）
func GatewayIDFromTopic(published string) (string, error) {
	const prefix = "hanqi/gateway/"
	if len(published) <= len(prefix) || published[:len(prefix)] != prefix {
		return "", fmt.Errorf("topic %q: not a gateway topic", published)
	}
	rest := published[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			if i == 0 {
				break
			}
			return rest[:i], nil
		}
	}
	return "", fmt.Errorf("topic %q: missing gateway id", published)
}
