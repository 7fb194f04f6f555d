package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicBuilders(t *testing.T) {
	assert.Equal(t, "hanqi/gateway/GW-1/report", GatewayReport("GW-1"))
	assert.Equal(t, "hanqi/gateway/GW-1/command", GatewayCommand("GW-1"))
	assert.Equal(t, "hanqi/gateway/GW-1/ota/report", GatewayOTAReport("GW-1"))
	assert.Equal(t, "hanqi/gateway/GW-1/ota/upgrade", GatewayOTAUpgrade("GW-1"))
	assert.Equal(t, "hanqi/gateway/GW-1/", GatewayPrefix("GW-1"))
}

func TestBuildersMatchPatterns(t *testing.T) {
	assert.True(t, Match(GatewayReport("GW-1"), PatternGatewayReport))
	assert.True(t, Match(GatewayOTAReport("GW-1"), PatternGatewayOTAReport))
	// 普通上报不会命中OTA模式，反之亦然
	assert.False(t, Match(GatewayReport("GW-1"), PatternGatewayOTAReport))
	assert.False(t, Match(GatewayOTAReport("GW-1"), PatternGatewayReport))
}

func TestGatewayIDFromTopic(t *testing.T) {
	id, err := GatewayIDFromTopic("hanqi/gateway/GW-42/report")
	require.NoError(t, err)
	assert.Equal(t, "GW-42", id)

	id, err = GatewayIDFromTopic("hanqi/gateway/GW-42/ota/report")
	require.NoError(t, err)
	assert.Equal(t, "GW-42", id)

	for _, bad := range []string{
		"",
		"hanqi/gateway/",
		"hanqi/gateway//report",
		"other/gateway/GW-1/report",
		"hanqi/gateway/GW-1",
	} {
		_, err := GatewayIDFromTopic(bad)
		assert.Error(t, err, "topic %q", bad)
	}
}
