package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	cfgpkg "github.com/hanqi-iot/irrigation-server/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("WARN"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	// 未知值回落info
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestInitLoggerWritesJSONFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "server.log")
	logger, err := InitLogger(cfgpkg.LoggingConfig{
		Level:  "info",
		Format: "console",
		File:   cfgpkg.LumberjackConfig{Filename: file, MaxSizeMB: 1},
	})
	require.NoError(t, err)

	logger.Info("gateway connected")
	// stdout 在部分平台不支持 Sync，忽略其返回值
	_ = logger.Sync()

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	// 文件通道固定json
	assert.Contains(t, string(content), `"msg":"gateway connected"`)
}
