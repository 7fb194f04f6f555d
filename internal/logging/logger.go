// Package logging 初始化进程唯一的zap日志器。
// 双通道：stdout按配置选console或json，滚动文件固定json方便采集侧解析。
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	cfgpkg "github.com/hanqi-iot/irrigation-server/internal/config"
)

// InitLogger 按配置构建日志器，error及以上自动附带堆栈
func InitLogger(cfg cfgpkg.LoggingConfig) (*zap.Logger, error) {
	level := parseLevel(cfg.Level)

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stack",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	stdoutEnc := zapcore.NewJSONEncoder(encCfg)
	if strings.EqualFold(cfg.Format, "console") {
		stdoutEnc = zapcore.NewConsoleEncoder(encCfg)
	}

	fileSink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.File.Filename,
		MaxSize:    cfg.File.MaxSizeMB,
		MaxBackups: cfg.File.MaxBackups,
		MaxAge:     cfg.File.MaxAgeDays,
		Compress:   cfg.File.Compress,
	})

	core := zapcore.NewTee(
		zapcore.NewCore(stdoutEnc, zapcore.Lock(os.Stdout), level),
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, level),
	)

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return logger, nil
}

// parseLevel 解析日志级别，未知值回落info
func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
