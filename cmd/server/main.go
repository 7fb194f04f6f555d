package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hanqi-iot/irrigation-server/internal/app/bootstrap"
	cfgpkg "github.com/hanqi-iot/irrigation-server/internal/config"
	"github.com/hanqi-iot/irrigation-server/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（缺省时读取 HANQI_CONFIG 或 configs/example.yaml）")
	flag.Parse()

	// 1) 加载配置
	cfg, err := cfgpkg.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// 2) 初始化日志
	logger, err := logging.InitLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	// 3) 启动应用（MQTT 接入、HTTP API、健康检查等都在 bootstrap 内装配）
	if err := bootstrap.Run(cfg, zap.L()); err != nil {
		zap.L().Fatal("server exited with error", zap.Error(err))
	}
}
