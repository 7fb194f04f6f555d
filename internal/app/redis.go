package app

import (
	"go.uber.org/zap"

	cfgpkg "github.com/hanqi-iot/irrigation-server/internal/config"
	redisstorage "github.com/hanqi-iot/irrigation-server/internal/storage/redis"
)

// NewRedisClient 按配置创建Redis客户端。未启用返回(nil, nil)。
func NewRedisClient(cfg cfgpkg.RedisConfig, log *zap.Logger) (*redisstorage.Client, error) {
	if !cfg.Enabled {
		if log != nil {
			log.Info("redis disabled, event bus and state cache will be skipped")
		}
		return nil, nil
	}
	client, err := redisstorage.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}
