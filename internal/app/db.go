package app

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"gorm.io/gorm"

	cfgpkg "github.com/hanqi-iot/irrigation-server/internal/config"
	"github.com/hanqi-iot/irrigation-server/internal/migrate"
	"github.com/hanqi-iot/irrigation-server/internal/storage"
	"github.com/hanqi-iot/irrigation-server/internal/storage/gormrepo"
	pgstorage "github.com/hanqi-iot/irrigation-server/internal/storage/pg"
)

// ConnectDBAndMigrate 建立pgx连接池并按需执行迁移。
// 池用于迁移与健康检查，业务访问走GORM仓储。
func ConnectDBAndMigrate(ctx context.Context, cfg cfgpkg.DatabaseConfig, log *zap.Logger) (*pgxpool.Pool, error) {
	dbpool, err := pgstorage.NewPool(ctx, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime, log)
	if err != nil {
		if log != nil {
			log.Error("db connect error", zap.Error(err))
		}
		return nil, err
	}
	if cfg.AutoMigrate {
		n, err := (migrate.Runner{Dir: cfg.MigrationsDir, Log: log}).Up(ctx, dbpool)
		if err != nil {
			if log != nil {
				log.Error("db migrate error", zap.Error(err))
			}
			return dbpool, err
		}
		if log != nil {
			log.Info("db migrations up to date",
				zap.Int("applied", n),
				zap.String("dir", cfg.MigrationsDir))
		}
	}
	return dbpool, nil
}

// OpenRepo 打开GORM连接并返回核心仓储
func OpenRepo(cfg cfgpkg.DatabaseConfig) (*gorm.DB, storage.CoreRepo, error) {
	db, err := gormrepo.Open(cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime)
	if err != nil {
		return nil, nil, err
	}
	return db, gormrepo.New(db), nil
}
