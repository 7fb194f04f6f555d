// Package bootstrap 统一启动流程：按依赖顺序装配并运行全部子系统。
package bootstrap

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hanqi-iot/irrigation-server/internal/api"
	"github.com/hanqi-iot/irrigation-server/internal/app"
	"github.com/hanqi-iot/irrigation-server/internal/auth"
	"github.com/hanqi-iot/irrigation-server/internal/broker"
	cfgpkg "github.com/hanqi-iot/irrigation-server/internal/config"
	"github.com/hanqi-iot/irrigation-server/internal/credentials"
	"github.com/hanqi-iot/irrigation-server/internal/dispatch"
	"github.com/hanqi-iot/irrigation-server/internal/dp"
	"github.com/hanqi-iot/irrigation-server/internal/gateway"
	"github.com/hanqi-iot/irrigation-server/internal/health"
	"github.com/hanqi-iot/irrigation-server/internal/httpserver"
	"github.com/hanqi-iot/irrigation-server/internal/metrics"
	"github.com/hanqi-iot/irrigation-server/internal/ota"
	"github.com/hanqi-iot/irrigation-server/internal/storage"
	redisstorage "github.com/hanqi-iot/irrigation-server/internal/storage/redis"
)

// Run 统一启动流程。顺序：基础组件→DB→Redis→凭据桥→业务装配→HTTP→MQTT，
// 接入面最后启动，保证网关连上来时依赖全部就绪。
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	log.Info("starting irrigation server",
		zap.String("env", cfg.App.Env),
		zap.String("name", cfg.App.Name))

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// ========== 阶段1: 基础组件 ==========
	reg, appm := app.NewMetrics()
	metricsHandler := metrics.Handler(reg)
	healthAgg := health.New()
	dbGate := healthAgg.Gate("database")
	brokerGate := healthAgg.Gate("broker")

	schemas, err := dp.LoadDir(cfg.Products.Dir)
	if err != nil {
		log.Error("load product schemas failed", zap.Error(err))
		return err
	}
	log.Info("product schemas loaded", zap.String("dir", cfg.Products.Dir))

	// ========== 阶段2: 数据库（失败直接返回）==========
	dbpool, err := app.ConnectDBAndMigrate(rootCtx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer dbpool.Close()

	gdb, repo, err := app.OpenRepo(cfg.Database)
	if err != nil {
		log.Error("open repository failed", zap.Error(err))
		return err
	}
	defer func() {
		if sqlDB, e := gdb.DB(); e == nil {
			_ = sqlDB.Close()
		}
	}()
	dbGate.Open()
	healthAgg.Register(health.NewPostgresChecker(dbpool))
	log.Info("database ready", zap.String("dsn", maskDSN(cfg.Database.DSN)))

	// ========== 阶段3: Redis（可选）==========
	redisClient, err := app.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	var eventBus *redisstorage.EventBus
	var stateCache *redisstorage.StateCache
	if redisClient != nil {
		defer redisClient.Close()
		eventBus = redisstorage.NewEventBus(redisClient, log)
		stateCache = redisstorage.NewStateCache(redisClient, cfg.Redis.StateTTL)
		healthAgg.Register(health.NewRedisChecker(redisClient))
		log.Info("redis initialized")
	}

	// ========== 阶段4: 凭据快照桥 ==========
	bridge := credentials.NewBridge(
		storeAdapter{repo: repo},
		cfg.Auth.ReloadInterval,
		log.Named("credentials"),
	)
	bridge.SetReloadHook(func() { appm.CredentialReload.Inc() })
	go bridge.Run(rootCtx)
	if eventBus != nil {
		// 跨实例凭据变更事件驱动快照刷新
		go eventBus.SubscribeCredentialUpdated(rootCtx, bridge.OnCredentialUpdated)
	}

	// ========== 阶段5: 业务装配 ==========
	allowList := make([]auth.AllowEntry, 0, len(cfg.Auth.AllowList))
	for _, e := range cfg.Auth.AllowList {
		allowList = append(allowList, auth.AllowEntry{Username: e.Username, Password: e.Password})
	}
	authn := auth.New(allowList, bridge, log.Named("auth"))

	disp := dispatch.New(log.Named("dispatch"))
	disp.SetCounters(nil, func(pattern string) {
		appm.HandlerErrorTotal.WithLabelValues(pattern).Inc()
	})

	mqttBroker := broker.New(cfg.MQTT, authn, disp, appm, log.Named("broker"))
	healthAgg.Register(health.NewBrokerChecker(mqttBroker))

	orch := ota.New(repo, mqttBroker, log.Named("ota"),
		ota.WithTransitionHook(func(status string) {
			appm.OTATransition.WithLabelValues(status).Inc()
		}))

	handlerOpts := []gateway.Option{
		gateway.WithInvalidDPHook(func(productID string, n int) {
			appm.DPInvalidTotal.WithLabelValues(productID).Add(float64(n))
		}),
	}
	if stateCache != nil {
		handlerOpts = append(handlerOpts, gateway.WithStateCache(stateCache))
	}
	handlers := gateway.New(repo, schemas, orch, log.Named("gateway"),
		cfg.Products.DefaultProductID, cfg.Products.DefaultDeviceType, handlerOpts...)
	handlers.RegisterRoutes(disp)
	log.Info("uplink routes registered", zap.Strings("patterns", disp.Patterns()))

	// ========== 阶段6: HTTP管理面 ==========
	readyFn := func() bool { return healthAgg.GatesOpen() }
	httpSrv := httpserver.New(cfg.HTTP, cfg.Metrics.Path, metricsHandler, readyFn)
	health.RegisterRoutes(httpSrv.Router(), healthAgg)

	var credEvents api.EventPublisher
	if eventBus != nil {
		credEvents = eventBus
	}
	api.RegisterRoutes(httpSrv.Router(), api.Handlers{
		Credentials: api.NewCredentialsHandler(repo, bridge, credEvents, log.Named("api")),
		Gateways:    api.NewGatewayHandler(repo, schemas, mqttBroker, mqttBroker.Registry(), log.Named("api")),
		OTA:         api.NewOTAHandler(orch, repo, log.Named("api")),
	}, cfg.HTTP.APIKey, log.Named("api"))

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
		}
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	// ========== 阶段7: MQTT接入面（最后启动）==========
	brokerErr := make(chan error, 1)
	go func() {
		brokerErr <- mqttBroker.Run(rootCtx)
	}()
	brokerGate.Open()
	log.Info("mqtt broker started", zap.String("addr", cfg.MQTT.Addr))

	// ========== 阶段8: 等待关闭信号 ==========
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		log.Info("received shutdown signal, gracefully shutting down...")
	case err := <-brokerErr:
		if err != nil {
			log.Error("mqtt broker failed", zap.Error(err))
			return err
		}
	}

	rootCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	log.Info("http server stopped")
	log.Info("shutdown complete")
	return nil
}

// storeAdapter 把CoreRepo折算为凭据桥的只读Store
type storeAdapter struct {
	repo storage.CoreRepo
}

func (s storeAdapter) FindAllActiveOrPending(ctx context.Context) ([]credentials.Record, error) {
	list, err := s.repo.FindAllCredentials(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]credentials.Record, 0, len(list))
	for _, c := range list {
		out = append(out, credentials.Record{
			Identity: c.Identity,
			Secret:   c.Secret,
			Status:   credentials.Status(c.Status),
		})
	}
	return out, nil
}

// maskDSN 脱敏数据库连接字符串（隐藏密码）
func maskDSN(dsn string) string {
	if idx := strings.Index(dsn, "@"); idx > 0 {
		if pwdIdx := strings.LastIndex(dsn[:idx], ":"); pwdIdx > 0 {
			return dsn[:pwdIdx+1] + "****" + dsn[idx:]
		}
	}
	return dsn
}
