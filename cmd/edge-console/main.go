package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"edge-console/internal/config"
	"edge-console/internal/domain"
	httpapi "edge-console/internal/http"
	"edge-console/internal/mqtt"
	"edge-console/internal/repository"
	"edge-console/internal/service"
	"edge-console/internal/store"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var (
		nodesRepo     repository.NodesRepository
		devicesRepo   repository.DevicesRepository
		triggersRepo  repository.TriggersRepository
		statesRepo    repository.StatesRepository
		registrations repository.RegistrationsRepository
		timeseries    repository.TimeSeriesRepository
		provisioner   service.GroupProvisioner
	)

	relDB, tsDB, dbErr := openStores(cfg)
	if dbErr == nil {
		prov := store.NewProvisioner(relDB, tsDB, logger)
		// Core tables are a startup requirement; a console that cannot
		// persist registrations must not come up half-working.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := prov.EnsureCoreTables(ctx); err != nil {
			cancel()
			logger.Fatal("core table provisioning failed", zap.Error(err))
		}
		cancel()

		nodesRepo = repository.NewPostgresNodesRepo(relDB)
		devicesRepo = repository.NewPostgresDevicesRepo(relDB)
		triggersRepo = repository.NewPostgresTriggersRepo(relDB)
		statesRepo = repository.NewPostgresStatesRepo(relDB)
		registrations = repository.NewPostgresRegistrationsRepo(relDB, logger)
		timeseries = repository.NewPostgresTimeSeriesRepo(tsDB)
		provisioner = prov
		defer relDB.Close()
		defer tsDB.Close()
		logger.Info("registry backed by Postgres/Timescale")
	} else {
		// Dev fallback so the console still comes up for UI work without
		// the two databases.
		mem := repository.NewMemoryRegistry()
		nodesRepo, devicesRepo, triggersRepo = mem, mem, mem
		statesRepo, registrations, timeseries = mem, mem, mem
		provisioner = mem
		logger.Warn("databases unavailable, falling back to in-memory registry", zap.Error(dbErr))
	}

	var kv store.KV
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		kv = store.NewRedisKV(redisClient)
		defer redisClient.Close()
	}

	gateway := service.NewGatewayClient(cfg.Gateway.Port, cfg.Gateway.Timeout, logger)

	nodeSvc := service.NewNodeService(nodesRepo, provisioner, gateway, cfg.MQTT.BrokerIP, logger)
	registrySvc := service.NewRegistryService(registrations, nodesRepo, gateway, logger)
	stateSvc := service.NewStateService(statesRepo, devicesRepo, triggersRepo, nodesRepo, timeseries, kv, logger)

	if cfg.MQTT.Enabled {
		broker := mqtt.NewStateBroker(statesRepo, timeseries, cfg.MQTT.TopicRoot, logger)
		client, err := mqtt.NewClient(cfg.MQTT.Broker, cfg.MQTT.ClientID,
			cfg.MQTT.Username, cfg.MQTT.Password, logger)
		if err != nil {
			logger.Error("MQTT connect failed, state ingest disabled", zap.Error(err))
		} else {
			defer client.Disconnect()
			if err := client.Subscribe(broker.SubscriptionTopic(), 1, broker.HandleMessage); err != nil {
				logger.Error("MQTT subscribe failed, state ingest disabled", zap.Error(err))
			} else {
				logger.Info("state ingest subscribed", zap.String("topic", broker.SubscriptionTopic()))
			}
		}
	}

	router := httpapi.NewRouter(logger)
	router.RegisterNodeRoutes(httpapi.NewNodeHandler(nodeSvc, registrySvc, stateSvc, gateway, logger))
	router.RegisterDataSaverRoutes(httpapi.NewAudioHandler(cfg.AudioDataDir, logger))
	router.RegisterDashboardRoutes()

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("edge-console listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
	logger.Info("edge-console stopped")
}

// openStores connects both logical stores; failing either one sends the
// process to the in-memory fallback.
func openStores(cfg *config.Config) (*sql.DB, *sql.DB, error) {
	relDB, err := openDB(cfg.RelationalDSN, cfg.DB.MaxConns, cfg.DB.MaxIdle)
	if err != nil {
		return nil, nil, &domain.ProvisioningError{Table: "relational store", Err: err}
	}
	tsDB, err := openDB(cfg.TimescaleDSN, cfg.DB.MaxConns, cfg.DB.MaxIdle)
	if err != nil {
		relDB.Close()
		return nil, nil, &domain.ProvisioningError{Table: "time-series store", Err: err}
	}
	return relDB, tsDB, nil
}

func openDB(dsn string, maxConns, maxIdle int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service_name", "edge-console")), nil
}
