package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-service/internal/api"
	"github.com/fathima-sithara/realtime-service/internal/auth"
	"github.com/fathima-sithara/realtime-service/internal/config"
	"github.com/fathima-sithara/realtime-service/internal/dispatch"
	"github.com/fathima-sithara/realtime-service/internal/events"
	"github.com/fathima-sithara/realtime-service/internal/logger"
	"github.com/fathima-sithara/realtime-service/internal/membership"
	"github.com/fathima-sithara/realtime-service/internal/presence"
	"github.com/fathima-sithara/realtime-service/internal/store"
	"github.com/fathima-sithara/realtime-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load (see config.yaml.example): %v", err)
	}

	zl, err := logger.New(logger.Config{Development: cfg.Log.Development, Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		zl.Fatalw("mongo connect", "err", err)
	}
	defer func() { _ = mongoClient.Disconnect(context.Background()) }()
	msgStore := store.NewMongoStore(mongoClient.Database(cfg.Mongo.Database))

	pgPool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		zl.Fatalw("postgres connect", "err", err)
	}
	defer pgPool.Close()
	pgRepo := membership.NewPostgresRepository(pgPool)
	if err := pgRepo.EnsureSchema(ctx); err != nil {
		zl.Fatalw("postgres schema", "err", err)
	}
	memberships := membership.NewService(pgRepo)

	var mirror *presence.Mirror
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		mirror = presence.NewMirror(rdb, cfg.Redis.Prefix, 24*time.Hour)
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	defer func() { _ = pub.Close() }()

	registry := presence.NewRegistry()
	dispatcher := dispatch.New(memberships, msgStore, registry, pub, zl)
	validator := auth.NewValidator(cfg.JWT.Secret)

	wsHandler := ws.NewHandler(registry, mirror, dispatcher, validator, ws.Config{
		PingInterval:   cfg.PingInterval,
		WriteDeadline:  cfg.WriteDeadline,
		MaxMessageSize: cfg.WS.MaxMessageSizeBytes,
		SendRatePerSec: cfg.WS.SendRatePerSecond,
	}, zl)

	app := api.NewServer(cfg, api.Deps{
		Dispatcher:  dispatcher,
		Store:       msgStore,
		Memberships: memberships,
		Validator:   validator,
		WSHandler:   wsHandler,
		Log:         zl,
	})

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Server.Port
		zl.Infow("starting realtime service", "addr", addr)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		zl.Fatalw("server error", "err", e)
	case s := <-sig:
		zl.Infow("signal received", "signal", s.String())
	}

	if err := app.Shutdown(); err != nil {
		zl.Warnw("fiber shutdown", "err", err)
	}
	zl.Info("shut down")
}
