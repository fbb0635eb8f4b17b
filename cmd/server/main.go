package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/parley/internal/adapters/cache"
	router "github.com/dkeye/parley/internal/adapters/http"
	wssignal "github.com/dkeye/parley/internal/adapters/signal"
	"github.com/dkeye/parley/internal/adapters/store/memory"
	"github.com/dkeye/parley/internal/adapters/store/mongodb"
	"github.com/dkeye/parley/internal/adapters/token"
	"github.com/dkeye/parley/internal/app"
	"github.com/dkeye/parley/internal/app/orch"
	"github.com/dkeye/parley/internal/config"
	"github.com/dkeye/parley/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Server.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	health := map[string]router.HealthChecker{}
	var (
		rooms core.RoomStore
		users core.UserStore
	)
	switch cfg.Store.Driver {
	case "mongo":
		mcfg := mongodb.DefaultConfig()
		mcfg.URI = cfg.Mongo.URI
		mcfg.Database = cfg.Mongo.Database
		mcfg.ConnectTimeout = cfg.Mongo.ConnectTimeout
		mcfg.OpTimeout = cfg.Mongo.OpTimeout
		mcfg.MaxPoolSize = cfg.Mongo.MaxPoolSize
		db, err := mongodb.Connect(ctx, mcfg)
		if err != nil {
			log.Fatal().Err(err).Msg("mongo connect")
		}
		defer func() { _ = db.Close(context.Background()) }()
		if err := db.EnsureIndexes(ctx); err != nil {
			log.Warn().Err(err).Msg("mongo indexes")
		}
		rooms, users = mongodb.NewRoomStore(db), mongodb.NewUserStore(db)
		health["mongo"] = db
	default:
		rooms, users = memory.NewRoomStore(), memory.NewUserStore()
		log.Warn().Msg("memory store in use, rooms do not survive a restart")
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		cached := cache.NewUserStore(users, rdb, cfg.Redis.Prefix, cfg.Redis.TTL)
		users = cached
		health["redis"] = cached
	}

	verifier, err := token.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	if err != nil {
		log.Fatal().Err(err).Msg("jwt verifier")
	}

	reg := app.NewRegistry()
	routing := app.NewRouter(reg, app.PolicyByName(cfg.Server.Backpressure))
	coordinator := app.NewCoordinator(rooms, users, app.NewRoomLocks())
	o := orch.New(reg, coordinator, routing, users)
	o.MaxMessageLength = cfg.Chat.MaxMessageLength

	ctl := wssignal.NewSignalWSController(o,
		wssignal.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateInterval),
		wssignal.Settings{
			ReadLimit:    cfg.Server.ReadLimit,
			PingPeriod:   cfg.Server.PingPeriod,
			WriteTimeout: cfg.Server.WriteTimeout,
			SendBuffer:   cfg.Server.SendBuffer,
		})

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Auth:     app.NewAuthenticator(verifier),
		Signal:   ctl,
		Registry: reg,
		Health:   health,
	})
	addr := fmt.Sprintf(":%d", cfg.Server.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Parley server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
