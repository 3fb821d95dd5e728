package main

import (
	"context"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"penne/cfg"
	"penne/metrics"
	"penne/pkg/crypto"
	"penne/pkg/keysource"
	"penne/svc/api"
	"penne/svc/auth"
	"penne/svc/db"
	"penne/svc/ident"
	"penne/svc/svc"
	"penne/svc/util"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}
	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().Msg("starting penne API")
	metrics.Init()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	key, provider, err := keysource.ContentKey(ctx, crypto.KeySize)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to resolve content key")
		os.Exit(1)
	}
	cipher, err := crypto.New(key)
	util.Wipe(key)
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize cipher")
		os.Exit(1)
	}
	util.Info().Str("provider", provider.Name()).Msg("content key loaded")

	var store svc.Store
	switch c.StoreBackend {
	case cfg.StoreMongo:
		store, err = db.NewMongo(ctx, c.MongoURI, c.MongoDatabase, c.DBQueryTimeout)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to connect to mongo")
			os.Exit(1)
		}
		util.Info().Str("database", c.MongoDatabase).Msg("mongo store initialized")
	case cfg.StoreSQLite:
		store, err = db.NewSQLiteWithConfig(c.DatabasePath, c.DBMaxOpenConns, c.DBMaxIdleConns, c.DBQueryTimeout)
		if err != nil {
			util.Fatal().Err(err).Msg("failed to initialize sqlite")
			os.Exit(1)
		}
		util.Info().Str("path", c.DatabasePath).Msg("sqlite store initialized")
	}
	defer store.Close()

	var rdb *db.Redis
	if c.RedisURL != "" {
		rdb, err = db.NewRedis(c.RedisURL, c)
		if err != nil {
			if c.Environment == "production" {
				util.Fatal().Err(err).Msg("redis required in production")
				os.Exit(1)
			}
			util.Warn().Err(err).Msg("redis unavailable (dev mode), sessions disabled")
		} else {
			util.Info().Msg("redis connected")
		}
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var sessions *auth.Manager
	if c.IdentityBaseURL != "" && rdb != nil {
		client := auth.NewClient(c.IdentityBaseURL, c.IdentityAPIKey.Value())
		sessions = auth.NewManager(client, rdb, c.SessionCacheSize, c.TokenLifetime, c.SessionTTL)
		util.Info().Msg("identity provider configured")
	} else {
		util.Warn().Msg("no identity provider, running anonymous-only")
	}

	ids, err := ident.New()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to initialize id generator")
		os.Exit(1)
	}

	pasteSvc := svc.NewPaste(store, cipher, ids, c)
	util.Info().Msg("paste service initialized")

	server := api.NewServer(c, pasteSvc, sessions, store, rdb)

	go func() {
		util.Info().Msg("starting pprof server on :6060")
		if err := http.ListenAndServe(":6060", nil); err != nil {
			util.Warn().Err(err).Msg("pprof server failed")
		}
	}()

	util.Info().Str("port", c.Port).Str("environment", c.Environment).Msg("server starting")
	go func() {
		if err := server.Start(); err != nil {
			util.Fatal().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	util.Info().Msg("shutting down gracefully...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		util.Error().Err(err).Msg("server shutdown error")
	}
	cancel()
	util.Info().Msg("shutdown complete")
}
