package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"teleconsult/internal/aiflow"
	"teleconsult/internal/audit"
	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/callstore"
	"teleconsult/internal/config"
	"teleconsult/internal/dispatch"
	"teleconsult/internal/httpapi"
	"teleconsult/internal/reporting"
	"teleconsult/internal/video"
	"teleconsult/pkg/logger"
	"teleconsult/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// closableStore is a call store that owns background listeners.
type closableStore interface {
	calls.Store
	Close() error
}

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	issuer, err := video.NewIssuer(cfg.Video)
	if err != nil {
		log.Error("video issuer init failed", "err", err)
		os.Exit(1)
	}

	var (
		db  *sql.DB
		rdb *redis.Client
	)
	if cfg.Calls.Store == config.StorePostgres {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := callstore.Migrate(rootCtx, db); err != nil {
			log.Error("postgres migrate failed", "err", err)
			os.Exit(1)
		}
	}
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Name: "teleconsult"})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	var (
		store     closableStore
		auditRepo audit.Repository = audit.LogRepo{Log: log}
	)
	switch cfg.Calls.Store {
	case config.StorePostgres:
		store = callstore.NewPostgresStore(db, log)
		auditRepo = audit.NewPostgresRepo(db)
	case config.StoreRedis:
		store = callstore.NewRedisStore(rdb, log)
	default:
		log.Warn("using in-memory call store; records are lost on restart")
		store = callstore.NewMemoryStore()
	}

	opts := calls.Options{
		RingTimeout:       cfg.Calls.RingTimeout,
		CredentialTimeout: cfg.Calls.CredentialTimeout,
		Observer:          audit.CallObserver{Audit: audit.NewService(auditRepo)},
		Logger:            log,
	}
	if cfg.Calls.RingingLimit > 0 {
		// The TTL only guards against leaked slots after a crash.
		opts.Limiter = callstore.NewRedisLimiter(rdb, cfg.Calls.RingingLimit, 2*(cfg.Calls.RingTimeout+cfg.Calls.CredentialTimeout))
	}
	svc := calls.NewService(store, issuer, opts)

	// Ringing calls from before a restart still need their timeout.
	if n, err := svc.Resume(rootCtx); err != nil {
		log.Error("resume ringing timeouts failed", "err", err)
	} else if n > 0 {
		log.Info("resumed ringing timeouts", "calls", n)
	}

	var flows *aiflow.Service
	if llm, err := aiflow.NewOpenAIClient(cfg.OpenAI); err == nil {
		flows = aiflow.NewService(llm)
	} else {
		log.Info("ai flows disabled", "reason", err)
	}

	streamsDone := make(chan struct{})
	h := httpapi.Handlers{
		Auth:       authManager,
		AllowLogin: !cfg.IsProduction(),
		Calls:      svc,
		Store:      store,
		Actions:    dispatch.NewActions(svc, log),
		Reports:    reporting.NewService(reporting.StoreRepo{Store: store}),
		Flows:      flows,
		Done:       streamsDone,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager), func() error {
		if db != nil {
			if err := utils.HealthCheck(rootCtx, db, 2*time.Second); err != nil {
				return err
			}
		}
		if rdb != nil {
			pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
			defer cancel()
			if err := rdb.Ping(pingCtx).Err(); err != nil {
				return err
			}
		}
		return nil
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	srv.RegisterOnShutdown(func() { close(streamsDone) })

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "call_store", cfg.Calls.Store, "video", issuer.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	svc.Close()
	if err := store.Close(); err != nil {
		log.Error("call store close failed", "err", err)
	}
}
