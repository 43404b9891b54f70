// Command server runs the Jessie CMS realtime collaboration service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jessiecms/collab/auth"
	authdb "github.com/jessiecms/collab/auth/db"
	"github.com/jessiecms/collab/collab"
	"github.com/jessiecms/collab/internal/config"
	"github.com/jessiecms/collab/internal/crypto"
	"github.com/jessiecms/collab/internal/slogging"
)

func main() {
	configFile := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := slogging.Initialize(slogging.Config{
		Level:            cfg.GetLogLevel(),
		IsDev:            cfg.Logging.IsDev,
		LogDir:           cfg.Logging.LogDir,
		MaxAgeDays:       cfg.Logging.MaxAgeDays,
		MaxSizeMB:        cfg.Logging.MaxSizeMB,
		MaxBackups:       cfg.Logging.MaxBackups,
		AlsoLogToConsole: cfg.Logging.AlsoLogToConsole,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	// Backing stores
	gormDB, err := authdb.NewGormDB(authdb.GormConfig{DSN: cfg.PostgresDSN()})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	defer func() { _ = gormDB.Close() }()

	if err := gormDB.Migrate(); err != nil {
		return err
	}

	redisDB, err := authdb.NewRedisDB(authdb.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer func() { _ = redisDB.Close() }()

	// Collaboration core
	codec, err := crypto.NewTokenCodecFromHex(cfg.Collab.TokenKeyHex)
	if err != nil {
		return fmt.Errorf("invalid collaboration token key: %w", err)
	}

	sessions := auth.NewRedisSessionStore(redisDB.GetClient())
	perms := collab.NewGormPermissionStore(gormDB.DB())
	validator := auth.NewSessionValidator(codec, sessions, perms)

	presenceStore := collab.NewGormPresenceStore(gormDB.DB())
	tracker := collab.NewPresenceTracker(presenceStore,
		collab.WithPresenceWindow(cfg.Collab.PresenceWindow),
		collab.WithPresenceMaxAge(cfg.Collab.PresenceMaxAge),
	)

	activity := collab.NewGormActivityStore(gormDB.DB())
	presence := collab.NewPresenceHandler(validator, validator, tracker, activity)
	locks := collab.NewGormLockStore(gormDB.DB(), cfg.Collab.LockDuration)

	hub := collab.NewHub(presence, collab.NewRawAuthenticator(validator, validator))

	// HTTP surface
	if !cfg.Logging.IsDev {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	collab.RegisterRoutes(router, hub,
		collab.NewTokenHandler(validator),
		collab.NewDocumentHandler(validator, presence, locks, activity),
		sessions, cfg.Collab.SessionCookieName, redisDB)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := collab.NewCleanupWorker(presence, locks, cfg.Collab.CleanupInterval)
	go worker.Start(ctx)

	srv := &http.Server{
		Addr:         cfg.Server.Interface + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Collaboration server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down collaboration server (%d open connections)", hub.ConnectionCount())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
