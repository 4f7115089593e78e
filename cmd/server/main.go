package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/anonto42/familyhub/notifier/internal/dispatcher"
	"github.com/anonto42/familyhub/notifier/internal/handlers"
	"github.com/anonto42/familyhub/notifier/internal/push"
	"github.com/anonto42/familyhub/notifier/internal/repositories"
	"github.com/anonto42/familyhub/notifier/internal/router"
	"github.com/anonto42/familyhub/notifier/internal/sweeper"
	"github.com/anonto42/familyhub/notifier/internal/trigger"
	"github.com/anonto42/familyhub/notifier/pkg/config"
	"github.com/anonto42/familyhub/notifier/pkg/firebase"
	"github.com/anonto42/familyhub/notifier/pkg/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database connections
	db, err := config.InitDB(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Failed to initialize databases", zap.Error(err))
	}
	defer db.CloseDB()

	useFirestore := cfg.ProfileBackend == config.ProfileBackendFirestore
	fb, err := firebase.InitFirebase(ctx, cfg.FirebaseCredentialsPath, useFirestore, zl)
	if err != nil {
		zl.Fatal("Failed to initialize Firebase", zap.Error(err))
	}
	defer fb.Close()

	// --- Repositories ---
	records := repositories.NewMongoNotificationRepository(db.MongoDatabase())
	batches := repositories.NewMongoBatchRepository(db.MongoDatabase())
	if err := records.EnsureIndexes(ctx); err != nil {
		zl.Fatal("Failed to create notification indexes", zap.Error(err))
	}
	if err := batches.EnsureIndexes(ctx); err != nil {
		zl.Fatal("Failed to create batch indexes", zap.Error(err))
	}

	var profiles repositories.ProfileRepository
	if useFirestore {
		profiles = repositories.NewFirestoreProfileRepository(fb.Firestore)
	} else {
		if err := router.Migrate(db.Postgres, zl); err != nil {
			zl.Fatal("Failed to migrate profiles", zap.Error(err))
		}
		profiles = repositories.NewPostgresProfileRepository(db.Postgres)
	}

	// --- Delivery pipeline ---
	gateway := push.NewFCMGateway(fb.Messaging, cfg.GatewayTimeout)
	single := dispatcher.NewSingleDispatcher(records, profiles, gateway, zl, cfg.CleanupTimeout)
	batch := dispatcher.NewBatchDispatcher(batches, profiles, gateway, zl, cfg.ResolveConcurrency, cfg.CleanupTimeout)

	singlePool := trigger.NewPool("notifications", single.Dispatch, cfg.DispatchConcurrency, zl)
	batchPool := trigger.NewPool("batches", batch.Dispatch, cfg.DispatchConcurrency, zl)

	poller := trigger.NewPoller(records, batches, singlePool, batchPool, cfg.PollInterval, cfg.PollGrace, zl)

	var locker sweeper.Locker = sweeper.NewLocalLocker()
	if db.Redis != nil {
		locker = sweeper.NewRedisLocker(db.Redis)
	}
	schedule, err := sweeper.NewSchedule(cfg.SweepHour, cfg.SweepTimezone)
	if err != nil {
		zl.Fatal("Invalid sweep schedule", zap.Error(err))
	}
	sweep := sweeper.NewSweeper(records, batches, locker, sweeper.Options{
		Retention:      cfg.Retention,
		BatchRetention: cfg.BatchRetention,
		LockTTL:        cfg.SweepLockTTL,
	}, zl)
	sweepWorker := sweeper.NewWorker(sweep, schedule, zl)

	var wg sync.WaitGroup
	background := []func(context.Context){
		func(ctx context.Context) { _ = trigger.NewNotificationWatcher(records.Collection(), singlePool, zl).Run(ctx) },
		func(ctx context.Context) { _ = trigger.NewBatchWatcher(batches.Collection(), batchPool, zl).Run(ctx) },
		poller.Start,
		sweepWorker.Start,
	}
	for _, run := range background {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
		}()
	}

	// --- HTTP ---
	e := echo.New()
	e.HideBanner = true
	config.SetupMiddleware(e, zl)

	health := map[string]handlers.Pinger{
		"mongo": func(ctx context.Context) error { return db.Mongo.Ping(ctx, nil) },
	}
	if db.Redis != nil {
		health["redis"] = func(ctx context.Context) error { return db.Redis.Ping(ctx).Err() }
	}
	router.SetupRoutes(e, records, batches, health, zl)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	zl.Info("Notifier started", zap.String("port", cfg.Port), zap.String("profile_backend", cfg.ProfileBackend))

	<-ctx.Done()
	zl.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Error("HTTP server shutdown failed", zap.Error(err))
	}

	wg.Wait()
	singlePool.Wait()
	batchPool.Wait()
	zl.Info("Notifier stopped")
}
