package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/quotient/followup-engine/internal/config"
	"github.com/quotient/followup-engine/internal/mail"
	"github.com/quotient/followup-engine/internal/pkg/distlock"
	"github.com/quotient/followup-engine/internal/pkg/logger"
	"github.com/quotient/followup-engine/internal/render"
	"github.com/quotient/followup-engine/internal/repository/postgres"
	"github.com/quotient/followup-engine/internal/worker"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		logger.Error("config load failed", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger.Info("dispatcher starting",
		"workers", cfg.Dispatcher.NumWorkers, "batch_size", cfg.Dispatcher.BatchSize)

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		logger.Error("database open failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		logger.Error("database ping failed", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, rate limiting disabled", "error", err)
			redisClient = nil
		}
	}

	sender, err := mail.NewSESSender(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region)
	if err != nil {
		logger.Error("ses sender init failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.NewRepo(db)

	var gate worker.SendGate
	if cfg.RateLimit.Enabled && redisClient != nil {
		gate = worker.NewRateLimiter(redisClient,
			worker.BucketConfig{Capacity: cfg.RateLimit.GlobalCapacity, RefillPerSec: cfg.RateLimit.GlobalRefillPerSec},
			worker.BucketConfig{Capacity: cfg.RateLimit.ContactCapacity, RefillPerSec: cfg.RateLimit.ContactRefillPerSec},
		)
	}

	dispatcher := worker.NewDispatcher(repo, sender, render.NewRenderer(), gate, worker.DispatcherConfig{
		NumWorkers:     cfg.Dispatcher.NumWorkers,
		BatchSize:      cfg.Dispatcher.BatchSize,
		PollInterval:   cfg.Dispatcher.PollInterval(),
		SendTimeout:    cfg.Dispatcher.SendTimeout(),
		RetryBase:      cfg.Dispatcher.RetryBase(),
		RetryCap:       cfg.Dispatcher.RetryCap(),
		MaxAttempts:    cfg.Dispatcher.MaxAttempts,
		RateLimitDefer: cfg.Dispatcher.RateLimitDefer(),
		FromName:       cfg.Sender.FromName,
		FromEmail:      cfg.Sender.FromEmail,
		ReplyTo:        cfg.Sender.ReplyTo,
	})
	dispatcher.Start()

	// Recovery runs single-flight across instances via a distributed lock;
	// with no Redis it falls back to a Postgres advisory lock.
	recoveryLock := distlock.NewLock(redisClient, db, "followup:recovery", cfg.Recovery.StaleAge())
	recovery := worker.NewRecoveryWorker(repo, recoveryLock,
		cfg.Recovery.Interval(), cfg.Recovery.StaleAge(), cfg.Dispatcher.MaxAttempts)

	ctx, cancel := context.WithCancel(context.Background())
	go recovery.Start(ctx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("dispatcher shutting down")
	cancel()
	dispatcher.Stop()
	logger.Info("dispatcher stopped")
}
