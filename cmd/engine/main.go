package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ad-automation-engine/internal/api"
	"ad-automation-engine/internal/archive"
	"ad-automation-engine/internal/config"
	"ad-automation-engine/internal/executor"
	"ad-automation-engine/internal/notify"
	"ad-automation-engine/internal/platform"
	"ad-automation-engine/internal/ratelimit"
	"ad-automation-engine/internal/scheduler"
	"ad-automation-engine/internal/store"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.NewPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	creds := platform.NewSessionProvider(cfg.SessionServiceURL, cfg.PlatformTimeout)
	client := platform.NewClient(cfg, creds, limiter)
	metricsGW := platform.NewMetricsGateway(client)
	actionGW := platform.NewActionGateway(client)

	notifier := notify.NewWebhookNotifier(cfg.NotifyWebhooks, cfg.PlatformTimeout)
	exec := executor.New(actionGW, notifier, 0)

	sched := scheduler.New(cfg, st, metricsGW, exec)
	if err := sched.ResumeDesired(ctx); err != nil {
		log.Fatalf("resume engine state: %v", err)
	}

	if exporter, err := archive.New(ctx, cfg, st); err != nil {
		log.Fatalf("init archive exporter: %v", err)
	} else if exporter != nil {
		go exporter.Run(ctx)
	}

	server := api.New(scheduler.NewController(sched), st)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("engine listening on :%s interval=%s concurrency=%d", cfg.HTTPPort, cfg.CheckInterval, cfg.WorkerConcurrency)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	sched.Shutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	sched.Wait()
}
