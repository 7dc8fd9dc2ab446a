package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"tokengate/internal/api"
	"tokengate/internal/config"
	"tokengate/internal/database"
	"tokengate/internal/proxy"
	"tokengate/internal/quota"
	"tokengate/internal/registry"
	"tokengate/internal/store"
	"tokengate/internal/tasks"
)

func main() {
	config.Load()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	models, err := config.LoadModels(config.Cfg.ModelsFile)
	if err != nil {
		log.Fatalf("Models config: %v", err)
	}

	st := newStore()

	endpoints := make(map[string]string, len(models.Models))
	modelLimits := make(map[string]config.ModelLimits, len(models.Models))
	for id, entry := range models.Models {
		endpoints[id] = entry.Endpoint
		modelLimits[id] = entry.Limits
	}

	acct := quota.NewAccounting(st)
	failMode := quota.FailClosed
	if config.Cfg.StoreFailureMode == "open" {
		failMode = quota.FailOpen
	}

	gw := &proxy.Gateway{
		Registry:   registry.New(st, endpoints),
		Controller: quota.NewController(st, acct, failMode),
		Forwarder:  proxy.NewForwarder(acct),
		Estimator:  proxy.HeuristicEstimator{},
		Limits: proxy.NewLimitResolver(quota.Limits{
			MaxTokensPerMinute:    config.Cfg.DefaultTokensPerMinute,
			MaxTokensPerHour:      config.Cfg.DefaultTokensPerHour,
			MaxTokensPerDay:       config.Cfg.DefaultTokensPerDay,
			MaxConcurrentRequests: config.Cfg.DefaultMaxConcurrent,
		}, modelLimits),
	}

	admin := &api.Handlers{
		Accounting: acct,
		Registry:   gw.Registry,
		Limits:     gw.Limits,
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health and metrics (no auth)
	r.Get("/health", api.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/models/{modelID}/chat/completions", gw.ChatCompletions)
		r.Get("/models", gw.ListModels)
		r.Get("/models/{modelID}/health", gw.ModelHealth)

		r.Route("/admin", func(r chi.Router) {
			r.Use(api.AdminAuth)

			r.Get("/token-usage/{modelID}/{userID}", admin.TokenUsage)
			r.Get("/limits/{modelID}/{userID}", admin.GetLimits)
			r.Put("/limits/{modelID}/{userID}", admin.SetLimits)
			r.Post("/models", admin.RegisterModel)
			r.Delete("/models/{modelID}", admin.UnregisterModel)
			r.Get("/usage", admin.Usage)
		})
	})

	runner := tasks.NewRunner(st)
	if err := runner.Start(); err != nil {
		log.Fatalf("Scheduler start: %v", err)
	}
	defer runner.Stop()

	// Graceful shutdown
	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("tokengate starting on %s (%d models)", config.Cfg.ListenAddr, len(endpoints))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("tokengate stopped")
}

func newStore() store.Store {
	if config.Cfg.StoreBackend == "memory" {
		log.Println("using in-memory store; counters are process-local")
		return store.NewMemoryStore()
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Cfg.RedisAddr,
		Password: config.Cfg.RedisPassword,
		DB:       config.Cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("Redis not reachable at startup: %v", err)
	}

	return store.NewRedisStore(client)
}
