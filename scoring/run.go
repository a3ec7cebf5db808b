// Copyright 2025 GeoPulse
// SPDX-License-Identifier: Apache-2.0

package scoring

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"geopulse/platform/scoring/llm"
	"geopulse/platform/scoring/llm/gemini"
	"geopulse/platform/scoring/llm/openai"
	"geopulse/platform/shared/logger"
)

// Run is the exported entry point for the scorer service. It wires the
// full pipeline from environment configuration and blocks serving HTTP.
func Run() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	runLog := logger.NewWithInstance("scorer", cfg.InstanceID)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Database unreachable: %v", err)
	}

	store := NewPostgresStore(db)
	callLogger := NewCallLogger(db)
	defer callLogger.Close()

	// The grounded tier shares its per-minute quota across instances when
	// Redis is configured; otherwise each instance enforces it locally.
	var groundedLimiter RateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(redisOpts)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Fatalf("Redis unreachable: %v", err)
		}
		groundedLimiter = NewRedisSlidingWindowLimiter(redisClient, "gemini:grounded", cfg.GroundedMaxRPM)
		runLog.Info("", "", "Using distributed rate limiter", map[string]interface{}{
			"max_rpm": cfg.GroundedMaxRPM,
		})
	} else {
		groundedLimiter = NewSlidingWindowLimiter(cfg.GroundedMaxRPM)
		runLog.Info("", "", "Using in-process rate limiter", map[string]interface{}{
			"max_rpm": cfg.GroundedMaxRPM,
		})
	}

	var providers []llm.Provider
	var groundedClient, ungroundedClient *llm.Client

	if cfg.GeminiAPIKey != "" {
		geminiProvider, err := gemini.NewProvider(gemini.Config{
			APIKey:  cfg.GeminiAPIKey,
			Timeout: cfg.CallTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to initialize Gemini provider: %v", err)
		}
		providers = append(providers, geminiProvider)
		groundedClient = llm.NewClient(geminiProvider, callLogger)
	}

	if cfg.OpenAIAPIKey != "" {
		openaiProvider, err := openai.NewProvider(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.CallTimeout,
		})
		if err != nil {
			log.Fatalf("Failed to initialize OpenAI provider: %v", err)
		}
		providers = append(providers, openaiProvider)
		ungroundedClient = llm.NewClient(openaiProvider, callLogger)
	}

	if groundedClient == nil && ungroundedClient == nil {
		log.Fatalf("No LLM provider configured: set GEMINI_API_KEY and/or OPENAI_API_KEY")
	}

	metrics := NewPipelineMetrics()

	scorer := NewBatchScorer(BatchScorerConfig{
		Grounded:      groundedClient,
		Ungrounded:    ungroundedClient,
		Chain:         llm.FallbackChain{Models: cfg.GroundedModels},
		MaxAttempts:   cfg.MaxAttempts,
		Timeout:       cfg.CallTimeout,
		RecentContext: cfg.RecentContext,
		Metrics:       metrics,
	})

	service := NewScoringService(ServiceConfig{
		Reference:       store,
		Scores:          store,
		Tracker:         NewJobTracker(),
		Scorer:          scorer,
		Planner:         NewRunPlanner(),
		GroundedLimiter: groundedLimiter,
		Providers:       providers,
		Logger:          logger.NewWithInstance("scoring-service", cfg.InstanceID),
		Metrics:         metrics,
		BatchSize:       cfg.BatchSize,
		NumRuns:         cfg.NumRuns,
	})

	router := mux.NewRouter()
	NewServer(service).RegisterRoutes(router)
	router.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	runLog.Info("", "", "Scorer starting", map[string]interface{}{
		"port":       cfg.Port,
		"batch_size": cfg.BatchSize,
		"num_runs":   cfg.NumRuns,
	})

	if err := http.ListenAndServe(":"+cfg.Port, corsMiddleware.Handler(router)); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
