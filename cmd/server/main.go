package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/cadforge/api/internal/assemble"
	"github.com/cadforge/api/internal/cache"
	"github.com/cadforge/api/internal/client"
	"github.com/cadforge/api/internal/config"
	"github.com/cadforge/api/internal/dispatch"
	"github.com/cadforge/api/internal/handler"
	"github.com/cadforge/api/internal/library"
	"github.com/cadforge/api/internal/middleware"
	"github.com/cadforge/api/internal/model"
	"github.com/cadforge/api/internal/service"
	"github.com/cadforge/api/internal/worker"
	ws "github.com/cadforge/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v (falling back to in-memory stores)", err)
		redisAvailable = false
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Load the script library
	lib := library.New(cfg.Library.Path)
	if err := lib.Load(); err != nil {
		log.Fatalf("Failed to load script library from %s: %v", cfg.Library.Path, err)
	}
	log.Printf("Loaded %d script version(s) from %s", lib.Count(), cfg.Library.Path)

	// Initialize storage client (optional - continues if not configured)
	var storageClient client.StorageClient
	if cfg.Storage.AccessKeyID != "" && cfg.Storage.SecretAccessKey != "" {
		s3Client, err := client.NewS3Client(&cfg.Storage)
		if err != nil {
			log.Printf("Warning: storage client not initialized: %v", err)
		} else {
			storageClient = s3Client
		}
	} else {
		log.Println("Info: object storage not configured, bundle publishing disabled")
	}

	// Stores: Redis in production, in-memory when Redis is unreachable
	retention := time.Duration(cfg.Jobs.RetentionHours) * time.Hour
	cacheTTL := time.Duration(cfg.Cache.TTLHours) * time.Hour
	var cacheStore cache.Store
	var jobStore dispatch.JobStore
	if redisAvailable {
		cacheStore = cache.NewRedisStore(redisClient, cacheTTL)
		jobStore = dispatch.NewRedisJobStore(redisClient, retention)
	} else {
		cacheStore = cache.NewMemoryStore(cacheTTL)
		jobStore = dispatch.NewMemoryJobStore()
	}

	// Core pipeline
	tracker := dispatch.NewTracker(jobStore)
	enqueuer := dispatch.NewAsynqEnqueuer(asynqClient, retention)
	router := dispatch.NewRouter(cfg.EnabledEngines(), enqueuer)
	assembler := assemble.New(storageClient, cfg.Publish.Enabled && storageClient != nil)

	// Initialize services
	modelService := service.NewModelService(lib, cacheStore, tracker, router, storageClient, cfg.Wait)

	// Initialize handlers
	modelHandler := handler.NewModelHandler(modelService, validate)
	jobHandler := handler.NewJobHandler(modelService)
	libraryHandler := handler.NewLibraryHandler(lib)

	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    4 * 1024 * 1024, // 4MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Base URL - timestamp
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		engines := fiber.Map{}
		for _, engine := range model.ValidEngines {
			engines[string(engine)] = cfg.Engines[engine].Enabled
		}
		return c.JSON(fiber.Map{
			"status":  "ok",
			"redis":   redisAvailable,
			"storage": storageClient != nil,
			"scripts": lib.Count(),
			"engines": engines,
		})
	})

	// API routes
	api := app.Group("/api")

	// Library routes
	libGroup := api.Group("/library")
	libGroup.Get("/", libraryHandler.List)
	libGroup.Get("/search", rateLimiter.SearchLimit(cfg.RateLimit.SearchPerMin), libraryHandler.Search)
	libGroup.Post("/reload", libraryHandler.Reload)
	libGroup.Get("/:org/:script", libraryHandler.Get)

	// Model routes
	models := api.Group("/models", rateLimiter.ComputeLimit(cfg.RateLimit.ComputePerHour))
	models.Post("/:org/:script", modelHandler.Request)
	models.Post("/:org/:script/:version", modelHandler.RequestVersion)

	// Job routes
	jobs := api.Group("/jobs")
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)
	jobs.Get("/:jobId/download", jobHandler.Download)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, tracker, assembler, cacheStore, hub)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(
	cfg *config.Config,
	tracker *dispatch.Tracker,
	assembler *assemble.Assembler,
	cacheStore cache.Store,
	hub *ws.Hub,
) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	// One queue per enabled engine, weighted by its config
	queues := make(map[string]int)
	for _, engine := range cfg.EnabledEngines() {
		weight := cfg.Engines[engine].Weight
		if weight <= 0 {
			weight = 1
		}
		queues[string(engine)] = weight
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 10,
			Queues:      queues,
			LogLevel:    asynqLogLevel,
		},
	)

	mux := asynq.NewServeMux()
	for _, engine := range cfg.EnabledEngines() {
		engineCfg := cfg.Engines[engine]

		var executor worker.Executor
		if engineCfg.ServiceURL != "" {
			timeout := time.Duration(engineCfg.Timeout) * time.Second
			executor = worker.NewEngineExecutor(client.NewEngineClient(engine, engineCfg.ServiceURL, timeout))
			log.Printf("Engine %s: using sidecar at %s", engine, engineCfg.ServiceURL)
		} else {
			executor = worker.NewMockExecutor(engine)
			log.Printf("Engine %s: no sidecar configured, using mock executor", engine)
		}

		w := worker.NewScriptWorker(engine, executor, tracker, assembler, cacheStore, hub)
		mux.HandleFunc(dispatch.TaskType(engine), w.ProcessTask)
	}

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": err.Error(),
		},
	})
}
