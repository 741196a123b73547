package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tas-support-backend/auth"
	"github.com/tas-support-backend/config"
	"github.com/tas-support-backend/handlers"
	"github.com/tas-support-backend/models"
	"github.com/tas-support-backend/realtime"
	"github.com/tas-support-backend/services"
	"github.com/tas-support-backend/services/agents"
	"github.com/tas-support-backend/services/chat"
	"github.com/tas-support-backend/services/impl"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	db, err := initDB(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Client{},
		&models.User{},
		&models.ChatRoom{},
		&models.Message{},
		&models.SessionContext{},
	); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}

	// Metrics registry, exported on /metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	queryMetrics := impl.NewQueryMetrics(registry)
	ingestMetrics := impl.NewIngestMetrics(registry)

	// Shared infrastructure.
	cacheService := impl.NewCacheService(&cfg.Redis, cfg.Query.CacheCapacity)
	vectorStore := impl.NewVectorStore(&cfg.Vector)
	embedder := impl.NewEmbeddingService(&cfg.Embedding)
	llm := impl.NewLLMService(&cfg.LLM)
	loader := impl.NewDocumentLoader(nil, nil)
	chunkCache, err := impl.NewChunkCache(cfg.Ingestion.CacheDir)
	if err != nil {
		log.Fatal("Failed to initialize chunk cache:", err)
	}

	// RAG services.
	ingestionService := impl.NewIngestionService(&cfg.Ingestion, loader, embedder, vectorStore, chunkCache, ingestMetrics)
	queryService := impl.NewQueryService(&cfg.Query, embedder, vectorStore, llm, cacheService, queryMetrics)
	tenantService := impl.NewTenantService(vectorStore, cacheService, cfg.Vector.DefaultCollection)

	// Conversation stack.
	sessionStore := chat.NewSessionStore(db)
	detector := chat.NewHandoverDetector()
	extractor := chat.NewEntityExtractor(llm)

	localSource := agents.NewLocalSource(db)
	externalSource, err := agents.NewExternalSource(&cfg.ExternalAgent)
	if err != nil {
		log.Printf("Warning: external agent directory disabled: %v", err)
		externalSource = nil
	}
	waitQueue := agents.NewWaitQueue()
	directory := agents.NewDirectory(&cfg.Routing, localSource, externalSource, waitQueue,
		time.Duration(cfg.ExternalAgent.CacheTTL)*time.Second)

	hub := realtime.NewHub(5 * time.Second)
	notifier := realtime.NewNotifier(hub)

	conversationService := chat.NewConversationService(&cfg.Routing, sessionStore, queryService, detector, extractor, directory, notifier)

	// Handlers.
	chatHandlers := handlers.NewChatHandlers(sessionStore, conversationService, directory)
	documentHandlers := handlers.NewDocumentHandlers(ingestionService, tenantService)
	queryHandlers := handlers.NewQueryHandlers(queryService)
	tenantHandlers := handlers.NewTenantHandlers(tenantService)
	healthHandlers := handlers.NewHealthHandlers(vectorStore, llm, cfg.Server.Environment)
	wsHandlers := handlers.NewWSHandlers(hub, cfg.Server.AllowedOrigins)

	router := setupRouter(cfg, registry, chatHandlers, documentHandlers, queryHandlers, tenantHandlers, healthHandlers, wsHandlers)

	// Background sweeps: idle room closure and queue expiry.
	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	go runSweeps(sweepCtx, cfg, sessionStore, directory)

	srv := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("Support backend starting on %s", cfg.GetServerAddress())
		log.Printf("Vector store: %s", cfg.Vector.URL)
		log.Printf("LLM provider: %s/%s", cfg.LLM.Provider, cfg.LLM.Model)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")
	stopSweeps()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	log.Println("Server exited")
}

func initDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.URI), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)
	return db, nil
}

// runSweeps closes rooms idle past the session TTL and drops queue entries
// older than the queue timeout. Failures are logged and retried next tick.
func runSweeps(ctx context.Context, cfg *config.Config, store services.SessionStore, directory services.AgentDirectory) {
	sessionTTL := time.Duration(cfg.Routing.SessionTTLHours) * time.Hour
	queueTimeout := time.Duration(cfg.Routing.QueueTimeoutMs) * time.Millisecond

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := directory.SweepQueue(queueTimeout); n > 0 {
				log.Printf("[QUEUE] Dropped %d timed-out entries", n)
			}
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			closed, err := store.CloseIdleRooms(sweepCtx, time.Now().Add(-sessionTTL))
			cancel()
			if err != nil {
				log.Printf("[CHAT] Idle room sweep failed: %v", err)
			} else if closed > 0 {
				log.Printf("[CHAT] Closed %d idle rooms", closed)
			}
		}
	}
}

func setupRouter(
	cfg *config.Config,
	registry *prometheus.Registry,
	chatHandlers *handlers.ChatHandlers,
	documentHandlers *handlers.DocumentHandlers,
	queryHandlers *handlers.QueryHandlers,
	tenantHandlers *handlers.TenantHandlers,
	healthHandlers *handlers.HealthHandlers,
	wsHandlers *handlers.WSHandlers,
) *gin.Engine {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.GET("/health", healthHandlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.GET("/ws", wsHandlers.Connect)

	// Widget-facing chat routes are unauthenticated; rooms are scoped by
	// session token plus tenant.
	chatGroup := router.Group("/chat")
	{
		chatGroup.POST("/session", chatHandlers.StartSession)
		chatGroup.POST("/message", chatHandlers.PostMessage)
		chatGroup.GET("/history/:roomId", chatHandlers.GetHistory)
		chatGroup.GET("/conversations/:clientId", chatHandlers.GetConversations)
		chatGroup.POST("/escalate", chatHandlers.Escalate)
		chatGroup.POST("/close", chatHandlers.CloseConversation)
	}

	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret)

	// Agent console routes.
	agentGroup := router.Group("/chat/agent")
	agentGroup.Use(validator.Middleware())
	{
		agentGroup.POST("/message", chatHandlers.PostAgentMessage)
		agentGroup.GET("/available", chatHandlers.ListAvailableAgents)
	}

	// Knowledge base management.
	docGroup := router.Group("/documents")
	docGroup.Use(validator.Middleware())
	{
		docGroup.POST("/upload", documentHandlers.Upload)
		docGroup.POST("/batch-upload", documentHandlers.BatchUpload)
		docGroup.DELETE("/:tenant_id", documentHandlers.Delete)
		docGroup.GET("/stats/:tenant_id", documentHandlers.Stats)
	}

	queryGroup := router.Group("/query")
	{
		queryGroup.POST("", queryHandlers.Query)
		queryGroup.POST("/stream", queryHandlers.StreamQuery)
		queryGroup.POST("/semantic-search", queryHandlers.SemanticSearch)
		queryGroup.POST("/hybrid", queryHandlers.HybridQuery)
		queryGroup.GET("/metrics", queryHandlers.Metrics)
	}

	tenantGroup := router.Group("/tenants")
	tenantGroup.Use(validator.Middleware())
	{
		tenantGroup.GET("", tenantHandlers.List)
		tenantGroup.GET("/:tenant_id", tenantHandlers.Get)
		tenantGroup.DELETE("/:tenant_id", auth.RequireRole("admin"), tenantHandlers.Delete)
	}

	return router
}
