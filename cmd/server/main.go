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
	"widget-sync-engine/auth"
	"widget-sync-engine/internal/changelog"
	"widget-sync-engine/internal/config"
	"widget-sync-engine/internal/db"
	"widget-sync-engine/internal/middleware"
	"widget-sync-engine/internal/permission"
	"widget-sync-engine/internal/session"
	"widget-sync-engine/internal/syncrt"
	"widget-sync-engine/internal/worker"
	"widget-sync-engine/redis"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Connect to database
	db.ConnectDb()
	defer db.CloseDb()

	// Migrate database schema
	db.Migrate()

	// Initialize Redis
	cache := redis.NewCache(config.AppConfig.RedisAddress)
	defer cache.Close()

	// Background workers
	pool := worker.NewWorkerPool(4, 1000)
	defer pool.Shutdown()

	// Initialize repositories
	permRepo := permission.NewRepository(db.AppDb)
	sessionRepo := session.NewRepository(db.AppDb)
	changeRepo := changelog.NewRepository(db.AppDb)

	// Initialize services
	permService := permission.NewService(permRepo)
	sessionService := session.NewService(sessionRepo, permService, cache, pool)
	changeService := changelog.NewService(changeRepo, permService, sessionService, sessionRepo, cache, pool)

	// Initialize handlers
	permHandler := permission.NewHandler(permService)
	sessionHandler := session.NewHandler(sessionService)
	changeHandler := changelog.NewHandler(changeService)

	// Sync client runtime follows the identity provider's auth stream
	runtimeOpts := syncrt.DefaultOptions()
	runtimeOpts.BackoffFloor = config.AppConfig.ReconnectBackoffFloor
	runtimeOpts.BackoffCeil = config.AppConfig.ReconnectBackoffCeil
	runtimeOpts.MaxReconnectAttempts = config.AppConfig.MaxReconnectAttempts
	runtime := syncrt.New(runtimeOpts)
	defer runtime.Cleanup()

	if cache.Available() {
		if err := runtime.RegisterListener("auth-state", syncrt.AuthStateListener(cache, runtime)); err != nil {
			log.Printf("Failed to register auth-state listener: %v", err)
		}
	}

	// Idle session sweep
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(config.AppConfig.SessionSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepStop:
				return
			case <-ticker.C:
				pool.Submit(func(ctx context.Context) error {
					return sessionService.RunIdleSweep(ctx, config.AppConfig.SessionIdleTimeout)
				})
			}
		}
	}()
	defer close(sweepStop)

	// Initialize Gin router
	router := gin.Default()
	router.Use(middleware.ErrorHandler())

	// cors setting
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
	}

	if config.AppConfig.Environment == "development" {
		// Allow all origins in development
		corsConfig.AllowAllOrigins = true
	} else {
		// Restrict origins in production
		corsConfig.AllowOrigins = []string{config.AppConfig.FrontendAddress}
	}
	router.Use(cors.New(corsConfig))

	authed := router.Group("/", auth.AuthMiddleWare(cache))

	// Permission store
	authed.POST("/widgets/:id/permissions", permHandler.CreatePermissions)
	authed.DELETE("/widgets/:id/permissions", permHandler.DeletePermissions)
	authed.GET("/widgets/:id/permissions/check", permHandler.CheckPermission)
	authed.GET("/widgets/:id/collaborators", permHandler.ListCollaborators)
	authed.POST("/widgets/:id/collaborators", permHandler.Grant)
	authed.PUT("/widgets/:id/collaborators/:userId", permHandler.UpdateLevel)
	authed.DELETE("/widgets/:id/collaborators/:userId", permHandler.Revoke)
	authed.POST("/widgets/:id/transfer-ownership", permHandler.TransferOwnership)

	// Session manager
	authed.POST("/widgets/:id/sessions", sessionHandler.Start)
	authed.GET("/widgets/:id/sessions", sessionHandler.ListActiveForWidget)
	authed.GET("/sessions/:sessionId", sessionHandler.Show)
	authed.POST("/sessions/:sessionId/join", sessionHandler.Join)
	authed.POST("/sessions/:sessionId/leave", sessionHandler.Leave)
	authed.DELETE("/sessions/:sessionId", sessionHandler.End)

	// Change log
	authed.POST("/widgets/:id/changes", changeHandler.RecordChange)
	authed.GET("/widgets/:id/changes", changeHandler.ShowHistory)
	authed.GET("/changes/:changeId", changeHandler.ShowChange)
	authed.POST("/widgets/:id/sync", changeHandler.Synchronize)
	authed.GET("/widgets/:id/stats", changeHandler.ShowStats)

	// Server configuration
	serverPort := config.AppConfig.ServerPort
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", serverPort),
		Handler: router.Handler(),
	}

	// Start server
	go func() {
		log.Printf("Server listening on port %s", serverPort)
		err := server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Println("Server shutdown error:", err)
	}

	log.Println("Server shutdown complete")
}
