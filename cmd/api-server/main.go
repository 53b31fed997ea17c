package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"mangasync/internal/aggregate"
	"mangasync/internal/auth"
	"mangasync/internal/ingest"
	"mangasync/internal/progress"
	"mangasync/internal/resume"
	"mangasync/internal/series"
	synchub "mangasync/internal/sync"
	"mangasync/pkg/database"
	"mangasync/pkg/utils"
)

func main() {
	cfg, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	dbCfg := database.DefaultConfig().WithOverrides(cfg.DB.Driver, cfg.DB.Path, cfg.DB.DSN)
	if err := database.EnsureDataDir(dbCfg); err != nil {
		log.Fatalf("data dir: %v", err)
	}
	db := database.MustOpen(dbCfg)
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("db migrate failed: %v", err)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	router := gin.Default()

	// Optional: avoid “trusted all proxies” warning
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	tokenSvc := auth.TokenService{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Duration: cfg.Auth.JWTDuration,
	}

	hub := synchub.NewHub(nil)
	router.GET("/ws", synchub.WSHandler(hub, tokenSvc))
	tcpSrv := synchub.NewServer(cfg.TCPAddr, hub)
	tcpSrv.Authorize = synchub.TokenAuthorizer(tokenSvc, cfg.Live.TrustUserID)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "db": dbCfg.Describe()})
	})

	router.GET("/ready", func(c *gin.Context) {
		stats := hub.Stats()
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":      "not_ready",
				"db_error":    "ping failed",
				"tcp_clients": stats.TCPClients,
				"ws_clients":  stats.WSClients,
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":      "ready",
			"db":          "ok",
			"tcp_clients": stats.TCPClients,
			"ws_clients":  stats.WSClients,
		})
	})

	seriesRepo := series.NewRepo(db)
	progressRepo := progress.NewRepo(db)
	prefsRepo := resume.NewRepo(db)

	gate := ingest.NewGate(seriesRepo, progressRepo, hub, policyFrom(cfg.Ingest), nil)
	if cfg.File != "" {
		err := utils.WatchPolicy(ctx, cfg.File, func(p utils.PolicyConfig) {
			gate.SetPolicy(policyFrom(p))
		}, nil)
		if err != nil {
			log.Printf("[config] not watching %s: %v", cfg.File, err)
		}
	}

	router.GET("/debug", func(c *gin.Context) {
		stats := hub.Stats()
		p := gate.Policy()
		c.JSON(http.StatusOK, gin.H{
			"db":                   dbCfg.Describe(),
			"tcp_clients":          stats.TCPClients,
			"ws_clients":           stats.WSClients,
			"subscriptions":        stats.Subscriptions,
			"retrograde_tolerance": p.RetrogradeTolerance.String(),
			"min_sync_interval":    p.MinSyncInterval.String(),
		})
	})

	// Ingest (public, extension callers)
	ingestHandler, err := ingest.NewHandler(gate, tokenSvc)
	if err != nil {
		log.Fatalf("ingest handler: %v", err)
	}
	ingestHandler.RegisterRoutes(router)

	// Protected routes
	protected := router.Group("")
	protected.Use(auth.AuthMiddleware(tokenSvc))

	protected.GET("/users/me", func(c *gin.Context) {
		claims := auth.MustGetClaims(c)
		c.JSON(http.StatusOK, gin.H{
			"id":       claims.UserID,
			"username": claims.Username,
		})
	})

	agg := aggregate.NewService(progressRepo, nil)
	progressHandler := progress.NewHandler(progressRepo, seriesRepo, agg, prefsRepo, hub)
	progressHandler.RegisterRoutes(protected)

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}

	errCh := make(chan error, 2)
	var wg sync.WaitGroup

	// bind TCP first so port conflicts show up before HTTP starts
	if err := tcpSrv.Listen(); err != nil {
		log.Fatalf("tcp listen: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tcpSrv.Serve(); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("HTTP API server listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("shutdown signal received: %s", sig)
	case err := <-errCh:
		log.Printf("server error: %v", err)
	}

	log.Println("shutting down servers")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if err := tcpSrv.Close(); err != nil {
		log.Printf("tcp shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("servers stopped")
}

func policyFrom(p utils.PolicyConfig) ingest.Policy {
	return ingest.Policy{RetrogradeTolerance: p.RetrogradeTolerance, MinSyncInterval: p.MinSyncInterval}
}
