// Package main is the Playdesk entry point. The single binary serves the
// HTTP API, the WebSocket gateway, and the background queue scheduler with
// shared storage and event bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/playdesk/playdesk/internal/ai"
	"github.com/playdesk/playdesk/internal/auth"
	"github.com/playdesk/playdesk/internal/common/config"
	"github.com/playdesk/playdesk/internal/common/httpmw"
	"github.com/playdesk/playdesk/internal/common/logger"
	"github.com/playdesk/playdesk/internal/common/ratelimit"
	"github.com/playdesk/playdesk/internal/common/tracing"
	"github.com/playdesk/playdesk/internal/db"
	"github.com/playdesk/playdesk/internal/events"
	gateways "github.com/playdesk/playdesk/internal/gateway/websocket"
	"github.com/playdesk/playdesk/internal/metrics"
	"github.com/playdesk/playdesk/internal/queue"
	quickreplyhandlers "github.com/playdesk/playdesk/internal/quickreply/handlers"
	quickreplyservice "github.com/playdesk/playdesk/internal/quickreply/service"
	quickreplystore "github.com/playdesk/playdesk/internal/quickreply/store"
	sessionengine "github.com/playdesk/playdesk/internal/session/engine"
	sessionhandlers "github.com/playdesk/playdesk/internal/session/handlers"
	sessionstore "github.com/playdesk/playdesk/internal/session/store"
	tickethandlers "github.com/playdesk/playdesk/internal/ticket/handlers"
	ticketservice "github.com/playdesk/playdesk/internal/ticket/service"
	ticketstore "github.com/playdesk/playdesk/internal/ticket/store"
	"github.com/playdesk/playdesk/internal/translation"
	userhandlers "github.com/playdesk/playdesk/internal/user/handlers"
	userservice "github.com/playdesk/playdesk/internal/user/service"
	userstore "github.com/playdesk/playdesk/internal/user/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("starting playdesk")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: NATS when configured, in-memory otherwise.
	eventBus, closeBus, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize event bus", zap.Error(err))
	}
	defer closeBus()

	// Storage.
	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer pool.Close()

	userStore, err := userstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("failed to initialize user store", zap.Error(err))
	}
	ticketStore, err := ticketstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("failed to initialize ticket store", zap.Error(err))
	}
	sessionStore, err := sessionstore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("failed to initialize session store", zap.Error(err))
	}
	quickReplyStore, err := quickreplystore.New(pool.Writer(), pool.Reader())
	if err != nil {
		log.Fatal("failed to initialize quick-reply store", zap.Error(err))
	}

	// Auth and user service.
	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenDurationTime())
	userSvc := userservice.NewService(userStore, eventBus, issuer,
		cfg.Realtime.PresenceGraceDuration(), log)
	defer userSvc.Close()
	if err := userSvc.EnsureAdmin(ctx, cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		log.Fatal("failed to seed admin account", zap.Error(err))
	}

	// AI and translation adapters.
	sealer, err := ai.NewCredentials(cfg.AI.EncryptionKey)
	if err != nil {
		log.Fatal("failed to initialize credential encryption", zap.Error(err))
	}
	aiAdapter := ai.NewAdapter(cfg.AI.BaseURL, cfg.AI.APIKeyCiphertext, sealer,
		cfg.AI.TimeoutDuration(), log)
	translator := translation.NewAdapter(cfg.Translation.BaseURL, cfg.Translation.APIKey,
		cfg.Translation.TimeoutDuration(), sessionStore, log)

	// Ticket service; the session engine is wired in below.
	ticketSvc := ticketservice.NewService(ticketStore, eventBus, userSvc.HasOnlineAgents, log)

	// Queue scheduler and session engine.
	scheduler := queue.NewScheduler(eventBus, cfg.Queue.RescoreIntervalDuration(),
		cfg.Queue.DefaultServiceTimeDuration(), log)
	scheduler.SetAgentProvider(&agentLoadProvider{users: userStore, sessions: sessionStore})

	engine := sessionengine.NewEngine(sessionStore, ticketSvc, userSvc,
		scheduler, aiAdapter, eventBus, log)
	engine.EnableAutoAssign(cfg.Queue.AutoAssignOnEnqueue)
	ticketSvc.SetSessionStarter(engine)
	userSvc.SetSessionCounter(sessionStore.CountInProgressByAgent)

	if err := engine.Rebuild(ctx); err != nil {
		log.Error("failed to rebuild queue state", zap.Error(err))
	}
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("failed to start queue scheduler", zap.Error(err))
	}

	quickReplySvc := quickreplyservice.NewService(quickReplyStore, log)

	// WebSocket gateway; the engine broadcasts ordered session events
	// through the hub.
	gateway := gateways.NewGateway(cfg, engine, ticketSvc, userSvc, issuer, eventBus, log)
	defer gateway.Close()
	engine.SetBroadcaster(gateway.Hub)
	go gateway.Hub.Run(ctx)

	// Metrics.
	m := metrics.New(log)
	m.SetStatusCounts(sessionStore.CountByStatus)
	m.SetGauge("playdesk_queue_depth", "Sessions waiting for an agent.", scheduler.TotalQueued)
	m.SetGauge("playdesk_ws_connections", "Connected WebSocket clients.", gateway.Hub.ClientCount)
	m.SetGauge("playdesk_ws_agents", "Connected staff WebSocket clients.", gateway.Hub.AgentCount)

	// HTTP rate limiter shared across API routes, keyed by user, ticket
	// token, or client IP.
	httpLimiter := ratelimit.NewKeyed(
		ratelimit.Limits{PerMinute: cfg.RateLimit.PlayerPerMinute, Burst: cfg.RateLimit.PlayerBurst},
		cfg.RateLimit.NoticeCooldownDuration(), cfg.RateLimit.IdleSweepDuration())
	go httpLimiter.RunSweeper(ctx, time.Minute)

	// Separate bucket for the endpoints that call the AI provider, keyed by
	// conversation handle when the request carries one.
	aiLimiter := ratelimit.NewKeyed(
		ratelimit.Limits{PerMinute: cfg.RateLimit.AIPerMinute, Burst: cfg.RateLimit.AIBurst},
		cfg.RateLimit.NoticeCooldownDuration(), cfg.RateLimit.IdleSweepDuration())
	go aiLimiter.RunSweeper(ctx, time.Minute)

	// HTTP server.
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	router.Use(httpmw.RequestLogger(log, "playdesk"))
	router.Use(httpmw.OtelTracing("playdesk"))
	router.Use(m.HTTPMiddleware())

	gateway.SetupRoutes(router)
	router.GET("/metrics", m.Handler(cfg.Metrics.AuthKey))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "playdesk"})
	})

	api := router.Group("/api/v1")
	api.Use(httpmw.OptionalAuth(issuer))
	api.Use(httpmw.RateLimit(httpLimiter))
	userhandlers.RegisterRoutes(api, userSvc, issuer, log)
	tickethandlers.RegisterRoutes(api, ticketSvc, sealer, issuer, log)
	sessionhandlers.RegisterRoutes(api, engine, ticketSvc, translator, issuer,
		httpmw.AIRateLimit(aiLimiter), log)
	quickreplyhandlers.RegisterRoutes(api, quickReplySvc, issuer, log)

	port := cfg.Server.Port
	if port == 0 {
		port = 8080
	}
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		log.Info("server listening", zap.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down playdesk")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("server error", zap.Error(err))
	}

	engine.Stop()
	scheduler.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}

	log.Info("playdesk stopped")
}

// agentLoadProvider joins agent presence from the user store with each
// agent's active-session load for auto-assignment.
type agentLoadProvider struct {
	users    *userstore.Store
	sessions *sessionstore.Store
}

func (p *agentLoadProvider) OnlineAgentLoads(ctx context.Context) ([]queue.AgentLoad, error) {
	agents, err := p.users.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	loads, err := p.sessions.InProgressLoads(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]queue.AgentLoad, 0, len(agents))
	for _, agent := range agents {
		if !agent.IsOnline {
			continue
		}
		load := queue.AgentLoad{AgentID: agent.ID, InProgress: loads[agent.ID]}
		if agent.LastLoginAt != nil {
			load.LastLoginAt = *agent.LastLoginAt
		}
		out = append(out, load)
	}
	return out, nil
}
