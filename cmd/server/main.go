package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hologram-chat/rendezvous-server/internal/config"
	"github.com/hologram-chat/rendezvous-server/internal/database"
	"github.com/hologram-chat/rendezvous-server/internal/governor"
	"github.com/hologram-chat/rendezvous-server/internal/handler"
	"github.com/hologram-chat/rendezvous-server/internal/jobs"
	"github.com/hologram-chat/rendezvous-server/internal/matchmaking"
	"github.com/hologram-chat/rendezvous-server/internal/metrics"
	"github.com/hologram-chat/rendezvous-server/internal/middleware"
	"github.com/hologram-chat/rendezvous-server/internal/redis"
	"github.com/hologram-chat/rendezvous-server/internal/repository"
	"github.com/hologram-chat/rendezvous-server/internal/service"
	"github.com/hologram-chat/rendezvous-server/internal/worker"
)

const statsRateLimitPerMin = 60

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	log.Info().Msg("database connected")

	if cfg.SchemaDir != "" {
		if err := db.ApplySchema(ctx, cfg.SchemaDir); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.SchemaDir).Msg("failed to apply database schema")
		}
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	waitingRepo := repository.NewWaitingRepository(db.DB)
	ledgerRepo := repository.NewLedgerRepository(db, repository.BanPolicyFromConfig(cfg))
	blockRepo := repository.NewBlockRepository(db.DB)
	identityRepo := repository.NewIdentityRepository(db.DB)
	skipHistory := redis.NewSkipHistory(redisClient.Client, cfg.SkipHistory())

	rateLimiter := service.NewRateLimiter(redisClient.Client)
	receipts := service.NewReceiptVerifier(cfg.ReceiptURL, cfg.ReceiptSandboxURL)
	push := service.NewPushNotifier(cfg.PushURL, cfg.PushTopic, cfg.ServerName)

	pool := worker.NewPool(cfg.MaxLiveRequests, config.ReceiptTimeout)
	defer pool.Close()

	cleanupJob := jobs.NewCleanupJob(ledgerRepo, waitingRepo, cfg.ServerName, config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	house := matchmaking.NewHouse(matchmaking.SettingsFromConfig(cfg), matchmaking.Dependencies{
		Store:      waitingRepo,
		Ledger:     ledgerRepo,
		Blocks:     blockRepo,
		Skips:      skipHistory,
		Identities: identityRepo,
		Receipts:   receipts,
		Push:       push,
		Pool:       pool,
		Metrics:    m,
	})

	opts := governor.OptionsFromConfig(cfg)
	opts.Limiter = rateLimiter
	opts.Metrics = m
	gov := governor.New(house, opts)

	ln, err := net.Listen("tcp", cfg.TCPAddr())
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.TCPAddr()).Msg("failed to listen for streams")
	}
	udpAddr, err := net.ResolveUDPAddr("udp", cfg.UDPAddr())
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.UDPAddr()).Msg("invalid datagram address")
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.UDPAddr()).Msg("failed to listen for datagrams")
	}

	go func() {
		if err := gov.Serve(ln); err != nil {
			log.Fatal().Err(err).Msg("stream listener error")
		}
	}()
	go func() {
		if err := gov.ServeDatagrams(udpConn); err != nil {
			log.Fatal().Err(err).Msg("datagram listener error")
		}
	}()

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	statsRateLimit := middleware.NewIPRateLimitMiddleware(rateLimiter, statsRateLimitPerMin, config.LogonRateWindow, "stats")

	statsHandler := handler.NewStatsHandler(cfg.ServerName, house, gov, map[string]handler.PingFunc{
		"database": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}, registry)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(securityHeadersMiddleware.Handler)

	r.Mount("/", statsHandler.Routes())
	r.Route("/v1", func(r chi.Router) {
		r.Use(statsRateLimit.Handler)
		r.Get("/stats", statsHandler.Stats)
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerRequestTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Msg("starting admin server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	log.Info().
		Str("server", cfg.ServerName).
		Str("tcp", cfg.TCPAddr()).
		Str("udp", cfg.UDPAddr()).
		Msg("rendezvous server running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}
	if err := gov.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("streams did not drain before the deadline")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
