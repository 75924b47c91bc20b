package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strangertalk/relay/internal/config"
	"github.com/strangertalk/relay/internal/engine"
	"github.com/strangertalk/relay/internal/events"
	"github.com/strangertalk/relay/internal/handler"
	"github.com/strangertalk/relay/internal/messaging"
	"github.com/strangertalk/relay/internal/ratelimit"
	"github.com/strangertalk/relay/internal/registry"
	"github.com/strangertalk/relay/internal/report"
	"github.com/strangertalk/relay/internal/ws"
)

func main() {
	configPath := flag.String("config", os.Getenv("RELAY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	serverConfig := ws.DefaultServerConfig()
	serverConfig.ListenAddr = cfg.ListenAddr
	serverConfig.WorkerPoolSize = cfg.WorkerPoolSize
	serverConfig.MaxConnections = cfg.MaxConnections
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.Heartbeat = ws.HeartbeatConfig{
		Interval:        cfg.HeartbeatInterval,
		Timeout:         cfg.HeartbeatTimeout,
		IdentifyTimeout: cfg.IdentifyTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "relay-" + cfg.ServerName
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Redis (optional) ---
	var (
		rdb     *redis.Client
		limiter handler.Limiter
		users   engine.UserStore
		rateLim *ratelimit.Limiter
		restore []registry.User
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		pingCancel()

		rateLim = ratelimit.NewLimiter(rdb)
		limiter = rateLim

		store := registry.NewRedisStore(rdb)
		users = store
		loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
		restore, err = store.LoadAll(loadCtx)
		loadCancel()
		if err != nil {
			log.Fatalf("failed to load user snapshots: %v", err)
		}
	}

	// --- Postgres (optional) ---
	var reports engine.ReportStore
	if cfg.DatabaseDSN != "" {
		db, err := report.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			log.Fatalf("failed to connect to Postgres: %v", err)
		}
		defer db.Close()
		if err := report.Migrate(db); err != nil {
			log.Fatalf("failed to migrate report schema: %v", err)
		}
		reports = report.NewStore(db)
	}

	log.Printf("StrangerTalk relay starting")
	log.Printf("  listen_addr:     %s", serverConfig.ListenAddr)
	log.Printf("  worker_pool:     %d", serverConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", serverConfig.MaxConnections)
	log.Printf("  read_timeout:    %s", serverConfig.ReadTimeout)
	log.Printf("  write_timeout:   %s", serverConfig.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  reports_db:      %v", cfg.DatabaseDSN != "")
	log.Printf("  admins:          %d", len(cfg.AdminIDs))
	log.Printf("  dedupe_reports:  %v", cfg.DedupeReports)
	log.Printf("  server_name:     %s", cfg.ServerName)

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(serverConfig, dispatcher.Dispatch)

	eng := engine.New(engine.Options{
		Sink:          server,
		Users:         users,
		Reports:       reports,
		Events:        natsClient,
		Admins:        cfg.AdminIDs,
		DedupeReports: cfg.DedupeReports,
	})
	eng.Restore(restore)
	log.Printf("restored %d users", len(restore))

	handlers := handler.New(eng, limiter, server)
	handlers.Register(dispatcher)
	server.SetOnDisconnect(handlers.OnDisconnect)
	server.SetStats(func() any { return eng.Stats() })
	if rateLim != nil {
		server.SetAdmission(func(ip string) bool {
			admitCtx, admitCancel := context.WithTimeout(context.Background(), time.Second)
			defer admitCancel()
			ok, _ := rateLim.Allow(admitCtx, ip, ratelimit.RuleConnect)
			return ok
		})
	}

	if err := events.New(eng, cfg.AdminIDs).Register(natsClient); err != nil {
		log.Fatalf("failed to subscribe to NATS subjects: %v", err)
	}

	go eng.StartCleanup(ctx, cfg.CleanupInterval, server.Alive)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		cancel()
		natsClient.Close()
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
