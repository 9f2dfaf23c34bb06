package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tilerealm/server/internal/api"
	"github.com/tilerealm/server/internal/api/replay"
	"github.com/tilerealm/server/internal/auth"
	"github.com/tilerealm/server/internal/cache"
	"github.com/tilerealm/server/internal/catalog"
	"github.com/tilerealm/server/internal/config"
	"github.com/tilerealm/server/internal/eventbus"
	"github.com/tilerealm/server/internal/gateway"
	"github.com/tilerealm/server/internal/logging"
	"github.com/tilerealm/server/internal/movement"
	"github.com/tilerealm/server/internal/network"
	"github.com/tilerealm/server/internal/observability"
	"github.com/tilerealm/server/internal/session"
	"github.com/tilerealm/server/internal/storage"
)

func main() {
	fs := flag.NewFlagSet("tilerealm-server", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a YAML config file (falls back to $GAME_CONFIG)")
	cfg := config.Default()
	config.BindFlags(fs, cfg)
	fs.Parse(os.Args[1:])

	loaded, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed, using defaults: %v\n", err)
	} else {
		cfg = loaded
		// Re-apply the command line on top of the file and environment so
		// flags keep the highest priority.
		overrides := flag.NewFlagSet("tilerealm-server", flag.ExitOnError)
		overrides.String("config", "", "path to a YAML config file (falls back to $GAME_CONFIG)")
		config.BindFlags(overrides, cfg)
		overrides.Parse(os.Args[1:])
	}

	if err := logging.Init(cfg.Server.DataDir); err != nil {
		fmt.Fprintf(os.Stderr, "logging init failed: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	logging.Info("server: starting (data-dir=%s, tick-rate=%d)", cfg.Server.DataDir, cfg.Sim.TickRate)

	ctx := context.Background()
	shutdownTracing, err := observability.InitTracing(ctx, "tilerealm-server")
	if err != nil {
		logging.Warn("server: tracing disabled: %v", err)
		shutdownTracing = func(context.Context) error { return nil }
	}

	if cfg.Auth.JWTSecret != "" {
		if err := auth.SetSecret(cfg.Auth.JWTSecret); err != nil {
			logging.Warn("server: invalid configured JWT secret, keeping the generated one: %v", err)
		}
	}

	store, err := storage.Open(cfg.Server.DataDir)
	if err != nil {
		logging.Fatal("server: open storage: %v", err)
	}

	flusher := storage.NewFlusher(store, 2*time.Second, 256)
	flusher.Start()

	bus := buildEventBus(cfg.EventBus)
	eventbus.Init(bus)
	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("server: eventbus logging listener: %v", err)
	}

	cachedRepo := buildCache(cfg.Cache)

	auditLog, err := replay.NewStore(bus, 2000, eventbus.Filter{})
	if err != nil {
		logging.Warn("server: audit log disabled: %v", err)
		auditLog = nil
	}

	registry := catalog.NewRegistry(store, cachedRepo, bus, "tilerealm-server")
	sessions := session.NewManager(cfg.Sim.DormancyWindow())

	mux := network.NewMultiplexer()
	gw := gateway.New(sessions, registry, mux, store, flusher, bus, cfg.Sim.TickRate, movement.DefaultParams())
	gw.Run(5 * time.Second)

	onMessage := func(clientID string, payload []byte) { gw.HandleMessage(clientID, payload) }

	syncAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	entitiesAddr := fmt.Sprintf(":%d", cfg.Server.Port+1)
	kcpListener, err := network.ListenKCP(syncAddr, entitiesAddr, func(clientID string, ch *network.KCPChannel) {
		gw.HandleAccept(clientID, ch)
	}, onMessage)
	if err != nil {
		logging.Fatal("server: listen kcp: %v", err)
	}
	logging.Info("server: kcp listening (sync=%s, entities=%s)", syncAddr, entitiesAddr)

	wsHandler := network.WebSocketHandler(api.ClientIDFromRequest, func(clientID string, ch *network.WebSocketChannel) {
		gw.HandleAccept(clientID, ch)
	}, onMessage)

	restAddr := fmt.Sprintf(":%d", cfg.Server.RESTPort)
	apiServer := api.NewServer(api.Config{
		Port:          restAddr,
		Registry:      registry,
		Health:        observability.NewServerHealth(),
		Replay:        auditLog,
		PlayerCounter: gw.PlayerCount,
		Unloader:      gw.UnloadRealm,
		WSHandler:     wsHandler,
		ServerID:      "tilerealm-server",
		Environment:   "production",
	})
	if err := apiServer.Start(); err != nil {
		logging.Fatal("server: start admin api: %v", err)
	}
	logging.Info("server: admin http listening on %s", restAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("server: received signal %v, shutting down", sig)

	_ = apiServer.Stop()
	_ = kcpListener.Close()
	gw.Shutdown()
	if auditLog != nil {
		auditLog.Close()
	}
	flusher.Stop()
	_ = store.Close()
	_ = shutdownTracing(context.Background())

	logging.Info("server: stopped")
}

func buildEventBus(cfg config.EventBusConfig) eventbus.EventBus {
	if cfg.URL == "" {
		logging.Info("server: no eventbus url configured, using in-process bus")
		return eventbus.NewMemoryBus(1024)
	}
	retention := time.Duration(cfg.Retention) * time.Hour
	bus, err := eventbus.NewJetStreamBus(cfg.URL, cfg.Stream, retention)
	if err != nil {
		logging.Warn("server: jetstream bus unavailable (%v), falling back to in-process bus", err)
		return eventbus.NewMemoryBus(1024)
	}
	logging.Info("server: jetstream bus connected (%s)", cfg.URL)
	return bus
}

func buildCache(cfg config.CacheConfig) cache.CacheRepo {
	if cfg.RedisAddr == "" {
		logging.Info("server: no redis address configured, running catalog store-only")
		return nil
	}
	redisCfg := &cache.CacheConfig{
		RedisURL:   cfg.RedisAddr,
		DefaultTTL: time.Duration(cfg.TTLSecond) * time.Second,
	}
	repo, err := cache.NewRedisCache(redisCfg, nil, nil)
	if err != nil {
		logging.Warn("server: redis cache unavailable (%v), running catalog store-only", err)
		return nil
	}
	logging.Info("server: redis cache connected (%s)", cfg.RedisAddr)
	return repo
}
