package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
)

var (
	addr       = flag.String("addr", "", "http service address, overrides config")
	configPath = flag.String("config", "", "path to a YAML config file")
)

func newUpgrader(cfg Config) *websocket.Upgrader {
	allowed := make(map[string]bool, len(cfg.CORSAllow))
	for _, o := range cfg.CORSAllow {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cfg.allowAnyOrigin() || allowed[origin]
		},
	}
}

// serveWs checks the room before upgrading, then runs the handshake and
// starts the connection's pumps.
func serveWs(h *Hub, registry RoomRegistry, upgrader *websocket.Upgrader, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := mux.Vars(r)["room"]
		room, ok, err := registry.Lookup(r.Context(), key)
		if err != nil {
			logger.Error("room.lookup", "room", key, "err", err)
			writeJSON(w, http.StatusServiceUnavailable, messageResponse{"Room lookup failed"})
			return
		}
		if !ok {
			h.metrics.rejections.WithLabelValues("room_not_found").Inc()
			writeJSON(w, http.StatusNotFound, messageResponse{"Room not found"})
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws.upgrade", "err", err)
			return
		}

		client := h.handshake(conn, room.ID.String())
		if client == nil {
			return
		}
		go client.writePump()
		h.announceJoin(client)
		go client.readPump()
	}
}

func newRouter(cfg Config, h *Hub, registry RoomRegistry, store roomStore, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	api := &roomAPI{store: store, hub: h, log: logger}

	router := mux.NewRouter()
	router.HandleFunc("/rooms", api.createRoomHandler).Methods("POST")
	router.HandleFunc("/rooms", api.listRoomsHandler).Methods("GET")
	router.HandleFunc("/rooms/{id}", api.getRoomHandler).Methods("GET")
	router.HandleFunc("/messages/{room}", serveWs(h, registry, newUpgrader(cfg), logger))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllow,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}).Handler(router)
}

func main() {
	flag.Parse()
	// Local .env is optional.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runMigrations(cfg.DatabaseURL, logger); err != nil {
		logger.Error("migrations", "err", err)
		os.Exit(1)
	}
	pool, err := openDB(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("postgres connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	db := &roomDB{pool: pool, log: logger}

	var registry RoomRegistry = db
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("redis connect", "err", err)
			os.Exit(1)
		}
		cache := newCachedRegistry(db, rdb, cfg.RoomCacheTTL, logger)
		registry = cache
		go listenRoomEvents(ctx, pool, cache, logger)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	hub := newHub(cfg.MaxUsersPerRoom, logger, newHubMetrics(reg))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(cfg, hub, registry, db, reg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server.listening", "addr", cfg.HTTPAddr, "max_users_per_room", cfg.MaxUsersPerRoom)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server.crash", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("server.shutdown.start")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server.shutdown", "err", err)
	}
	// Hijacked websocket connections are not tracked by the http.Server.
	hub.Shutdown()
	logger.Info("server.shutdown.complete")
}
