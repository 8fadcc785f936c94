package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/access"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/broadcast"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/chat"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/config"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/handler"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/logger"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/middleware"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/push"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/repository"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/startup"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/token"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/unread"
	"github.com/MakFly/chatrealtime-monorepo-sub002/internal/ws"
	"github.com/MakFly/chatrealtime-monorepo-sub002/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting chat API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
	defer rdb.Close()

	roomRepo := repository.NewRoomRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	unreadRepo := repository.NewUnreadRepository(pool)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workerWg sync.WaitGroup

	bcast := broadcast.New(broadcast.NewRedisPublisher(rdb), cfg.BroadcastQueueSize)
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		bcast.Run(workerCtx)
	}()

	hub := ws.NewHub(ws.Options{
		MaxConns:       cfg.MaxWSConnections,
		SendBufferSize: cfg.WSSendBufferSize,
		WriteTimeout:   time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongTimeout:    time.Duration(cfg.WSPongTimeout) * time.Second,
	})
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		hub.Run(workerCtx)
	}()

	bridge := ws.NewBridge(rdb, hub)
	workerWg.Add(1)
	go func() {
		defer workerWg.Done()
		bridge.Run(workerCtx)
	}()

	pushClient := push.NewClient(cfg.PushServiceURL)
	engine := unread.NewEngine(unreadRepo, bcast, cfg.Unread.GraceWindow)
	filter := access.NewFilter(roomRepo)
	svc := chat.NewService(roomRepo, msgRepo, filter, engine, bcast, chat.Options{
		MaxMessageLength: cfg.MaxMessageLength,
		HistoryPageSize:  cfg.HistoryPageSize,
		HistoryPageMax:   cfg.HistoryPageMax,
		Presence:         hub,
		Push:             pushClient,
	})

	verifier := token.NewVerifier(cfg.TokenSecret)
	roomH := handler.NewRoomHandler(svc)
	msgH := handler.NewMessageHandler(svc)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	pushH := handler.NewPushHandler(pushClient)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket upgrades: a wrapped ResponseWriter loses
	// http.Hijacker and the upgrade fails with a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(verifier))
		r.Post("/api/rooms", roomH.CreateRoom)
		r.Get("/api/rooms", roomH.ListRooms)
		r.Get("/api/topics", roomH.ListTopics)
		r.Post("/api/rooms/{roomId}/join", roomH.JoinRoom)
		r.Post("/api/rooms/{roomId}/leave", roomH.LeaveRoom)
		r.Get("/api/rooms/{roomId}/members", roomH.ListMembers)
		r.Get("/api/rooms/{roomId}/messages", msgH.GetMessages)
		r.Post("/api/rooms/{roomId}/messages", msgH.SendMessage)
		r.Post("/api/rooms/{roomId}/read", msgH.MarkAsRead)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/api/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	workerCancel()
	workerWg.Wait()
	logger.Info("workers stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// runMigrations replays every embedded migration in order. The files are
// written to be idempotent, so a replay on startup is safe.
func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chat"
		password = "chat_secret"
		database = "chat"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
