package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/notify"
	"github.com/chatsync/internal/queue"
	"github.com/chatsync/internal/reconcile"
	"github.com/chatsync/internal/remote/graphql"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/store"
	"github.com/chatsync/internal/store/memory"
	"github.com/chatsync/internal/store/pg"
	"github.com/chatsync/internal/store/redisstore"
	"github.com/chatsync/internal/view"
)

func main() {
	logger.SetPrefix("syncd")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting sync daemon")
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

	st, err := openStore(cfg)
	if err != nil {
		logger.Errorf("open store: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	api := graphql.New(cfg.RemoteEndpoint, cfg.RemoteToken)

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	user, err := api.CurrentUser(startCtx)
	startCancel()
	online := err == nil
	if !online {
		logger.Infof("remote unreachable at start, beginning offline: %v", err)
	}
	userID := os.Getenv("SYNC_USER_ID")
	if user != nil {
		userID = user.ID
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := st.PutUser(saveCtx, user); err != nil {
			logger.Errorf("cache current user: %v", err)
		}
		saveCancel()
	}
	if userID == "" {
		logger.Error("no current user: remote unreachable and SYNC_USER_ID is not set")
		os.Exit(1)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	monitor := connectivity.New(online, nil)
	hub := notify.NewHub()
	q := queue.New(st, api, monitor, hub, nil)
	rec := reconcile.New(st, hub, userID)
	v := view.New(st, hub, api, monitor, rec)

	// Зависшие после падения sending-записи возвращаются в очередь до
	// подписки на connectivity: их подберёт первый drain.
	recoverCtx, recoverCancel := context.WithTimeout(rootCtx, 10*time.Second)
	if err := q.RecoverStale(recoverCtx); err != nil {
		logger.Errorf("recover stale: %v", err)
	}
	recoverCancel()

	stopQueue := q.Start(rootCtx)
	defer stopQueue()

	var probeWg sync.WaitGroup
	probeWg.Add(1)
	go func() {
		defer probeWg.Done()
		monitor.RunProbe(rootCtx, &httpProber{url: cfg.RemoteEndpoint}, cfg.ProbeInterval)
	}()

	// Кеш чатов пополняется с сервера; подписки поднимаются на каждый
	// известный чат — и повторно на каждом переходе offline→online,
	// чтобы подхватить чаты, появившиеся за время офлайна.
	runner := reconcile.NewRunner(rec, api, monitor, nil)
	supervisor := reconcile.NewSupervisor(rootCtx, runner, rec, api, st)
	syncChats := func() {
		ctx, cancel := context.WithTimeout(rootCtx, 15*time.Second)
		defer cancel()
		if err := supervisor.SyncChats(ctx); err != nil {
			logger.Errorf("sync chats: %v", err)
		}
	}
	if err := supervisor.EnsureCached(rootCtx); err != nil {
		logger.Errorf("subscribe cached chats: %v", err)
	}
	if online {
		syncChats()
	}
	unsubscribeChats := monitor.OnChange(func(nowOnline bool) {
		if nowOnline {
			go syncChats()
		}
	})
	defer unsubscribeChats()

	msgH := handler.NewMessageHandler(q, v, userID)
	syncH := handler.NewSyncHandler(q, monitor, st)

	r := chi.NewRouter()
	r.Use(middleware.RequestLog)
	r.Use(middleware.RecoverJSON)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/status", syncH.Status)
	r.Get("/api/chats", syncH.Chats)
	r.Get("/api/chats/{chatId}/messages", msgH.Timeline)
	r.Post("/api/chats/{chatId}/messages", msgH.Send)
	r.Post("/api/messages/{localId}/retry", msgH.Retry)
	r.Post("/api/sync", syncH.ForceSync)

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
		logger.Infof("listening on %s", cfg.ServerAddr)
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
	rootCancel()
	supervisor.Wait()
	probeWg.Wait()
	q.Wait()
	srvWg.Wait()
	logger.Info("sync daemon stopped")
}

// openStore выбирает реализацию локального хранилища по конфигурации.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "pg":
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		if err := startup.RunMigrations(pool); err != nil {
			pool.Close()
			return nil, err
		}
		return pg.New(pool), nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return redisstore.New(ctx, cfg.RedisURL)
	case "memory":
		logger.Info("store_backend=memory: данные не переживут перезапуск")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// httpProber проверяет доступность сервера запросом HEAD.
type httpProber struct {
	url string
}

func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5433
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
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

	cfg.StoreBackend = "pg"
	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
