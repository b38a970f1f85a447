package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	appcfg "github.com/park285/cheese-session/internal/config"
	"github.com/park285/cheese-session/internal/chat"
	"github.com/park285/cheese-session/internal/gateway"
	"github.com/park285/cheese-session/internal/history"
	"github.com/park285/cheese-session/internal/match"
	"github.com/park285/cheese-session/internal/msgcat"
	"github.com/park285/cheese-session/internal/notify"
	"github.com/park285/cheese-session/internal/obslog"
	"github.com/park285/cheese-session/internal/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Printf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis url error: %v", err)
	}
	rdb := redis.NewClient(opt)
	pctx, pcancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pctx).Err(); err != nil {
		pcancel()
		log.Fatalf("redis ping error: %v", err)
	}
	pcancel()

	repo, err := store.NewRepository(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db init error: %v", err)
	}

	catalog, err := msgcat.New(cfg.MsgCatDir)
	if err != nil {
		log.Fatalf("message catalog error: %v", err)
	}

	bus := notify.NewBus(rdb)
	sessions := match.NewManager(rdb, bus, match.WithResultWriter(repo), match.WithTTL(cfg.SessionTTL))
	profiles := history.NewCachedProfiles(rdb, repo, cfg.ProfileCacheTTL)
	agg := history.NewAggregator(repo, profiles,
		history.WithLimit(cfg.HistoryLimit),
		history.WithPreview(cfg.HistoryPreview),
		history.WithCatalog(catalog),
	)

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gateway.NewRouter(gateway.Deps{
		Sessions:       sessions,
		Chat:           chat.NewHub(repo, bus),
		History:        agg,
		Profiles:       profiles,
		Catalog:        catalog,
		Auth:           gateway.NewAuth(cfg.JWTSecret),
		AllowedOrigins: cfg.AllowedOrigins,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http_serve_error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown")

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	_ = srv.Shutdown(sctx)
	_ = rdb.Close()
	_ = repo.Close()
}
