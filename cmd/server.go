package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/qgin/qgin"
	"github.com/gcottom/semaphore"
	"github.com/gcottom/track-dl/config"
	"github.com/gcottom/track-dl/internal/events"
	"github.com/gcottom/track-dl/internal/handlers"
	"github.com/gcottom/track-dl/internal/metrics"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/gcottom/track-dl/internal/services/downloader"
	"github.com/gcottom/track-dl/internal/services/orchestrator"
	"github.com/gcottom/track-dl/internal/services/process"
	"github.com/gcottom/track-dl/internal/services/registry"
	"github.com/gcottom/track-dl/internal/store"
	"github.com/gcottom/track-dl/internal/store/memory"
	"github.com/gcottom/track-dl/internal/store/postgres"
	"github.com/gcottom/track-dl/pkg/youtube"
	"github.com/gin-contrib/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func init() {
	c := color.New(color.FgCyan)
	c.Print(`
 _____  ____      _      ____  _  __      ____   _
|_   _||  _ \    / \    / ___|| |/ /     |  _ \ | |
  | |  | |_) |  / _ \  | |    | ' /_____ | | | || |
  | |  |  _ <  / ___ \ | |___ | . \|_____|| |_| || |___
  |_|  |_| \_\/_/   \_\ \____||_|\_\     |____/ |_____|
|--------------------------------------------------------|
|          Track Download Orchestration Service          |
|--------------------------------------------------------|
`)
}

func main() {
	if err := RunServer(); err != nil {
		panic(err)
	}
}

func RunServer() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = zaplog.CreateAndInject(ctx)
	zaplog.InfoC(ctx, "starting download server...")

	cfg, err := config.LoadConfigFromFile("")
	if err != nil {
		zaplog.ErrorC(ctx, "failed to load config", zap.Error(err))
		return err
	}

	st, health, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeStore()

	publisher, closePublisher, err := openPublisher(ctx, cfg.RabbitMQ)
	if err != nil {
		return err
	}
	defer closePublisher()

	retryable := make([]model.Status, 0, len(cfg.Downloads.RetryableStatuses))
	for _, s := range cfg.Downloads.RetryableStatuses {
		status, err := model.ParseStatus(s)
		if err != nil {
			return err
		}
		retryable = append(retryable, status)
	}

	appMetrics := metrics.New("track_dl")
	lifecycle := &process.Service{Store: st, Publisher: publisher, Metrics: appMetrics}

	zaplog.InfoC(ctx, "creating downloader service...")
	downloaderService := &downloader.Service{
		DownloadLimiter: semaphore.NewSemaphore(cfg.Downloads.MaxConcurrent),
		DownloadQueue:   make(chan downloader.Job, cfg.Downloads.QueueSize),
		Lifecycle:       lifecycle,
		Metrics:         appMetrics,
		SaveDir:         cfg.SaveDir,
	}
	backends := registry.New()
	if cfg.Backends.YouTube.Enabled {
		backends.Register(downloader.NewYouTubeBackend(downloaderService, youtube.NewClient(), cfg.Backends.YouTube.Priority))
	}
	if cfg.Backends.Direct.Enabled {
		backends.Register(downloader.NewDirectBackend(downloaderService, &http.Client{Timeout: 30 * time.Minute}, cfg.Backends.Direct.Priority, cfg.Backends.Direct.Extensions))
	}
	for _, b := range backends.Backends() {
		zaplog.InfoC(ctx, "backend registered", zap.String("name", b.Name()), zap.Int("priority", b.Priority()))
	}

	orchestratorService := &orchestrator.Service{
		Store:     st,
		Registry:  backends,
		Metrics:   appMetrics,
		Retryable: retryable,
	}

	zaplog.InfoC(ctx, "creating gin engine...")
	ginws := qgin.NewGinEngine(&ctx, &qgin.Config{
		UseContextMW:       true,
		UseLoggingMW:       true,
		UseRequestIDMW:     false,
		InjectRequestIDCTX: false,
		LogRequestID:       false,
		ProdMode:           true,
	})
	ginws.Use(cors.New(cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	zaplog.InfoC(ctx, "setting up routes...")
	handlers.SetupRoutes(ginws, orchestratorService, health, appMetrics.Handler())

	server := &http.Server{Addr: cfg.ListenAddr, Handler: ginws}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zaplog.InfoC(ctx, "starting download queue processor...")
		return downloaderService.DownloadQueueProcessor(gctx)
	})
	g.Go(func() error {
		zaplog.InfoC(ctx, "setup complete, now listening and serving", zap.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		zaplog.InfoC(ctx, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, func(ctx context.Context) error, func(), error) {
	if cfg.Driver != config.DriverPostgres {
		zaplog.WarnC(ctx, "using in-memory store, data is lost on restart")
		return memory.New(), nil, func() {}, nil
	}
	zaplog.InfoC(ctx, "connecting to postgres...")
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to connect to postgres", zap.Error(err))
		return nil, nil, nil, err
	}
	if err = db.Migrate(ctx); err != nil {
		zaplog.ErrorC(ctx, "failed to migrate schema", zap.Error(err))
		_ = db.Close()
		return nil, nil, nil, err
	}
	return db, db.Ping, func() { _ = db.Close() }, nil
}

func openPublisher(ctx context.Context, cfg config.RabbitMQConfig) (events.Publisher, func(), error) {
	if cfg.URL == "" {
		zaplog.InfoC(ctx, "rabbitmq not configured, process events are not published")
		return events.NoopPublisher{}, func() {}, nil
	}
	publisher, err := events.NewRabbitMQPublisher(ctx, cfg.URL, cfg.Exchange)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to connect to rabbitmq", zap.Error(err))
		return nil, nil, err
	}
	return publisher, func() { _ = publisher.Close() }, nil
}
