package app

import (
	"context"
	"errors"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/haomingcsy/bestfoodwhere-sub001/internal/cache"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/clients"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/config"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/handlers"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/middleware"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/notify"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/queue"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/repository"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/service"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/storage"
	"github.com/haomingcsy/bestfoodwhere-sub001/internal/worker"
	"github.com/haomingcsy/bestfoodwhere-sub001/pkg/database"
	"github.com/haomingcsy/bestfoodwhere-sub001/pkg/redis"
)

const lockPrefix = "placesync:lock:"

// App holds the wired services shared by the server and the CLI.
type App struct {
	Config *config.Config
	Logger *zap.SugaredLogger

	DB     *gorm.DB
	Redis  *goredis.Client
	Broker queue.Broker

	Restaurants repository.RestaurantRepository
	Places      service.PlacesService
	Detector    service.ChangeDetector
	Sync        service.SyncService
	Alerts      service.AlertService
	Reports     service.ReportService

	syncLimiter *middleware.IPRateLimiter
}

// New connects to Postgres and Redis, runs migrations and wires every
// service. RabbitMQ and S3 are optional: a failure there is logged and the
// app falls back to log-only alerts and local reports.
func New(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	db, err := database.Connect(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	a.DB = db

	if err := database.Migrate(db, log); err != nil {
		a.Close()
		return nil, err
	}

	redisClient, err := redis.Connect(cfg.Redis, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = redisClient

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if cfg.RabbitMQ.Enabled {
		broker, err := queue.NewRabbitMQBroker(queue.Config{
			URL:        cfg.RabbitMQ.URL,
			MaxRetries: cfg.RabbitMQ.MaxRetries,
			RetryDelay: cfg.RabbitMQ.RetryDelay,
		})
		if err != nil {
			log.Warnw("rabbitmq unavailable, alerts will only be logged", "error", err)
		} else {
			a.Broker = broker
			notifiers = append(notifiers, notify.NewBrokerNotifier(broker, queue.QueueNotifications))
			log.Info("connected to RabbitMQ")
		}
	}

	var uploader storage.Uploader
	if cfg.Reports.S3Bucket != "" {
		s3, err := storage.NewS3Uploader(ctx, storage.S3Config{
			Bucket: cfg.Reports.S3Bucket,
			Prefix: cfg.Reports.S3Prefix,
			Region: cfg.Reports.S3Region,
		})
		if err != nil {
			log.Warnw("s3 report upload disabled", "error", err)
		} else {
			uploader = s3
		}
	}

	restaurantRepo := repository.NewRestaurantRepository(db)
	historyRepo := repository.NewChangeHistoryRepository(db)
	queueRepo := repository.NewVerificationQueueRepository(db)
	usageRepo := repository.NewUsageLogRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient)

	placesClient := clients.NewPlacesClient(clients.PlacesConfig{
		APIKey:       cfg.Places.APIKey,
		BaseURL:      cfg.Places.BaseURL,
		CDNHost:      cfg.Places.CDNHost,
		LanguageCode: cfg.Places.LanguageCode,
		RegionCode:   cfg.Places.RegionCode,
		Timeout:      cfg.Places.Timeout,
		Throttle:     clients.NewThrottle(cfg.Places.MinSpacing),
	})

	a.Restaurants = restaurantRepo
	a.Places = service.NewPlacesService(placesClient, restaurantRepo, usageRepo, cacheRepo,
		service.PlacesConfig{CacheDuration: cfg.Places.CacheDuration}, log)
	a.Detector = service.NewChangeDetector(restaurantRepo, historyRepo, queueRepo, service.DetectorConfig{
		AutoApplyThreshold:     cfg.Detector.AutoApplyThreshold,
		LowConfidenceThreshold: cfg.Detector.LowConfidenceThreshold,
	}, log, service.WithStatsCache(cacheRepo, cfg.Detector.StatsCacheTTL))
	a.Sync = service.NewSyncService(a.Places, restaurantRepo, service.SyncConfig{
		CacheDuration: cfg.Places.CacheDuration,
		RegionHint:    cfg.Sync.RegionHint,
		CDNHost:       cfg.Places.CDNHost,
		BatchSize:     cfg.Sync.BatchSize,
		BatchDelay:    cfg.Sync.BatchDelay,
		Confidence:    cfg.Sync.Confidence,
		PhotoMaxWidth: cfg.Sync.PhotoMaxWidth,
		LockTTL:       cfg.Sync.LockTTL,
	}, log,
		service.WithChangeProcessor(a.Detector),
		service.WithEntityLocker(cache.NewRedisLocker(redisClient, lockPrefix)),
		service.WithNotifier(notifiers),
	)
	a.Alerts = service.NewAlertService(a.Places, a.Detector, notifiers, service.AlertConfig{
		CostThreshold:      cfg.Notify.CostThreshold,
		CostWindow:         cfg.Notify.CostWindow,
		PendingCriticalMin: cfg.Notify.PendingCriticalMin,
	}, log)
	if !cfg.App.Debug {
		a.syncLimiter = middleware.NewIPRateLimiter(rate.Limit(cfg.RateLimit.SyncPerIPRPS), cfg.RateLimit.SyncPerIPBurst, cfg.RateLimit.IPIdleTTL)
	}

	a.Reports = service.NewReportService(historyRepo, a.Detector, a.Places, uploader,
		service.ReportConfig{OutputDir: cfg.Reports.OutputDir}, log)

	return a, nil
}

// Scheduler returns the background workers enabled in config.
func (a *App) Scheduler() *worker.Scheduler {
	cfg := a.Config
	scheduler := worker.NewScheduler(a.Logger)

	if cfg.Workers.SyncEnabled {
		scheduler.AddWorker(worker.NewSyncWorker(a.Restaurants, a.Sync, a.Alerts, worker.SyncWorkerConfig{
			Interval:      cfg.Workers.SyncInterval,
			CacheDuration: cfg.Places.CacheDuration,
			DueLimit:      cfg.Sync.DueLimit,
			FetchPhoto:    cfg.Sync.FetchPhotos,
		}, a.Logger))
		a.Logger.Infow("sync worker enabled", "interval", cfg.Workers.SyncInterval)
	}

	if cfg.Workers.MonitorEnabled {
		scheduler.AddWorker(worker.NewMonitorWorker(a.Alerts, cfg.Workers.MonitorInterval, a.Logger))
		a.Logger.Infow("monitor worker enabled", "interval", cfg.Workers.MonitorInterval)
	}

	if a.syncLimiter != nil {
		scheduler.AddWorker(worker.NewCleanupWorker("ip-limiter-cleanup", a.syncLimiter, cfg.RateLimit.IPIdleTTL, a.Logger))
	}

	return scheduler
}

// Router builds the gin engine with the admin API under /api/v1.
func (a *App) Router() *gin.Engine {
	cfg := a.Config
	if cfg.App.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(a.Logger))

	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000", cfg.App.FrontendURL},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// only outside debug mode
	if !cfg.App.Debug {
		limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit.RequestsPerSecond), cfg.RateLimit.Burst)
		r.Use(middleware.RateLimitMiddleware(limiter, a.Logger))
		a.Logger.Infow("rate limiting enabled", "rps", cfg.RateLimit.RequestsPerSecond, "burst", cfg.RateLimit.Burst)
	}

	checks := map[string]handlers.Check{
		"database": func(ctx context.Context) error { return database.Ping(ctx, a.DB) },
		"redis":    func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() },
	}
	if a.Broker != nil {
		checks["rabbitmq"] = func(context.Context) error { return a.Broker.Ping() }
	}

	var syncMiddleware []gin.HandlerFunc
	if a.syncLimiter != nil {
		syncMiddleware = append(syncMiddleware, middleware.IPRateLimitMiddleware(a.syncLimiter, a.Logger))
	}

	handlers.Register(r.Group("/api/v1"), handlers.Handlers{
		Sync:    handlers.NewSyncHandler(a.Sync, a.Alerts, 30*time.Minute, a.Logger),
		Changes: handlers.NewChangesHandler(a.Detector, a.Places),
		Reports: handlers.NewReportHandler(a.Reports),
		Health: handlers.NewHealthHandler(checks, func(ctx context.Context) (map[string]string, error) {
			return redis.GetStats(ctx, a.Redis)
		}, gin.H{
			"workers": gin.H{
				"sync_enabled":    cfg.Workers.SyncEnabled,
				"monitor_enabled": cfg.Workers.MonitorEnabled,
			},
		}),
		SyncMiddleware: syncMiddleware,
	})
	return r
}

func (a *App) Close() error {
	var errs []error
	if a.Broker != nil {
		errs = append(errs, a.Broker.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
