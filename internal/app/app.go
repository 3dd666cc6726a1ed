package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/confesso/core/internal/config"
	"github.com/confesso/core/internal/database"
	"github.com/confesso/core/internal/docstore"
	"github.com/confesso/core/internal/geocode"
	"github.com/confesso/core/internal/middleware"
	"github.com/confesso/core/internal/modules/auth"
	"github.com/confesso/core/internal/modules/comment"
	"github.com/confesso/core/internal/modules/gateway"
	"github.com/confesso/core/internal/modules/nearby"
	"github.com/confesso/core/internal/modules/report"
	"github.com/confesso/core/internal/modules/secret"
	pkgcron "github.com/confesso/core/internal/pkg/cron"
	"github.com/confesso/core/internal/pkg/moderation"
	"github.com/confesso/core/internal/pkg/nativelog"
	pkgredis "github.com/confesso/core/internal/pkg/redis"
	"github.com/confesso/core/internal/preference"
	"github.com/confesso/core/internal/region"
	"github.com/confesso/core/internal/session"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	logger *zap.Logger
	logs   *nativelog.Writer

	store      docstore.Store
	closeStore func()
	mongo      *mongo.Client
	rc    *pkgredis.Client
	hub   *gateway.Hub
	sched *pkgcron.Scheduler

	authSvc    *auth.Service
	secretSvc  *secret.Service
	commentSvc *comment.Service
	reportSvc  *report.Service
	nearbySvc  *nearby.Service

	cancel       context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
}

// New initializes the application: config → store → Redis → services → routes.
// logs may be nil when the process logs to stdout only.
func New(logger *zap.Logger, cfg *config.AppConfig, logs *nativelog.Writer) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	applyRuntimeSettings(cfg, logger)

	a := &App{cfg: cfg, logger: logger, logs: logs}
	ok := false
	defer func() {
		if !ok {
			a.closeResources()
		}
	}()

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled() {
		rc, err := pkgredis.Connect(cfg.Redis.URLValue(), cfg.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.rc = rc
	} else {
		logger.Warn("redis is not configured; radius preferences are kept in memory and rate limiting is off")
	}

	dir, err := region.LoadDirectory(cfg.Regions.File)
	if err != nil {
		return nil, fmt.Errorf("regions: %w", err)
	}

	var kv preference.KV = preference.NewMemoryKV()
	if a.rc != nil {
		kv = preference.NewRedisKV(a.rc)
	}
	radius := preference.NewRadius(kv, logger, cfg.Feed.DefaultRadiusKm, cfg.Feed.MinRadiusKm, cfg.Feed.MaxRadiusKm)
	geocoder := a.newGeocoder(dir)

	var words []string
	if cfg.Moderation.Enabled {
		words = cfg.Moderation.Words
	}
	filter := moderation.New(words)

	a.authSvc = auth.NewService(auth.Options{
		Username:     cfg.Admin.Username,
		PasswordHash: cfg.Admin.PasswordHash,
		TokenTTL:     cfg.Admin.TokenTTL,
		FailureDelay: cfg.Admin.FailureDelay,
	}, logger)

	a.hub = gateway.NewHub(gateway.Options{
		Redis:  a.rc,
		Logger: logger,
		Sessions: func(deviceID string, emit session.Emitter) gateway.Session {
			return session.New(deviceID, session.Deps{
				Store:           a.store,
				Radius:          radius,
				Directory:       dir,
				Geocoder:        geocoder,
				Logger:          logger,
				LocationTimeout: cfg.Location.Timeout,
				GeocodeTimeout:  cfg.Geocode.Timeout,
				PromptTimeout:   cfg.Location.PromptTimeout,
				RetryDelay:      cfg.Location.RetryDelay,
				MaxRetryDelay:   cfg.Location.MaxRetryDelay,
				MinRadiusKm:     cfg.Feed.MinRadiusKm,
				MaxRadiusKm:     cfg.Feed.MaxRadiusKm,
			}, emit)
		},
		ValidateAdmin: func(token string) bool {
			_, err := a.authSvc.Validate(token)
			return err == nil
		},
		LogPath: a.logPath(),
	})

	a.secretSvc = secret.NewService(a.store, geocoder, filter, a.hub, logger, secret.Options{
		MaxLength:      cfg.Feed.MaxTextLength,
		GeocodeTimeout: cfg.Geocode.Timeout,
	})
	a.commentSvc = comment.NewService(a.store, filter, logger, cfg.Feed.MaxTextLength)
	a.reportSvc = report.NewService(a.store, logger, cfg.Feed.MaxReportLength)
	a.nearbySvc = nearby.NewService(a.store, radius, geocoder, dir, logger)

	a.sched = pkgcron.New(logger)
	a.registerJobs()

	a.router = a.newRouter()
	a.registerRoutes()

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.hub.Run(ctx)
	}()
	a.sched.Start(ctx)

	ok = true
	return a, nil
}

func (a *App) openStore() error {
	if a.cfg.Mongo.URI == "" {
		a.logger.Warn("mongo.uri is empty; documents are kept in memory and lost on restart")
		mem := docstore.NewMemory(a.logger)
		a.store, a.closeStore = mem, mem.Close
		return nil
	}
	client, db, err := database.Connect(context.Background(), a.cfg.Mongo, a.logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	store := docstore.NewMongo(db, a.logger)
	a.mongo = client
	a.store, a.closeStore = store, store.Close
	return nil
}

func (a *App) newGeocoder(dir *region.StaticDirectory) geocode.Geocoder {
	var g geocode.Geocoder = geocode.Normalize(geocode.NewNominatim(geocode.Options{
		BaseURL:   a.cfg.Geocode.BaseURL,
		Language:  a.cfg.Geocode.Language,
		UserAgent: a.cfg.Geocode.UserAgent,
		Timeout:   a.cfg.Geocode.Timeout,
	}, a.logger), dir)
	if a.rc != nil {
		g = geocode.NewCached(g, a.rc, a.cfg.Geocode.CacheTTL, a.logger)
	}
	return g
}

func (a *App) logPath() func(time.Time) string {
	if a.logs == nil {
		return nil
	}
	return a.logs.TodayPath
}

func (a *App) newRouter() *gin.Engine {
	if a.cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(a.logger))

	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Device-Id", "X-Idempotence"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
	}
	if len(a.cfg.AllowedOrigins) > 0 && !a.cfg.IsDev() {
		corsConfig.AllowOriginFunc = allowOrigin(a.cfg.AllowedOrigins)
	} else {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	}
	router.Use(cors.New(corsConfig))
	return router
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the gateway and the jobs, then closes the store and the
// connections. It is safe to call more than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		if a.cancel != nil {
			a.cancel()
		}
		a.wg.Wait()
		if a.sched != nil {
			a.sched.Wait()
		}
		a.closeResources()
	})
}

func (a *App) closeResources() {
	if a.closeStore != nil {
		a.closeStore()
	}
	if a.mongo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.mongo.Disconnect(ctx); err != nil {
			a.logger.Warn("mongodb disconnect failed", zap.Error(err))
		}
	}
	if a.rc != nil {
		if err := a.rc.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
}

var processStart = time.Now()
