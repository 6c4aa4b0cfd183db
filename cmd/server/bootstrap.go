package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/magiclink/internal/api"
	"github.com/charlesng35/magiclink/internal/app"
	"github.com/charlesng35/magiclink/internal/app/maintenance"
	iauth "github.com/charlesng35/magiclink/internal/auth"
	"github.com/charlesng35/magiclink/internal/database"
	"github.com/charlesng35/magiclink/internal/notify"
	"github.com/charlesng35/magiclink/internal/store"
	"github.com/charlesng35/magiclink/pkg/logger"
	"github.com/charlesng35/magiclink/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   *redis.Client
	Mongo   *mongo.Client
	Store   store.Store
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime opens the configured store, wires the services and builds
// the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	success := false

	defer func() {
		if !success {
			if err := stack.Shutdown(context.Background()); err != nil {
				log.Warn("release partially initialised runtime", zap.Error(err))
			}
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := stack.openStore(ctx, cfg, log); err != nil {
		return nil, err
	}

	hasher, err := cfg.Auth.TokenHasher()
	if err != nil {
		return nil, fmt.Errorf("initialise token hasher: %w", err)
	}

	notifier, err := buildNotifier(cfg.Notifier)
	if err != nil {
		return nil, fmt.Errorf("initialise notifier: %w", err)
	}
	log.Info("notifier configured", zap.String("driver", cfg.Notifier.Backend()))

	links, err := iauth.NewMagicLinkService(stack.Store, hasher, notifier, cfg.Auth.MagicLinkOptions()...)
	if err != nil {
		return nil, fmt.Errorf("initialise magic link service: %w", err)
	}

	users, err := iauth.NewUserDirectory(stack.Store)
	if err != nil {
		return nil, fmt.Errorf("initialise user directory: %w", err)
	}

	sessions, err := iauth.NewSessionService(stack.Store, hasher, users, cfg.Auth.SessionServiceConfig(),
		iauth.WithSessionTokens(cfg.Auth.TokenGenerator()),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise session service: %w", err)
	}

	login, err := iauth.NewLoginService(links, users, sessions)
	if err != nil {
		return nil, fmt.Errorf("initialise login service: %w", err)
	}

	var cleanerOpts []maintenance.Option
	if cfg.Maintenance.Enabled {
		cleanerOpts = append(cleanerOpts, maintenance.WithSchedule(cfg.Maintenance.Schedule))
		if purger, ok := stack.Store.(store.Purger); ok {
			cleanerOpts = append(cleanerOpts, maintenance.WithPurger(cfg.Store.Backend(), purger))
		}
	}
	stack.Cleaner = maintenance.NewCleaner(cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, api.Services{
		Store:      stack.Store,
		MagicLinks: links,
		Login:      login,
		Sessions:   sessions,
		Resolver:   iauth.NewResolver(cfg.Auth.CookieName()),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func (s *runtimeStack) openStore(ctx context.Context, cfg *app.Config, log *zap.Logger) error {
	backend := cfg.Store.Backend()

	var (
		st  store.Store
		err error
	)
	switch backend {
	case app.StoreDriverDatabase:
		dbCfg := cfg.Database.ConnectionConfig()
		if s.DB, err = database.OpenAndMigrate(dbCfg); err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		log.Info("database connected", zap.String("driver", dbCfg.Driver))
		st, err = store.NewDatabaseStore(s.DB)
	case app.StoreDriverRedis:
		redisCfg := cfg.Redis.ClientConfig()
		if s.Redis, err = store.NewRedisClient(ctx, redisCfg); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		log.Info("redis connected", zap.String("addr", redisCfg.Address))
		st, err = store.NewRedisStore(s.Redis, redisCfg.Prefix)
	case app.StoreDriverMongo:
		mongoCfg := cfg.Mongo.ClientConfig()
		if s.Mongo, err = store.NewMongoClient(ctx, mongoCfg); err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		log.Info("mongo connected", zap.String("database", mongoCfg.Database))
		st, err = store.NewMongoStore(ctx, s.Mongo, mongoCfg)
	case app.StoreDriverMemory:
		log.Warn("using in-memory store; links and sessions are lost on restart")
		st = store.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported store driver %q", backend)
	}
	if err != nil {
		return fmt.Errorf("initialise %s store: %w", backend, err)
	}

	s.Store = store.Instrument(backend, st)
	return nil
}

func buildNotifier(cfg app.NotifierConfig) (notify.Notifier, error) {
	switch driver := cfg.Backend(); driver {
	case app.NotifierDriverLog:
		return notify.NewLogNotifier(logger.WithModule("notify")), nil
	case app.NotifierDriverSMTP:
		mailer, err := mail.NewSMTPMailer(cfg.SMTPSettings())
		if err != nil {
			return nil, err
		}
		return notify.NewMailNotifier(mailer)
	case app.NotifierDriverWebhook:
		return notify.NewWebhookNotifier(cfg.WebhookSettings())
	default:
		return nil, fmt.Errorf("unsupported notifier driver %q", driver)
	}
}

// Shutdown stops background jobs and releases store connections.
func (s *runtimeStack) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}

	var errs error
	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance shutdown cleanup: %w", err))
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if s.Mongo != nil {
		if err := s.Mongo.Disconnect(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disconnect mongo: %w", err))
		}
	}

	if s.DB != nil {
		if err := database.Close(s.DB); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errs
}
