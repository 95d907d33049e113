package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	appsvc "credvault/internal/app"
	"credvault/internal/cache"
	"credvault/internal/config"
	"credvault/internal/event"
	"credvault/internal/logging"
	"credvault/internal/metrics"
	postgresClient "credvault/internal/platform/postgres"
	rabbitmqClient "credvault/internal/platform/rabbitmq"
	redisClient "credvault/internal/platform/redis"
	"credvault/internal/repository"
	"credvault/internal/worker"
)

// MemoryDatabaseURL selects the in-process user store instead of Postgres.
const MemoryDatabaseURL = "memory://"

type App struct {
	Config  *config.Config
	Log     *logrus.Logger
	Metrics *metrics.Metrics

	DB    *gorm.DB
	Users appsvc.UserStore

	Redis       *redis.Client
	MQConn      *amqp.Connection
	Events      event.Publisher
	Activity    *cache.ActivityFeed
	EventWorker *worker.AuthEventWorker

	StartedAt time.Time
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	log, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		Metrics:   metrics.New(),
		Events:    event.NopPublisher{},
		StartedAt: time.Now(),
	}

	if err := a.openUserStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}

	if cfg.Events.Enabled {
		if err := a.openEventPipeline(ctx); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	return a, nil
}

func (a *App) openUserStore(ctx context.Context) error {
	if strings.HasPrefix(a.Config.Database.URL, MemoryDatabaseURL) {
		a.Log.Warn("using in-memory user store; data is lost on restart")
		a.Users = repository.NewMemoryUserRepository()
		return nil
	}

	db, err := postgresClient.New(ctx, a.Config.Database.URL, postgresClient.PoolOptions{
		MaxOpenConns: a.Config.Database.MaxOpenConns,
		MaxIdleConns: a.Config.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	a.DB = db

	if a.Config.Database.AutoMigrate {
		if err := a.Migrate(ctx); err != nil {
			return err
		}
	}

	a.Users = repository.NewUserRepository(db)
	return nil
}

func (a *App) openEventPipeline(ctx context.Context) error {
	cfg := a.Config

	redisCli, err := redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return err
	}
	a.Redis = redisCli
	a.Activity = cache.NewActivityFeed(redisCli, cfg.Redis.ActivityMax, cfg.ActivityTTL())

	mqConn, err := rabbitmqClient.New(cfg.RabbitMQ.URL, cfg.App.Name, cfg.RabbitMQ.AuthEventQueue)
	if err != nil {
		return err
	}
	a.MQConn = mqConn
	a.Events = rabbitmqClient.NewAuthEventPublisher(mqConn, cfg.RabbitMQ.AuthEventQueue)

	a.EventWorker = worker.NewAuthEventWorker(mqConn, a.Activity, cfg.RabbitMQ.AuthEventQueue, a.Log)
	if err := a.EventWorker.Start(ctx); err != nil {
		return fmt.Errorf("start auth event worker failed: %w", err)
	}
	return nil
}

// Migrate applies schema migrations to the configured Postgres database.
func (a *App) Migrate(ctx context.Context) error {
	if a.DB == nil {
		return fmt.Errorf("migrate: no postgres connection")
	}
	sqlDB, err := a.DB.DB()
	if err != nil {
		return fmt.Errorf("get postgres sql db failed: %w", err)
	}
	return postgresClient.Migrate(ctx, sqlDB)
}

func (a *App) Close() error {
	var closeErr error
	if a.EventWorker != nil {
		a.EventWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
