package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	appsvc "dataforge/internal/app"
	"dataforge/internal/config"
	"dataforge/internal/model"
	mysqlClient "dataforge/internal/platform/mysql"
	rabbitmqClient "dataforge/internal/platform/rabbitmq"
	redisClient "dataforge/internal/platform/redis"
	"dataforge/internal/repository"
	"dataforge/internal/worker"
)

type App struct {
	Config       *config.Config
	MySQL        *gorm.DB
	Redis        *redis.Client
	MQConn       *amqp.Connection
	RecordWorker *worker.RecordPersistWorker
	Uploads      *appsvc.UploadService

	StartedAt     time.Time
	janitorCancel context.CancelFunc
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.BatchJob{}, &model.TrainingRecord{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	recordRepo := repository.NewRecordRepository(mysqlDB)
	recordWorker := worker.NewRecordPersistWorker(mqConn, recordRepo, cfg.RabbitMQ.RecordPersistQueue)
	if err := recordWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start record worker failed: %w", err)
	}

	uploads := appsvc.NewUploadService(
		cfg.Upload.AllowedTypes,
		cfg.Upload.DefaultChunkSize,
		cfg.Upload.MaxTotalSize,
		time.Duration(cfg.Upload.SessionTTLSeconds)*time.Second,
	)
	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	uploads.StartJanitor(janitorCtx, time.Minute)

	return &App{
		Config:        cfg,
		MySQL:         mysqlDB,
		Redis:         redisCli,
		MQConn:        mqConn,
		RecordWorker:  recordWorker,
		Uploads:       uploads,
		StartedAt:     time.Now(),
		janitorCancel: janitorCancel,
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.janitorCancel != nil {
		a.janitorCancel()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.RecordWorker != nil {
		a.RecordWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
