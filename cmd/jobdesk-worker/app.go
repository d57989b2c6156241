package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/PropDesk/JobDesk/config"
	"github.com/PropDesk/JobDesk/internal/broker/kafka"
	"github.com/PropDesk/JobDesk/internal/cache/rediscache"
	"github.com/PropDesk/JobDesk/internal/services/chaser"
	"github.com/PropDesk/JobDesk/internal/storage/pgjobcards"
)

type workerFactories struct {
	newStorage     func(cfg *config.Config) (repo chaser.Repository, closeFn func(), err error)
	newProducer    func(cfg *config.Config) chaser.Producer
	newRateLimiter func(cfg *config.Config) chaser.RateLimiter
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (chaser.Repository, func(), error) {
			sslMode := cfg.Database.SSLMode
			if sslMode == "" {
				sslMode = "disable"
			}
			connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
			st, err := pgjobcards.New(connString)
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) chaser.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) chaser.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
	}
}

func dwellConfigFromCfg(cfg *config.Config) chaser.DwellConfig {
	hours := func(h int) time.Duration { return time.Duration(h) * time.Hour }
	return chaser.DwellConfig{
		Pending:    hours(cfg.JobDesk.ChasePendingHours),
		Uploaded:   hours(cfg.JobDesk.ChaseUploadedHours),
		InProgress: hours(cfg.JobDesk.ChaseInProgressHours),
		ReadyForQC: hours(cfg.JobDesk.ChaseReadyForQCHours),
		InRevision: hours(cfg.JobDesk.ChaseInRevisionHours),
	}
}

func RunJobDeskWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	topic := cfg.Kafka.JobCardStaleTopicName
	if topic == "" {
		topic = "jobcard.stale"
	}

	pollInterval := time.Duration(cfg.JobDesk.WorkerPollIntervalSeconds) * time.Second
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	batchSize := cfg.JobDesk.WorkerBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	concurrency := cfg.JobDesk.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	lease := time.Duration(cfg.JobDesk.WorkerLeaseSeconds) * time.Second
	if lease <= 0 {
		lease = 120 * time.Second
	}
	rlPerMin := int64(cfg.JobDesk.WorkerRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 120
	}

	repo, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)

	c := chaser.New(repo, producer, rl, topic).
		WithSettings(pollInterval, batchSize, concurrency, lease, rlPerMin).
		WithPlanner(dwellConfigFromCfg(cfg))

	// Служебный HTTP поднимается только если задан swaggerPath: в тестах и
	// урезанных окружениях воркер может работать без него.
	httpErr := make(chan error, 1)
	if swaggerPath := os.Getenv("swaggerPath"); swaggerPath != "" {
		go func() {
			httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.JobDesk.WorkerHTTPAddr,
				swaggerPath: swaggerPath,
				chaser:      c,
				cfg:         cfg,
			})
		}()
	}

	chaserErr := make(chan error, 1)
	go func() {
		chaserErr <- c.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-chaserErr:
		return err
	case err := <-httpErr:
		return err
	}
}
