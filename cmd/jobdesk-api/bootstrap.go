package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PropDesk/JobDesk/config"
	"github.com/PropDesk/JobDesk/internal/broker/kafka"
	"github.com/PropDesk/JobDesk/internal/cache/rediscache"
	"github.com/PropDesk/JobDesk/internal/services/delivery"
	"github.com/PropDesk/JobDesk/internal/services/jobcards"
	"github.com/PropDesk/JobDesk/internal/storage/pgjobcards"
)

type jobDeskAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   jobDeskAPIOpts

	jobs     *jobcards.Service
	delivery *delivery.Service

	updatedConsumer *kafka.Consumer
	staleConsumer   *kafka.Consumer
	closeDB         func()
}

func mustBootstrapJobDeskAPI() *jobDeskAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.JobDesk.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.JobDesk.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "jobdesk-api"
	}
	updatedTopic := cfg.Kafka.JobCardUpdatedTopicName
	if updatedTopic == "" {
		updatedTopic = "jobcard.updated"
	}
	staleTopic := cfg.Kafka.JobCardStaleTopicName
	if staleTopic == "" {
		staleTopic = "jobcard.stale"
	}

	cacheTTL := time.Duration(cfg.JobDesk.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)
	guard := rediscache.NewSubmitGuard(redisAddr)

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)

	jobsSvc := jobcards.New(st, rc, guard, producer, updatedTopic, cacheTTL)
	deliverySvc := delivery.New(st)

	updatedConsumer := kafka.NewConsumer(brokers, updatedTopic, consumerGroup)
	staleConsumer := kafka.NewConsumer(brokers, staleTopic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &jobDeskAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: jobDeskAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			updatedTopic:  updatedTopic,
			staleTopic:    staleTopic,
			consumerGroup: consumerGroup,
		},
		jobs:            jobsSvc,
		delivery:        deliverySvc,
		updatedConsumer: updatedConsumer,
		staleConsumer:   staleConsumer,
		closeDB:         st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgjobcards.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgjobcards.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *jobDeskAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.updatedConsumer != nil {
		_ = a.updatedConsumer.Close()
	}
	if a.staleConsumer != nil {
		_ = a.staleConsumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *jobDeskAPIApp) Run() error {
	return runJobDeskAPI(a.ctx, a.opts, a.jobs, a.delivery, a.updatedConsumer, a.staleConsumer)
}

func isCanceled(err error) bool {
	return err == context.Canceled
}
