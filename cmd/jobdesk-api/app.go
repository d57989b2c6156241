package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	jobcardsapi "github.com/PropDesk/JobDesk/internal/api/jobcards_api"
	"github.com/PropDesk/JobDesk/internal/broker/messages"
	"github.com/PropDesk/JobDesk/internal/services/delivery"
	"github.com/PropDesk/JobDesk/internal/services/jobcards"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
)

type jobDeskAPIOpts struct {
	httpAddr    string
	swaggerPath string

	updatedTopic  string
	staleTopic    string
	consumerGroup string

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

func runJobDeskAPI(ctx context.Context, opts jobDeskAPIOpts, jobs *jobcards.Service, deliverySvc *delivery.Service, updated, stale kafkaConsumer) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, opts.swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	jobcardsapi.New(jobs, deliverySvc).Register(r)

	// Топик jobcard.updated: другой инстанс API перевёл карточку —
	// освежаем локальный кэш. Топик jobcard.stale: воркер отправил
	// напоминание — фиксируем отметку и следующий дедлайн.
	go func() {
		slog.Info("kafka consumer started", "topic", opts.updatedTopic, "group", opts.consumerGroup)
		_ = updated.Consume(ctx, func(_key, value []byte) error {
			var m messages.JobCardUpdated
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return jobs.ApplyUpdatedMessage(ctx, m)
		})
	}()
	go func() {
		slog.Info("kafka consumer started", "topic", opts.staleTopic, "group", opts.consumerGroup)
		_ = stale.Consume(ctx, func(_key, value []byte) error {
			var m messages.JobCardStale
			if err := json.Unmarshal(value, &m); err != nil {
				return err
			}
			return jobs.ApplyStaleMessage(ctx, m)
		})
	}()

	srv := &http.Server{Handler: r}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", lis.Addr().String())
		httpErr <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-httpErr:
		return err
	}
}
