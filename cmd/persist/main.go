// Command persist runs the Persistence Worker (spec.md §4.4): consume
// resolved recognitions, write presence rows, and roll them into their
// frame's aggregate.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/persist"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	workers := flag.Int("workers", 4, "number of concurrent persistence handlers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting persistence worker")

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background()); err != nil {
		slog.Warn("ensure schema", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	worker := persist.NewWorker(db)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeRecognitions(ctx, "persistence-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var rec models.RecognitionMessage
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			return queue.Poison(fmt.Errorf("unmarshal recognition message: %w", err))
		}
		return worker.HandleRecognition(ctx, rec)
	}, *workers)
	if err != nil {
		slog.Error("start recognition consumer", "error", err)
		os.Exit(1)
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				depths, err := producer.QueueDepth(ctx)
				if err != nil {
					continue
				}
				for stream, depth := range depths {
					observability.QueueDepth.WithLabelValues(stream).Set(float64(depth))
				}
			}
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("metrics listening", "addr", ":8084")
		if err := http.ListenAndServe(":8084", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down persistence worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("persistence worker stopped")
}
