// Command capture runs the Capture Worker (spec.md §4.1): decode one
// configured video source and publish sampled frames to the pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facepipeline/internal/capture"
	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting capture worker", "source", cfg.Capture.Source, "tag_video", cfg.Capture.TagVideo)

	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBuckets(context.Background()); err != nil {
		slog.Warn("ensure minio buckets", "error", err)
	}

	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	capturer := capture.NewCapturer(producer, minioStore, cfg.Capture)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		})
		slog.Info("capture metrics listening", "addr", ":8081")
		if err := http.ListenAndServe(":8081", mux); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()

	observability.ActiveCaptures.Inc()
	go func() {
		if err := capturer.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("capture stopped", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down capture worker...")
	observability.ActiveCaptures.Dec()
	capturer.Stop()
	cancel()
	time.Sleep(time.Second)
	slog.Info("capture worker stopped")
}
