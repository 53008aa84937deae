// Command detect runs the Detection Worker (spec.md §4.2): consume
// captured frames, run face detection, and publish kept crops.
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
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/detect"
	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/internal/vision"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	workers := flag.Int("workers", 4, "number of concurrent detection handlers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting detection worker", "cpu_cores", runtime.NumCPU())

	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Error("init onnx runtime", "error", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	detOpts, err := sessionOptions(cfg.Vision)
	if err != nil {
		slog.Error("build detector session options", "error", err)
		os.Exit(1)
	}
	detPath := filepath.Join(cfg.Vision.ModelsDir, "det_10g.onnx")
	detector, err := vision.NewDetector(detPath, float32(cfg.Detection.MinConfidence), detOpts)
	detOpts.Destroy()
	if err != nil {
		slog.Error("load detector model", "path", detPath, "error", err)
		os.Exit(1)
	}
	defer detector.Close()

	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background()); err != nil {
		slog.Warn("ensure schema", "error", err)
	}

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
		slog.Error("connect to nats producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	worker := detect.NewWorker(detector, minioStore, db, producer, cfg.Detection)

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = consumer.ConsumeFrames(ctx, "detection-workers", func(ctx context.Context, msg jetstream.Msg) error {
		var frame models.FrameMessage
		if err := json.Unmarshal(msg.Data(), &frame); err != nil {
			return queue.Poison(fmt.Errorf("unmarshal frame message: %w", err))
		}
		return worker.HandleFrame(ctx, frame)
	}, *workers)
	if err != nil {
		slog.Error("start frame consumer", "error", err)
		os.Exit(1)
	}

	go reportQueueDepth(ctx, producer)
	go serveMetrics(":8082")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down detection worker...")
	cancel()
	time.Sleep(2 * time.Second)
	slog.Info("detection worker stopped")
}

func sessionOptions(cfg config.VisionConfig) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set intra_op_threads: %w", err)
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			opts.Destroy()
			return nil, fmt.Errorf("set inter_op_threads: %w", err)
		}
	}
	return opts, nil
}

func reportQueueDepth(ctx context.Context, producer *queue.Producer) {
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
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Error("metrics server error", "error", err)
	}
}

func onnxLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
