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

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/facepipeline/internal/api"
	"github.com/your-org/facepipeline/internal/api/ws"
	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/internal/vision"
	"github.com/your-org/facepipeline/pkg/dto"
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
	slog.Info("starting fd-pipeline API service", "port", cfg.Server.Port)

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
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	if err := producer.EnsureStreams(context.Background()); err != nil {
		slog.Warn("ensure nats streams", "error", err)
	}

	hub := ws.NewHub()
	go hub.Run()

	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		slog.Error("create consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mirror every resolved recognition onto the WebSocket feed as it's
	// published — a live preview, independent of cmd/persist writing the
	// durable presence row the rest of the read API serves.
	err = consumer.ConsumeRecognitions(ctx, "api-broadcast", func(ctx context.Context, msg jetstream.Msg) error {
		var rec models.RecognitionMessage
		if err := json.Unmarshal(msg.Data(), &rec); err != nil {
			return queue.Poison(fmt.Errorf("unmarshal recognition message: %w", err))
		}
		hub.BroadcastPresence(&dto.WSPresenceEvent{
			Type: "presence_recorded",
			Data: dto.PresenceResponse{
				ID:               uuid.New(),
				IdentityID:       rec.UUID,
				FrameUUID:        rec.FrameUUID,
				TagVideo:         rec.TagVideo,
				DataCapturaFrame: rec.DataCapturaFrame,
				TimestampInicial: rec.Timestamp,
				Tags:             rec.Tags,
			},
		})
		return nil
	}, 4)
	if err != nil {
		slog.Warn("start recognition broadcast consumer", "error", err)
	}

	// ONNX Runtime is only needed for the image-upload search endpoint.
	var embedFn func([]byte) ([]float32, error)
	ort.SetSharedLibraryPath(onnxLibPath())
	if err := ort.InitializeEnvironment(); err != nil {
		slog.Warn("onnx runtime init failed — /v1/search will be unavailable", "error", err)
	} else {
		embPath := filepath.Join(cfg.Vision.ModelsDir, "w600k_r50.onnx")
		embedder, err := vision.NewEmbedder(embPath)
		if err != nil {
			slog.Warn("embedder init failed — /v1/search will be unavailable", "path", embPath, "error", err)
		} else {
			defer embedder.Close()
			defer ort.DestroyEnvironment()
			embedFn = func(imageData []byte) ([]float32, error) {
				img, err := vision.DecodeImage(imageData)
				if err != nil {
					return nil, fmt.Errorf("decode search image: %w", err)
				}
				w, h := embedder.InputSize()
				input := vision.PreprocessForEmbedding(img, w, h)
				return embedder.Extract(input)
			}
			slog.Info("embedder ready for /v1/search")
		}
	}

	router := api.NewRouter(api.RouterConfig{
		APIKey:   cfg.Server.APIKey,
		DB:       db,
		MinIO:    minioStore,
		Producer: producer,
		Hub:      hub,
		EmbedFn:  embedFn,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
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
