// Package capture implements the Capture Worker (spec.md §4.1): decode a
// video source at its native rate, keep every Nth frame, and publish it
// to the frames queue for the detection worker.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/internal/vision"
)

// maxInFlightUploads bounds the upload-and-publish worker pool so the
// decode loop can hand off a sampled frame without ever blocking on it
// (spec.md §4.1/§5: "CW never blocks the decoder on MB back-pressure").
const maxInFlightUploads = 8

type Capturer struct {
	producer  *queue.Producer
	minio     *storage.MinIOStore
	cfg       config.CaptureConfig
	extractor *FFmpegExtractor
	sem       chan struct{}
}

func NewCapturer(producer *queue.Producer, minio *storage.MinIOStore, cfg config.CaptureConfig) *Capturer {
	return &Capturer{
		producer:  producer,
		minio:     minio,
		cfg:       cfg,
		extractor: &FFmpegExtractor{},
		sem:       make(chan struct{}, maxInFlightUploads),
	}
}

// Run decodes cfg.Source until ctx is cancelled or the source ends,
// retrying with backoff on failure.
func (c *Capturer) Run(ctx context.Context) error {
	source := c.cfg.Source
	if strings.HasPrefix(source, "youtube://") {
		resolved, err := ResolveYouTubeURL(ctx, strings.TrimPrefix(source, "youtube://"))
		if err != nil {
			return fmt.Errorf("resolve youtube url: %w", err)
		}
		source = resolved
	}

	frameSkip := c.cfg.FrameSkip
	if frameSkip <= 0 {
		frameSkip = 1
	}
	width := c.cfg.FrameWidth
	if width <= 0 {
		width = 640
	}

	decoded := 0
	const maxRetries = 3
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<uint(attempt)) * time.Second
			slog.Warn("retrying capture", "source", c.cfg.Source, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			if strings.HasPrefix(c.cfg.Source, "youtube://") {
				resolved, err := ResolveYouTubeURL(ctx, strings.TrimPrefix(c.cfg.Source, "youtube://"))
				if err != nil {
					slog.Warn("youtube re-resolve failed", "error", err)
					continue
				}
				source = resolved
			}
			c.extractor = &FFmpegExtractor{}
		}

		err := c.extractor.StartExtraction(ctx, source, width, func(frameData []byte) error {
			decoded++
			if decoded%frameSkip != 0 {
				return nil
			}
			c.sampleFrame(ctx, frameData)
			return nil
		})

		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Error("capture extraction failed", "source", c.cfg.Source, "attempt", attempt, "error", err)
	}

	return fmt.Errorf("capture failed after %d retries", maxRetries)
}

// sampleFrame hands one kept frame to the bounded upload pool without
// blocking the decode loop: if the pool is saturated the frame is
// dropped and logged, matching spec.md §4.1's downstream-idempotent
// (via frame_uuid) sampling contract.
func (c *Capturer) sampleFrame(ctx context.Context, frameData []byte) {
	select {
	case c.sem <- struct{}{}:
	default:
		slog.Warn("capture upload pool saturated, dropping frame", "tag_video", c.cfg.TagVideo)
		return
	}

	go func() {
		defer func() { <-c.sem }()
		if err := c.uploadAndPublish(ctx, frameData); err != nil {
			slog.Warn("drop frame", "tag_video", c.cfg.TagVideo, "error", err)
		}
	}()
}

func (c *Capturer) uploadAndPublish(ctx context.Context, frameData []byte) error {
	start := time.Now()
	inicioProcessamento := float64(start.UnixNano()) / 1e9

	img, err := vision.DecodeImage(frameData)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	encoded := vision.EncodePNG(img)

	dataCapturaFrame := start.Format("02-01-2006")
	frameUUID := uuid.New()
	key := fmt.Sprintf("%s/%d.png", dataCapturaFrame, start.UnixMilli())

	if err := c.minio.PutObject(ctx, c.minio.FramesBucket(), key, encoded, "image/png"); err != nil {
		return fmt.Errorf("upload frame: %w", err)
	}

	now := time.Now()
	msg := models.FrameMessage{
		ObjectKey:           key,
		FrameUUID:           frameUUID,
		TagVideo:            c.cfg.TagVideo,
		DataCapturaFrame:    dataCapturaFrame,
		InicioProcessamento: inicioProcessamento,
		TempoCapturaFrame:   now.Sub(start).Seconds(),
		Timestamp:           now.Unix(),
		FPS:                 float64(c.cfg.TargetFPS),
		Duracao:             c.cfg.Duration,
		FimCaptura:          float64(now.UnixNano()) / 1e9,
	}

	if err := c.producer.PublishFrame(ctx, msg); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}

	observability.FramesCaptured.WithLabelValues(c.cfg.TagVideo).Inc()
	return nil
}

// Stop terminates the underlying extraction process.
func (c *Capturer) Stop() {
	c.extractor.Stop()
}
