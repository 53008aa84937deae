// Package detect implements the Detection Worker (spec.md §4.2): run the
// face detector over one captured frame, keep qualifying candidates,
// crop and upload each, and publish a detections message per crop — or,
// when nothing survives, seed the frame's aggregate row with a zero count.
package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/internal/vision"
)

// Worker runs the detection step. spec.md §4.2's "w ≥ 60 ∧ h ≥ 60" floor
// is configurable via DetectionConfig.MinFaceWidth/MinFaceHeight rather
// than hardcoded.
type Worker struct {
	detector *vision.Detector
	minio    *storage.MinIOStore
	db       *storage.PostgresStore
	producer *queue.Producer
	cfg      config.DetectionConfig
}

func NewWorker(detector *vision.Detector, minio *storage.MinIOStore, db *storage.PostgresStore, producer *queue.Producer, cfg config.DetectionConfig) *Worker {
	return &Worker{detector: detector, minio: minio, db: db, producer: producer, cfg: cfg}
}

// HandleFrame runs the full detection step for one frames message.
func (w *Worker) HandleFrame(ctx context.Context, msg models.FrameMessage) error {
	inicioDeteccao := time.Now()

	frameData, err := w.minio.GetObject(ctx, w.minio.FramesBucket(), msg.ObjectKey)
	if err != nil {
		return fmt.Errorf("fetch frame %s: %w", msg.ObjectKey, err)
	}

	img, err := vision.DecodeImage(frameData)
	if err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	inW, inH := w.detector.InputSize()
	detInput := vision.PreprocessForDetection(img, inW, inH)

	start := time.Now()
	detections, err := w.detector.Detect(detInput, origW, origH)
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("detect: %w", err)
	}

	kept := qualify(detections, float32(w.cfg.MinFaceWidth), float32(w.cfg.MinFaceHeight))

	if len(kept) == 0 {
		return w.writePlaceholderAggregate(ctx, msg)
	}

	observability.FacesDetected.WithLabelValues(msg.TagVideo).Add(float64(len(kept)))

	crops := w.uploadCrops(ctx, img, kept, msg.DataCapturaFrame)
	if len(crops) == 0 {
		return w.writePlaceholderAggregate(ctx, msg)
	}

	fimDeteccao := time.Now()
	for _, objectKey := range crops {
		det := models.DetectionMessage{
			ObjectKey:                  objectKey,
			FrameUUID:                  msg.FrameUUID,
			TagVideo:                   msg.TagVideo,
			DataCapturaFrame:           msg.DataCapturaFrame,
			Timestamp:                  msg.Timestamp,
			FPS:                        msg.FPS,
			Duracao:                    msg.Duracao,
			TempoDeteccao:              fimDeteccao.Sub(inicioDeteccao).Seconds(),
			FrameTotalFaces:            len(crops),
			TempoEsperaCapturaDeteccao: float64(inicioDeteccao.UnixNano())/1e9 - msg.FimCaptura,
			InicioDeteccao:             float64(inicioDeteccao.UnixNano()) / 1e9,
			FimDeteccao:                float64(fimDeteccao.UnixNano()) / 1e9,
			InicioProcessamento:        msg.InicioProcessamento,
			TempoCapturaFrame:          msg.TempoCapturaFrame,
		}
		if err := w.producer.PublishDetection(ctx, det); err != nil {
			slog.Error("publish detection", "frame_uuid", msg.FrameUUID, "error", err)
		}
	}

	return nil
}

// uploadCrops crops and uploads each kept detection concurrently,
// returning the object keys of successful uploads only — a crop that
// fails to upload is logged and dropped (spec.md §4.2), and K counts only
// successes.
func (w *Worker) uploadCrops(ctx context.Context, img image.Image, dets []vision.Detection, dataCapturaFrame string) []string {
	type result struct {
		key string
		ok  bool
	}
	results := make([]result, len(dets))
	var wg sync.WaitGroup
	for i, d := range dets {
		wg.Add(1)
		go func(i int, d vision.Detection) {
			defer wg.Done()
			crop := vision.CropFace(img, d.BBox)
			if crop == nil {
				return
			}
			now := time.Now()
			key := fmt.Sprintf("%s/face_%s.png", dataCapturaFrame, now.Format("150405")+fmt.Sprintf("%06d", now.Nanosecond()/1000))
			data := vision.EncodePNG(crop)
			if err := w.minio.PutObject(ctx, w.minio.DetectionsBucket(), key, data, "image/png"); err != nil {
				slog.Warn("upload crop", "error", err)
				return
			}
			results[i] = result{key: key, ok: true}
		}(i, d)
	}
	wg.Wait()

	keys := make([]string, 0, len(dets))
	for _, r := range results {
		if r.ok {
			keys = append(keys, r.key)
		}
	}
	return keys
}

func (w *Worker) writePlaceholderAggregate(ctx context.Context, msg models.FrameMessage) error {
	numeroFrame, err := w.db.NextSequence(ctx, msg.TagVideo)
	if err != nil {
		return fmt.Errorf("allocate sequence: %w", err)
	}
	if err := w.db.UpsertFrameAggregateOnDetection(ctx, msg.FrameUUID, msg.TagVideo, numeroFrame, msg.FPS, msg.Duracao, 0); err != nil {
		return fmt.Errorf("write placeholder aggregate: %w", err)
	}
	return nil
}

// eyeLandmarkPresent treats a landmark at the image origin as "not
// detected" — the RetinaFace head emits (0,0) rather than omitting the
// point when a landmark falls outside its confidence region.
func eyeLandmarkPresent(lm [2]float32) bool {
	return lm[0] > 0 && lm[1] > 0
}

// qualify keeps detections meeting spec.md §4.2's floor: both eyes
// located and a bounding box at least minW x minH. Order is preserved;
// the input slice's backing array is reused.
func qualify(detections []vision.Detection, minW, minH float32) []vision.Detection {
	kept := detections[:0]
	for _, d := range detections {
		width := d.BBox[2] - d.BBox[0]
		height := d.BBox[3] - d.BBox[1]
		if width < minW || height < minH {
			continue
		}
		if !eyeLandmarkPresent(d.Landmarks[0]) || !eyeLandmarkPresent(d.Landmarks[1]) {
			continue
		}
		kept = append(kept, d)
	}
	return kept
}
