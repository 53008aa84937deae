// Package recognize implements the Recognition Worker (spec.md §4.3):
// embed a detected face crop, resolve it against known identities, and
// publish the resolved identity downstream to persistence.
package recognize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facepipeline/internal/config"
	"github.com/your-org/facepipeline/internal/identity"
	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/internal/vision"
)

type Worker struct {
	embedder   *vision.Embedder
	attributes *vision.AttributePredictor // optional attribute enrichment, nil disables it
	minio      *storage.MinIOStore
	db         *storage.PostgresStore
	producer   *queue.Producer
	cfg        config.RecognitionConfig
}

func NewWorker(embedder *vision.Embedder, attributes *vision.AttributePredictor, minio *storage.MinIOStore, db *storage.PostgresStore, producer *queue.Producer, cfg config.RecognitionConfig) *Worker {
	return &Worker{embedder: embedder, attributes: attributes, minio: minio, db: db, producer: producer, cfg: cfg}
}

// HandleDetection runs the full recognition step for one detections
// message. A crop that cannot be decoded or embedded returns a
// queue.Poison-wrapped error, so the consume loop terminates the message
// without requeueing it (spec.md §4.3/§7): such a crop will never
// succeed on retry. Every other failure here (storage/NATS I/O) is a
// plain wrapped error and goes through the normal nak-and-redeliver path.
func (w *Worker) HandleDetection(ctx context.Context, msg models.DetectionMessage) error {
	inicioReconhecimento := time.Now()

	cropData, err := w.minio.GetObject(ctx, w.minio.DetectionsBucket(), msg.ObjectKey)
	if err != nil {
		return fmt.Errorf("fetch crop %s: %w", msg.ObjectKey, err)
	}

	img, err := vision.DecodeImage(cropData)
	if err != nil {
		return queue.Poison(fmt.Errorf("decode crop: %w", err))
	}

	embW, embH := w.embedder.InputSize()
	embInput := vision.PreprocessForEmbedding(img, embW, embH)

	start := time.Now()
	embedding, err := w.embedder.Extract(embInput)
	observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		return queue.Poison(fmt.Errorf("embed: %w", err))
	}

	candidates, err := w.db.LoadCandidateIdentities(ctx)
	if err != nil {
		return fmt.Errorf("load candidates: %w", err)
	}
	identCandidates := make([]identity.Candidate, len(candidates))
	for i, c := range candidates {
		identCandidates[i] = identity.Candidate{IdentityID: c.IdentityID, Embeddings: c.Embeddings}
	}

	matchedID, matched := identity.Resolve(identCandidates, embedding, w.cfg.CosineThreshold, w.cfg.VoteRatio)

	now := time.Now()

	var identityID uuid.UUID
	var tags []string
	var imagePath string
	if matched {
		identityID = matchedID
		tags = []string{identityID.String()}
		imagePath = fmt.Sprintf("%s/face_%s.png", identityID.String(), now.Format("20060102_150405")+fmt.Sprintf("%06d", now.Nanosecond()/1000))
		if err := w.uploadToRecognitions(ctx, msg.ObjectKey, imagePath); err != nil {
			return fmt.Errorf("upload recognition crop: %w", err)
		}
		if err := w.db.AppendIdentityEmbedding(ctx, identityID, embedding, imagePath, now); err != nil {
			return fmt.Errorf("append identity embedding: %w", err)
		}
	} else {
		identityID = uuid.New()
		tags = []string{identityID.String()}
		imagePath = fmt.Sprintf("%s/face_%s.png", identityID.String(), now.Format("20060102_150405")+fmt.Sprintf("%06d", now.Nanosecond()/1000))
		if err := w.uploadToRecognitions(ctx, msg.ObjectKey, imagePath); err != nil {
			return fmt.Errorf("upload recognition crop: %w", err)
		}
		if err := w.db.CreateIdentity(ctx, identityID, embedding, imagePath, now, tags); err != nil {
			return fmt.Errorf("create identity: %w", err)
		}
		observability.IdentitiesCreated.WithLabelValues(msg.TagVideo).Inc()
	}

	observability.FacesRecognized.WithLabelValues(msg.TagVideo).Inc()

	fimReconhecimento := time.Now()
	rec := models.RecognitionMessage{
		ReconhecimentoPath:                imagePath,
		UUID:                              identityID,
		Tags:                              tags,
		FrameUUID:                         msg.FrameUUID,
		TagVideo:                          msg.TagVideo,
		DataCapturaFrame:                  msg.DataCapturaFrame,
		Timestamp:                         msg.Timestamp,
		FPS:                               msg.FPS,
		Duracao:                           msg.Duracao,
		FrameTotalFaces:                   msg.FrameTotalFaces,
		TempoReconhecimento:               fimReconhecimento.Sub(inicioReconhecimento).Seconds(),
		TempoEsperaDeteccaoReconhecimento: float64(inicioReconhecimento.UnixNano())/1e9 - msg.FimDeteccao,
		InicioReconhecimento:              float64(inicioReconhecimento.UnixNano()) / 1e9,
		FimReconhecimento:                 float64(fimReconhecimento.UnixNano()) / 1e9,
		TempoDeteccao:                     msg.TempoDeteccao,
		TempoEsperaCapturaDeteccao:        msg.TempoEsperaCapturaDeteccao,
		InicioProcessamento:               msg.InicioProcessamento,
		TempoCapturaFrame:                 msg.TempoCapturaFrame,
	}

	if w.attributes != nil {
		attrW, attrH := w.attributes.InputSize()
		attrInput := vision.PreprocessForAttributes(img, attrW, attrH)
		if ga, err := w.attributes.Predict(attrInput); err != nil {
			slog.Warn("attribute prediction failed", "frame_uuid", msg.FrameUUID, "error", err)
		} else {
			rec.Gender = ga.Gender
			rec.GenderConfidence = ga.GenderConfidence
			rec.Age = ga.Age
			rec.AgeRange = ga.AgeRange
		}
	}

	return w.producer.PublishRecognition(ctx, rec)
}

func (w *Worker) uploadToRecognitions(ctx context.Context, detectionKey, recognitionKey string) error {
	return w.minio.CopyObject(ctx, w.minio.DetectionsBucket(), detectionKey, w.minio.RecognitionsBucket(), recognitionKey)
}
