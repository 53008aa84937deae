// Package persist implements the Persistence Worker (spec.md §4.4): turn
// one resolved recognition into a durable presence record and fold it
// into its frame's aggregate row.
package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/observability"
	"github.com/your-org/facepipeline/internal/storage"
)

type Worker struct {
	db *storage.PostgresStore
}

func NewWorker(db *storage.PostgresStore) *Worker {
	return &Worker{db: db}
}

// HandleRecognition persists one recognitions message as a presence row
// and updates its frame's aggregate, atomically with whatever the
// detection worker already wrote for that frame_uuid (spec.md §9 Open
// Question 1 — see UpsertFrameAggregateOnPresence).
func (w *Worker) HandleRecognition(ctx context.Context, msg models.RecognitionMessage) error {
	now := time.Now()

	presence := &models.Presence{
		ID:                      uuid.New(),
		IdentityID:              msg.UUID,
		FrameUUID:               msg.FrameUUID,
		TagVideo:                msg.TagVideo,
		DataCapturaFrame:        msg.DataCapturaFrame,
		TimestampInicial:        msg.Timestamp,
		TimestampFinal:          now.Unix(),
		TempoCaptura:            msg.TempoCapturaFrame,
		TempoDeteccao:           msg.TempoDeteccao,
		TempoReconhecimento:     msg.TempoReconhecimento,
		TempoEsperaFilaReal:     msg.TempoEsperaCapturaDeteccao + msg.TempoEsperaDeteccaoReconhecimento,
		TempoProcessamentoTotal: float64(now.UnixNano())/1e9 - msg.InicioProcessamento,
		FotoCaptura:             msg.ReconhecimentoPath,
		Tags:                    msg.Tags,
	}

	if err := w.db.InsertPresence(ctx, presence); err != nil {
		return fmt.Errorf("insert presence: %w", err)
	}

	if err := w.db.UpsertFrameAggregateOnPresence(ctx, msg.FrameUUID, msg.TagVideo, msg.FPS, msg.Duracao, msg.FrameTotalFaces, presence.ID); err != nil {
		return fmt.Errorf("upsert frame aggregate: %w", err)
	}

	observability.PresencesRecorded.WithLabelValues(msg.TagVideo).Inc()
	return nil
}
