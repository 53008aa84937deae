package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a resolved person (spec.md §3 "pessoa"). Embeddings and
// crop paths live in IdentityEmbedding rows, not inline arrays, so the
// atomic-append invariant (len(image_paths) == len(embeddings)) holds
// structurally rather than by convention.
type Identity struct {
	ID             uuid.UUID `db:"id"`
	Tags           []string  `db:"tags"`
	LastAppearance time.Time `db:"last_appearance"`
	CreatedAt      time.Time `db:"created_at"`
}

// IdentityEmbedding is one appended (crop, embedding) pair for an
// identity, in append order.
type IdentityEmbedding struct {
	ID         uuid.UUID `db:"id"`
	IdentityID uuid.UUID `db:"identity_id"`
	Embedding  []float32 `db:"embedding"`
	ImagePath  string    `db:"image_path"`
	Seq        int       `db:"seq"`
	CreatedAt  time.Time `db:"created_at"`
}

// Presence is one resolved face-in-frame event (spec.md §3 "presença").
type Presence struct {
	ID                    uuid.UUID `db:"id"`
	IdentityID             uuid.UUID `db:"identity_id"`
	FrameUUID              uuid.UUID `db:"frame_uuid"`
	TagVideo               string    `db:"tag_video"`
	DataCapturaFrame       string    `db:"data_captura_frame"`
	TimestampInicial       int64     `db:"timestamp_inicial"`
	TimestampFinal         int64     `db:"timestamp_final"`
	TempoCaptura           float64   `db:"tempo_captura"`
	TempoDeteccao          float64   `db:"tempo_deteccao"`
	TempoReconhecimento    float64   `db:"tempo_reconhecimento"`
	TempoEsperaFilaReal    float64   `db:"tempo_espera_fila_real"`
	TempoProcessamentoTotal float64  `db:"tempo_processamento_total"`
	FotoCaptura            string    `db:"foto_captura"`
	Tags                   []string  `db:"tags"`
	CreatedAt              time.Time `db:"created_at"`
}

// FrameAggregate is the per-frame rollup (spec.md §3 "frames" document).
type FrameAggregate struct {
	FrameUUID              uuid.UUID   `db:"frame_uuid"`
	TagVideo               string      `db:"tag_video"`
	NumeroFrame            int64       `db:"numero_frame"`
	FPS                    float64     `db:"fps"`
	Duracao                float64     `db:"duracao"`
	TotalFacesDetectadas   int         `db:"total_faces_detectadas"`
	TotalFacesReconhecidas int         `db:"total_faces_reconhecidas"`
	ListaPresencas         []uuid.UUID `db:"lista_presencas"`
}
