package models

import "github.com/google/uuid"

// FrameMessage is what CW publishes to the frames queue. Field names
// follow spec.md §6 exactly so the wire contract is stable across
// languages.
type FrameMessage struct {
	ObjectKey           string  `json:"object_key"`
	FrameUUID           uuid.UUID `json:"frame_uuid"`
	TagVideo            string  `json:"tag_video"`
	DataCapturaFrame    string  `json:"data_captura_frame"`
	InicioProcessamento float64 `json:"inicio_processamento"`
	TempoCapturaFrame   float64 `json:"tempo_captura_frame"`
	Timestamp           int64   `json:"timestamp"`
	FPS                 float64 `json:"fps"`
	Duracao             float64 `json:"duracao"`
	FimCaptura          float64 `json:"fim_captura"`
}

// DetectionMessage is what DW publishes to the detections queue — one
// message per kept face crop (spec.md §4.2/§6).
type DetectionMessage struct {
	ObjectKey                  string  `json:"object_key"`
	FrameUUID                  uuid.UUID `json:"frame_uuid"`
	TagVideo                   string  `json:"tag_video"`
	DataCapturaFrame           string  `json:"data_captura_frame"`
	Timestamp                  int64   `json:"timestamp"`
	FPS                        float64 `json:"fps"`
	Duracao                    float64 `json:"duracao"`
	TempoDeteccao              float64 `json:"tempo_deteccao"`
	FrameTotalFaces            int     `json:"frame_total_faces"`
	TempoEsperaCapturaDeteccao float64 `json:"tempo_espera_captura_deteccao"`
	InicioDeteccao             float64 `json:"inicio_deteccao"`
	FimDeteccao                float64 `json:"fim_deteccao"`
	InicioProcessamento        float64 `json:"inicio_processamento"`
	TempoCapturaFrame          float64 `json:"tempo_captura_frame"`
}

// RecognitionMessage is what RW publishes to the recognitions queue —
// one message per resolved face, carrying every upstream timing field
// plus the resolved identity and optional attribute enrichment.
type RecognitionMessage struct {
	ReconhecimentoPath         string  `json:"reconhecimento_path"`
	UUID                       uuid.UUID `json:"uuid"`
	Tags                       []string  `json:"tags"`
	FrameUUID                  uuid.UUID `json:"frame_uuid"`
	TagVideo                   string  `json:"tag_video"`
	DataCapturaFrame           string  `json:"data_captura_frame"`
	Timestamp                  int64   `json:"timestamp"`
	FPS                        float64 `json:"fps"`
	Duracao                    float64 `json:"duracao"`
	FrameTotalFaces            int     `json:"frame_total_faces"`
	TempoReconhecimento        float64 `json:"tempo_reconhecimento"`
	TempoEsperaDeteccaoReconhecimento float64 `json:"tempo_espera_deteccao_reconhecimento"`
	InicioReconhecimento       float64 `json:"inicio_reconhecimento"`
	FimReconhecimento          float64 `json:"fim_reconhecimento"`
	TempoDeteccao              float64 `json:"tempo_deteccao"`
	TempoEsperaCapturaDeteccao float64 `json:"tempo_espera_captura_deteccao"`
	InicioProcessamento        float64 `json:"inicio_processamento"`
	TempoCapturaFrame          float64 `json:"tempo_captura_frame"`

	// Additive attribute enrichment (not in spec.md's core contract,
	// see SPEC_FULL.md §4.3) — left zero-valued when attribute
	// prediction is unavailable or skipped.
	Gender           string  `json:"gender,omitempty"`
	GenderConfidence float32 `json:"gender_confidence,omitempty"`
	Age              int     `json:"age,omitempty"`
	AgeRange         string  `json:"age_range,omitempty"`
}
