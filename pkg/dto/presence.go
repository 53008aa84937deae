package dto

import "github.com/google/uuid"

type PresenceResponse struct {
	ID                 uuid.UUID `json:"id"`
	IdentityID          uuid.UUID `json:"identity_id"`
	FrameUUID           uuid.UUID `json:"frame_uuid"`
	TagVideo            string    `json:"tag_video"`
	DataCapturaFrame    string    `json:"data_captura_frame"`
	TimestampInicial    int64     `json:"timestamp_inicial"`
	TimestampFinal      int64     `json:"timestamp_final"`
	TempoProcessamentoTotal float64 `json:"tempo_processamento_total"`
	TempoEsperaFilaReal float64   `json:"tempo_espera_fila_real"`
	FotoCapturaURL      string    `json:"foto_captura_url"`
	Tags                []string  `json:"tags"`
	CreatedAt           string    `json:"created_at"`
}

type PresenceListResponse struct {
	Presences []PresenceResponse `json:"presences"`
	Total     int                `json:"total"`
}

// PresenceQuery is the GET /v1/presences filter set (SPEC_FULL.md §6):
// any field left zero-valued is unfiltered.
type PresenceQuery struct {
	IdentityID string `form:"identity_id"`
	TagVideo   string `form:"tag_video"`
	From       int64  `form:"from"`
	To         int64  `form:"to"`
	Limit      int    `form:"limit"`
	Offset     int    `form:"offset"`
}

// WSPresenceEvent is a WebSocket message announcing one newly-resolved
// recognition in presence shape, broadcast by cmd/api as it consumes the
// recognitions stream. Its ID is minted by cmd/api, not the id of the
// presence row cmd/persist writes.
type WSPresenceEvent struct {
	Type string           `json:"type"` // presence_recorded
	Data PresenceResponse `json:"data"`
}
