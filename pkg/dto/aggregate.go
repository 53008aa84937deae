package dto

import "github.com/google/uuid"

type FrameAggregateResponse struct {
	FrameUUID              uuid.UUID   `json:"frame_uuid"`
	TagVideo               string      `json:"tag_video"`
	NumeroFrame            int64       `json:"numero_frame"`
	FPS                    float64     `json:"fps"`
	Duracao                float64     `json:"duracao"`
	TotalFacesDetectadas   int         `json:"total_faces_detectadas"`
	TotalFacesReconhecidas int         `json:"total_faces_reconhecidas"`
	ListaPresencas         []uuid.UUID `json:"lista_presencas"`
}

// SearchRequest describes POST /v1/search: an "image" file in the
// multipart form, plus how many candidate identities to return, which the
// handler reads from the URL query string (?limit=).
type SearchRequest struct {
	Limit int `form:"limit"`
}

type SearchResult struct {
	IdentityID uuid.UUID `json:"identity_id"`
	Score      float32   `json:"score"`
}

type SearchResponse struct {
	Results []SearchResult `json:"results"`
}
