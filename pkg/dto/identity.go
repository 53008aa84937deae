package dto

import "github.com/google/uuid"

type IdentityResponse struct {
	ID             uuid.UUID `json:"id"`
	Tags           []string  `json:"tags"`
	LastAppearance string    `json:"last_appearance"`
	CreatedAt      string    `json:"created_at"`
}

type IdentityListResponse struct {
	Identities []IdentityResponse `json:"identities"`
	Total      int                `json:"total"`
}

type IdentityQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}
