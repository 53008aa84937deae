package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/pkg/dto"
)

type IdentityHandler struct {
	db *storage.PostgresStore
}

func NewIdentityHandler(db *storage.PostgresStore) *IdentityHandler {
	return &IdentityHandler{db: db}
}

func (h *IdentityHandler) List(c *gin.Context) {
	var q dto.IdentityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identities, err := h.db.ListIdentities(c.Request.Context(), q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.IdentityListResponse{Identities: make([]dto.IdentityResponse, 0, len(identities))}
	for _, idn := range identities {
		resp.Identities = append(resp.Identities, dto.IdentityResponse{
			ID:             idn.ID,
			Tags:           idn.Tags,
			LastAppearance: idn.LastAppearance.Format(timeLayout),
			CreatedAt:      idn.CreatedAt.Format(timeLayout),
		})
	}
	resp.Total = len(resp.Identities)
	c.JSON(http.StatusOK, resp)
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return
	}

	idn, err := h.db.GetIdentity(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if idn == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "identity not found"})
		return
	}

	c.JSON(http.StatusOK, dto.IdentityResponse{
		ID:             idn.ID,
		Tags:           idn.Tags,
		LastAppearance: idn.LastAppearance.Format(timeLayout),
		CreatedAt:      idn.CreatedAt.Format(timeLayout),
	})
}
