package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/pkg/dto"
)

type AggregateHandler struct {
	db *storage.PostgresStore
}

func NewAggregateHandler(db *storage.PostgresStore) *AggregateHandler {
	return &AggregateHandler{db: db}
}

func (h *AggregateHandler) Get(c *gin.Context) {
	frameUUID, err := uuid.Parse(c.Param("frame_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame_uuid"})
		return
	}

	fa, err := h.db.GetFrameAggregate(c.Request.Context(), frameUUID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if fa == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame aggregate not found"})
		return
	}

	c.JSON(http.StatusOK, dto.FrameAggregateResponse{
		FrameUUID:              fa.FrameUUID,
		TagVideo:               fa.TagVideo,
		NumeroFrame:            fa.NumeroFrame,
		FPS:                    fa.FPS,
		Duracao:                fa.Duracao,
		TotalFacesDetectadas:   fa.TotalFacesDetectadas,
		TotalFacesReconhecidas: fa.TotalFacesReconhecidas,
		ListaPresencas:         fa.ListaPresencas,
	})
}
