package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/facepipeline/internal/models"
	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/pkg/dto"
)

type PresenceHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewPresenceHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *PresenceHandler {
	return &PresenceHandler{db: db, minio: minio}
}

func (h *PresenceHandler) List(c *gin.Context) {
	var q dto.PresenceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	filter := storage.PresenceFilter{
		TagVideo: q.TagVideo,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if q.IdentityID != "" {
		id, err := uuid.Parse(q.IdentityID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity_id"})
			return
		}
		filter.IdentityID = &id
	}
	if q.From != 0 {
		filter.From = &q.From
	}
	if q.To != 0 {
		filter.To = &q.To
	}

	presences, err := h.db.ListPresences(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.PresenceListResponse{Presences: make([]dto.PresenceResponse, 0, len(presences))}
	for _, p := range presences {
		resp.Presences = append(resp.Presences, toPresenceResponse(p))
	}
	resp.Total = len(resp.Presences)
	c.JSON(http.StatusOK, resp)
}

// Photo streams the recognized face crop stored for one presence.
func (h *PresenceHandler) Photo(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid presence id"})
		return
	}

	presence, err := h.db.GetPresence(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if presence == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "presence not found"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), h.minio.RecognitionsBucket(), presence.FotoCaptura)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	c.Data(http.StatusOK, "image/png", data)
}

func toPresenceResponse(p models.Presence) dto.PresenceResponse {
	return dto.PresenceResponse{
		ID:                      p.ID,
		IdentityID:              p.IdentityID,
		FrameUUID:               p.FrameUUID,
		TagVideo:                p.TagVideo,
		DataCapturaFrame:        p.DataCapturaFrame,
		TimestampInicial:        p.TimestampInicial,
		TimestampFinal:          p.TimestampFinal,
		TempoProcessamentoTotal: p.TempoProcessamentoTotal,
		TempoEsperaFilaReal:     p.TempoEsperaFilaReal,
		FotoCapturaURL:          fmt.Sprintf("/v1/presences/%s/photo", p.ID),
		Tags:                    p.Tags,
		CreatedAt:               p.CreatedAt.Format(timeLayout),
	}
}
