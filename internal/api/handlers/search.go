package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facepipeline/internal/storage"
	"github.com/your-org/facepipeline/pkg/dto"
)

// SearchHandler serves the image-upload identity search convenience
// endpoint (SPEC_FULL.md §6/§10) — out of the core pipeline contract,
// additive for operators who want to look a face up by photo.
type SearchHandler struct {
	db      *storage.PostgresStore
	EmbedFn func(imageData []byte) ([]float32, error)
}

func NewSearchHandler(db *storage.PostgresStore) *SearchHandler {
	return &SearchHandler{db: db}
}

func (h *SearchHandler) Search(c *gin.Context) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read image"})
		return
	}

	if h.EmbedFn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "embedding model not initialized"})
		return
	}

	embedding, err := h.EmbedFn(imageData)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "failed to extract face: " + err.Error()})
		return
	}

	limit := 5
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	matches, err := h.db.SearchByEmbedding(c.Request.Context(), embedding, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SearchResponse{Results: make([]dto.SearchResult, 0, len(matches))}
	for _, m := range matches {
		resp.Results = append(resp.Results, dto.SearchResult{IdentityID: m.IdentityID, Score: m.Score})
	}
	c.JSON(http.StatusOK, resp)
}
