package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/facepipeline/internal/api/handlers"
	"github.com/your-org/facepipeline/internal/api/ws"
	"github.com/your-org/facepipeline/internal/auth"
	"github.com/your-org/facepipeline/internal/queue"
	"github.com/your-org/facepipeline/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	// EmbedFn extracts a face embedding from image bytes, for the
	// image-upload search endpoint. Nil disables /v1/search.
	EmbedFn func(imageData []byte) ([]float32, error)
}

// NewRouter builds the read-only query API (SPEC_FULL.md §6): list/get
// identities and presences, fetch a frame's aggregate, search by photo,
// and a WebSocket feed of newly-resolved recognitions. Nothing here
// mutates pipeline state — every write happens in cmd/capture,
// cmd/detect, cmd/recognize, cmd/persist.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	v1.GET("/ws", cfg.Hub.HandleWS)

	identityH := handlers.NewIdentityHandler(cfg.DB)
	v1.GET("/identities", identityH.List)
	v1.GET("/identities/:id", identityH.Get)

	presenceH := handlers.NewPresenceHandler(cfg.DB, cfg.MinIO)
	v1.GET("/presences", presenceH.List)
	v1.GET("/presences/:id/photo", presenceH.Photo)

	aggregateH := handlers.NewAggregateHandler(cfg.DB)
	v1.GET("/frames/:frame_uuid", aggregateH.Get)

	searchH := handlers.NewSearchHandler(cfg.DB)
	searchH.EmbedFn = cfg.EmbedFn
	v1.POST("/search", searchH.Search)

	return r
}
