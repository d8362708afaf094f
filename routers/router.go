package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"ReelStudio-server/logger"
	"ReelStudio-server/routers/api"
)

// InitRouter wires every endpoint. gatherer may be nil to skip /metrics.
func InitRouter(h *api.Handler, l zerolog.Logger, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(l))

	v1 := r.Group("/v1/api")
	{
		v1.POST("/generations", h.CreateGeneration)
		v1.GET("/generations/:task_id", h.GetGeneration)
		v1.DELETE("/generations/:task_id", h.CancelGeneration)
		v1.GET("/generations/:task_id/wss", h.TaskProgressWebSocket)
		v1.GET("/assets", h.ListAssets)
		v1.GET("/assets/:asset_id", h.GetAsset)
		v1.GET("/credential", h.GetCredential)
		v1.PUT("/credential", h.PutCredential)
	}
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}
