package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ReelStudio-server/models"
)

// ListAssets 获取生成的素材，最新的在前: GET /v1/api/assets?limit=
func (h *Handler) ListAssets(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	assets, err := models.ListAssets(h.DB, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取素材失败: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"assets": assets,
		"count":  len(assets),
	})
}

// GetAsset: GET /v1/api/assets/:asset_id
func (h *Handler) GetAsset(c *gin.Context) {
	a, err := models.GetAssetByID(h.DB, c.Param("asset_id"))
	if err != nil {
		h.notFound(c, "asset", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset": a})
}
