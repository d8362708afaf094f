package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ReelStudio-server/credential"
)

// GetCredential reports whether a usable api key is present. The key itself
// is never returned.
func (h *Handler) GetCredential(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"present": credential.Present(c.Request.Context(), h.Credentials)})
}

// PutCredential (re)acquires the api key after it was missing or expired.
func (h *Handler) PutCredential(c *gin.Context) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	if err := h.Credentials.Set(c.Request.Context(), req.APIKey); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存密钥失败: " + err.Error()})
		return
	}
	h.Logger.Info().Msg("api: credential updated")
	c.JSON(http.StatusOK, gin.H{"present": true})
}
