package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLevel(t *testing.T) {
	var buf bytes.Buffer
	l := newWithWriter(&buf, "warn", "json", false)
	l.Info().Msg("dropped")
	l.Warn().Str("task_id", "t1").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "t1", entry["task_id"])
}

func TestNewInvalidLevelFallsBackToInfo(t *testing.T) {
	l := newWithWriter(&bytes.Buffer{}, "chatty", "json", false)
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	r := gin.New()
	r.Use(GinMiddleware(newWithWriter(&buf, "info", "json", false)))
	r.GET("/v1/api/generations/:task_id", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/api/generations/abc", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "/v1/api/generations/:task_id", entry["path"])
	assert.EqualValues(t, http.StatusNotFound, entry["status"])
}
