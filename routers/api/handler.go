package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"ReelStudio-server/credential"
	"ReelStudio-server/orchestrator"
	"ReelStudio-server/service"
)

// Enqueuer hands a persisted task to the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskID string) error
}

// Handler carries the dependencies of every /v1/api endpoint.
type Handler struct {
	DB          *gorm.DB
	Credentials credential.Store
	Queue       Enqueuer
	Cancels     *service.PollCancelRegistry
	Hub         *service.ProgressHub
	Logger      zerolog.Logger
	// WSRefresh is how often the websocket re-reads the task row.
	WSRefresh time.Duration
}

// statusFor maps an error kind to the HTTP status reported for it.
func statusFor(kind orchestrator.ErrorKind) int {
	switch kind {
	case orchestrator.KindValidation:
		return http.StatusBadRequest
	case orchestrator.KindCredentialMissing:
		return http.StatusPreconditionFailed
	case orchestrator.KindCredentialExpired:
		return http.StatusUnauthorized
	case orchestrator.KindTimeout:
		return http.StatusGatewayTimeout
	case orchestrator.KindCanceled:
		return http.StatusConflict
	case orchestrator.KindTransport, orchestrator.KindFetch, orchestrator.KindNoContent:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	kind := orchestrator.KindOf(err)
	c.JSON(statusFor(kind), gin.H{"error": err.Error(), "errorKind": kind})
}
