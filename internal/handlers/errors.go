package handlers

import (
	"context"
	"errors"
	"net/http"

	"forum/internal/errs"
	"forum/internal/store"
	"forum/internal/utils"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// respondError maps engine failures onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, errs.ErrPermissionDenied):
		status = http.StatusUnauthorized
	case errors.Is(err, errs.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errs.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrReactionConflict), errors.Is(err, store.ErrConflict):
		// transient: the action was not applied and may be retried
		status = http.StatusConflict
	case errors.Is(err, errs.ErrSubscriptionFault):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	default:
		zap.L().Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		utils.Error(c, http.StatusInternalServerError, "internal error")
		return
	}
	utils.Error(c, status, err.Error())
}
