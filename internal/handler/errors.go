package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wordcheck/session-agent/internal/errs"
	"github.com/wordcheck/session-agent/internal/model"
)

// StatusFor maps an error kind to the HTTP status shown to page controllers.
func StatusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.ParamError:
		return http.StatusBadRequest
	case errs.LoginInProgress:
		return http.StatusConflict
	case errs.RateLimited:
		return http.StatusTooManyRequests
	case errs.TokenExpired, errs.AuthError:
		return http.StatusUnauthorized
	case errs.NetworkError, errs.TimeoutError:
		return http.StatusServiceUnavailable
	case errs.ServerError, errs.RetryLimitReached, errs.PhoneBindingError, errs.CodeUsed:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeSessionError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), model.ErrorResponse{
		Error:   string(errs.KindOf(err)),
		Message: errs.MessageOf(err),
	})
}
