package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/fsbridge/internal/shared/types"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusFor maps a bridge or provider error to an HTTP status
func StatusFor(err error) int {
	if errors.Is(err, types.ErrNoProvider) || errors.Is(err, types.ErrProviderDegraded) {
		return http.StatusServiceUnavailable
	}

	switch types.CodeOf(err) {
	case types.CodeOK:
		return http.StatusOK
	case types.CodeNotFound:
		return http.StatusNotFound
	case types.CodeExists, types.CodeInUse, types.CodeNotEmpty,
		types.CodeNotADirectory, types.CodeNotAFile, types.CodeAbort:
		return http.StatusConflict
	case types.CodeAccessDenied, types.CodeSecurity:
		return http.StatusForbidden
	case types.CodeInvalidOperation, types.CodeInvalidURL:
		return http.StatusBadRequest
	case types.CodeTooManyOpened:
		return http.StatusTooManyRequests
	case types.CodeNoSpace:
		return http.StatusInsufficientStorage
	case types.CodeNoMemory:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}

// respondError writes err with its wire code
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(StatusFor(err), ErrorResponse{
		Error: err.Error(),
		Code:  types.CodeOf(err).String(),
	})
}

// badRequest reports malformed input as INVALID_OPERATION
func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{
		Error: msg,
		Code:  types.CodeInvalidOperation.String(),
	})
}
