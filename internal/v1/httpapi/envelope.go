// Package httpapi implements the HTTP API described in the specification's
// external-interfaces section: thin Gin handlers that bind a request,
// delegate to a domain service (meeting, minutes, email, repository), and
// translate the result into the {success, message, data} envelope every
// route shares.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/meetgrid/backend/internal/v1/apperror"
)

// envelope is the uniform JSON response shape for every route.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// respond writes a successful envelope with the given status and data.
func respond(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

// respondOK is respond with 200.
func respondOK(c *gin.Context, data any) {
	respond(c, http.StatusOK, data)
}

// fail maps err's apperror.Code to an HTTP status and aborts the request
// with the failure envelope. Every handler funnels domain errors here so
// status-code mapping lives in exactly one place.
func fail(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(apperror.CodeOf(err)), envelope{
		Success: false,
		Message: apperror.MessageOf(err),
	})
}

func statusFor(code apperror.Code) int {
	switch code {
	case apperror.CodeBadRequest:
		return http.StatusBadRequest
	case apperror.CodeUnauthenticated:
		return http.StatusUnauthorized
	case apperror.CodeForbidden:
		return http.StatusForbidden
	case apperror.CodeNotFound:
		return http.StatusNotFound
	case apperror.CodeGone:
		return http.StatusGone
	case apperror.CodeConflict:
		return http.StatusConflict
	case apperror.CodeResourceExhausted:
		return http.StatusTooManyRequests
	case apperror.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	case apperror.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
