package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"poolmirror/internal/apperr"
)

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// abortWithError writes {"error": msg}. Persistence and unclassified
// failures hide their cause from the client.
func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusNotFound:
		msg = "resource not found"
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
