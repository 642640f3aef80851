package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// respondError translates a typed error into the JSON error shape.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(apperr.HTTPStatus(err), gin.H{
		"error":   apperr.Code(err),
		"message": err.Error(),
	})
}

// respondBadRequest is for body/query parse failures before any typed
// error exists.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
	})
}
