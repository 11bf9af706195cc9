package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"rackforge/internal/stories/webhooks"
)

const signatureHeader = "X-Callback-Signature"

// tripayCallback receives gateway payment notifications. Any 2xx tells the
// gateway to stop retrying, so only transport or signature problems return
// non-2xx here.
func (s *Server) tripayCallback(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := s.webhooks.Handle(c.Request.Context(), body, c.GetHeader(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, webhooks.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		case errors.Is(err, webhooks.ErrMalformedPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		case errors.Is(err, webhooks.ErrUnknownReference):
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown reference"})
		default:
			s.fail(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"duplicate": result.Duplicate,
		"ignored":   result.Ignored,
	})
}
