package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/stylingadventures/closetd/internal/apperr"
)

const listPageSize = 50

// sanitizePrefix normalizes a caller-supplied listing prefix. Anything
// smelling of traversal collapses to empty, leading slashes are
// stripped, and characters outside the key charset are dropped.
func sanitizePrefix(raw string) string {
	if strings.Contains(raw, "..") {
		return ""
	}
	raw = strings.TrimLeft(raw, "/")
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_', r == '-', r == '/', r == '.':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// userPrefix is the namespace a caller may touch.
func userPrefix(sub string) string {
	return "users/" + sub + "/"
}

// scopePrefix confines a listing prefix to the caller's namespace.
// Admins list anywhere.
func scopePrefix(id *Identity, prefix string) string {
	if id.IsAdmin() {
		return prefix
	}
	own := userPrefix(id.Sub)
	if strings.HasPrefix(prefix, own) {
		return prefix
	}
	return own + prefix
}

// scopeUserKey confines an object key to the caller's namespace and
// rejects traversal. Unlike listing, admins are not exempt: writes always
// land in the caller's own space.
func scopeUserKey(id *Identity, key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", &apperr.ValidationError{Field: "key", Message: "path traversal is not allowed"}
	}
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", &apperr.ValidationError{Field: "key", Message: "key is required"}
	}
	own := userPrefix(id.Sub)
	if strings.HasPrefix(key, own) {
		return key, nil
	}
	if id.IsAdmin() && strings.HasPrefix(key, "users/") {
		return key, nil
	}
	return own + key, nil
}

// handleList returns one page of the caller's objects.
func (s *Server) handleList(c *gin.Context) {
	id, _ := CallerIdentity(c)

	prefix := scopePrefix(id, sanitizePrefix(c.Query("prefix")))
	result, err := s.objects.List(c.Request.Context(), prefix, c.Query("token"), listPageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"prefix":      prefix,
		"items":       result.Items,
		"isTruncated": result.IsTruncated,
		"nextToken":   result.NextToken,
	})
}

// handlePresign mints direct-to-bucket upload and download URLs, with a
// tier-dependent size quota.
func (s *Server) handlePresign(c *gin.Context) {
	id, _ := CallerIdentity(c)

	var body struct {
		Key           string `json:"key"`
		ContentType   string `json:"contentType"`
		ContentLength int64  `json:"contentLength"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid JSON body")
		return
	}

	key, err := scopeUserKey(id, body.Key)
	if err != nil {
		respondError(c, err)
		return
	}

	limit := s.uploadLimit(id)
	if body.ContentLength > 0 && body.ContentLength > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "payload_too_large",
			"message": "upload exceeds the size limit for your tier",
			"limit":   limit,
		})
		return
	}

	putURL, err := s.objects.PresignPut(c.Request.Context(), key, putURLExpiry)
	if err != nil {
		respondError(c, err)
		return
	}
	getURL, err := s.objects.PresignGet(c.Request.Context(), key, getURLExpiry)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":    key,
		"putUrl": putURL,
		"getUrl": getURL,
	})
}

// uploadLimit returns the caller's byte quota: besties get the larger one.
func (s *Server) uploadLimit(id *Identity) int64 {
	cfg := s.config()
	limitMB := cfg.Uploads.BaseLimitMB
	if id.IsBestie() || id.IsAdmin() {
		limitMB = cfg.Uploads.BestieLimitMB
	}
	return int64(limitMB) * 1024 * 1024
}

// handleDelete removes one of the caller's objects.
func (s *Server) handleDelete(c *gin.Context) {
	id, _ := CallerIdentity(c)

	key, err := scopeUserKey(id, c.Query("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err = s.objects.Delete(c.Request.Context(), key); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

// handleThumbHead probes thumbnail readiness. GET answers {ready}; HEAD
// answers 204/404 for callers that only want the status line.
func (s *Server) handleThumbHead(c *gin.Context) {
	id, _ := CallerIdentity(c)

	key, err := scopeUserKey(id, c.Query("key"))
	if err != nil {
		respondError(c, err)
		return
	}
	ready, err := s.thumbs.Ready(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}

	if c.Request.Method == http.MethodHead {
		if ready {
			c.Status(http.StatusNoContent)
		} else {
			c.Status(http.StatusNotFound)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": ready})
}

// handleThumbWatch upgrades to a websocket and pushes {ready:true} once
// the thumbnail appears. Polling is server-side and bounded; the socket
// closes after the final message either way.
func (s *Server) handleThumbWatch(c *gin.Context) {
	id, _ := CallerIdentity(c)

	key, err := scopeUserKey(id, c.Query("key"))
	if err != nil {
		respondError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debugf("thumb-watch upgrade failed: %v", err)
		return
	}
	defer func() { _ = conn.Close() }()

	ctx := c.Request.Context()
	deadline := time.Now().Add(60 * time.Second)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		ready, errReady := s.thumbs.Ready(ctx, key)
		if errReady == nil && ready {
			_ = conn.WriteJSON(gin.H{"ready": true})
			return
		}
		if time.Now().After(deadline) {
			_ = conn.WriteJSON(gin.H{"ready": false})
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleUploadComplete enqueues the thumbnail job after the browser
// finishes its presigned PUT.
func (s *Server) handleUploadComplete(c *gin.Context) {
	id, _ := CallerIdentity(c)

	var body struct {
		Key string `json:"key"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid JSON body")
		return
	}
	key, err := scopeUserKey(id, body.Key)
	if err != nil {
		respondError(c, err)
		return
	}
	if err = s.enqueue(c.Request.Context(), key); err != nil {
		respondError(c, &apperr.UpstreamError{Op: "enqueue thumbnail", Cause: err})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": key})
}
