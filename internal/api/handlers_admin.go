package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/stylingadventures/closetd/internal/approval"
	"github.com/stylingadventures/closetd/internal/roles"
)

// saveApprovalMaxBody bounds the workflow callback payload.
const saveApprovalMaxBody = 1 << 20

// handleSaveApproval receives the workflow engine's pause callback: the
// parked execution's task token plus the original event. The event shape
// varies by workflow, so fields are picked out of the raw JSON instead
// of bound to a struct.
func (s *Server) handleSaveApproval(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, saveApprovalMaxBody))
	if err != nil {
		respondBadRequest(c, "unreadable request body")
		return
	}
	if !gjson.ValidBytes(raw) {
		respondBadRequest(c, "invalid JSON body")
		return
	}

	body := gjson.ParseBytes(raw)
	rec := approval.Record{
		TaskToken: body.Get("taskToken").String(),
		Type:      body.Get("type").String(),
		Detail:    body.Get("detail").Raw,
	}
	rec.ItemID = body.Get("itemId").String()
	if rec.ItemID == "" {
		rec.ItemID = body.Get("detail.itemId").String()
	}

	if err = s.coordinator.SaveToken(c.Request.Context(), rec); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"itemId": rec.ItemID, "status": approval.StatusPending})
}

// handleResolveApproval applies an admin decision to a pending item.
func (s *Server) handleResolveApproval(c *gin.Context) {
	var body struct {
		ItemID   string `json:"itemId"`
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid JSON body")
		return
	}

	rec, err := s.coordinator.Resolve(c.Request.Context(), body.ItemID, approval.Decision(body.Decision), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// handleMe returns the caller's profile, creating the default record on
// first sight.
func (s *Server) handleMe(c *gin.Context) {
	id, _ := CallerIdentity(c)

	profile, err := s.roleStore.EnsureProfile(c.Request.Context(), id.Sub, id.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"profile":   profile,
		"groups":    id.Groups,
		"canUpload": roles.CanUpload(profile.Role) || roles.CanUpload(id.Role()),
	})
}

// handleSetRole mutates a user's role record. Admins may target anyone;
// everyone else only their own record.
func (s *Server) handleSetRole(c *gin.Context) {
	id, _ := CallerIdentity(c)

	var input roles.SetRoleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		respondBadRequest(c, "invalid JSON body")
		return
	}
	if input.UserID == "" {
		input.UserID = id.Sub
	}
	if !id.IsAdmin() && input.UserID != id.Sub {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "only admins may change other users",
		})
		return
	}

	profile, err := s.roleStore.SetRole(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}
