package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/stylingadventures/closetd/internal/apperr"
	"github.com/stylingadventures/closetd/internal/auth/cognito"
	"github.com/stylingadventures/closetd/internal/auth/loginstate"
)

// handleLogin mints a hosted-UI login URL. The PKCE verifier and state
// stay server-side keyed by the attempt cookie; starting a new login
// overwrites any earlier in-flight attempt for the same browser.
func (s *Server) handleLogin(c *gin.Context) {
	attemptID, err := c.Cookie(attemptCookie)
	if err != nil || attemptID == "" {
		attemptID = uuid.NewString()
	}

	pkce, err := cognito.GeneratePKCECodes()
	if err != nil {
		respondError(c, err)
		return
	}
	state, err := cognito.GenerateState()
	if err != nil {
		respondError(c, err)
		return
	}
	loginURL, err := s.auth.BuildLoginURL(state, pkce)
	if err != nil {
		respondError(c, err)
		return
	}

	attempt := loginstate.Attempt{
		Verifier:  pkce.CodeVerifier,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	if err = s.attempts.Save(c.Request.Context(), attemptID, attempt, attemptTTL); err != nil {
		respondError(c, err)
		return
	}

	s.setCookie(c, attemptCookie, attemptID, int(attemptTTL.Seconds()))
	c.JSON(http.StatusOK, gin.H{"url": loginURL})
}

// handleCallback redeems the provider redirect: the echoed state must
// match the saved attempt, then the code plus stored verifier buys a
// token set and a rotating session.
func (s *Server) handleCallback(c *gin.Context) {
	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		respondBadRequest(c, "code and state are required")
		return
	}

	attemptID, err := c.Cookie(attemptCookie)
	if err != nil || attemptID == "" {
		respondBadRequest(c, "no login attempt in progress")
		return
	}
	attempt, err := s.attempts.Take(c.Request.Context(), attemptID)
	if err != nil {
		respondError(c, err)
		return
	}
	if attempt.State != state {
		respondError(c, &apperr.ValidationError{Field: "state", Message: "state mismatch"})
		return
	}

	tokens, err := s.auth.Exchange(c.Request.Context(), code, attempt.Verifier)
	if err != nil {
		respondError(c, err)
		return
	}

	sessionID := uuid.NewString()
	sess, err := s.sessions.Create(sessionID, tokens)
	if err != nil {
		respondError(c, err)
		return
	}
	if err = s.sessions.ScheduleRotation(sessionID); err != nil {
		log.WithField("sub", sess.Sub).Warnf("rotation scheduling failed: %v", err)
	}

	s.setCookie(c, sessionCookie, sessionID, 0)
	s.clearCookie(c, attemptCookie)
	c.JSON(http.StatusOK, gin.H{
		"idToken":     tokens.IDToken,
		"accessToken": tokens.AccessToken,
		"expiresIn":   tokens.ExpiresIn,
	})
}

// handleRefresh rotates the session's tokens on demand, same path the
// background timer takes.
func (s *Server) handleRefresh(c *gin.Context) {
	sessionID, err := c.Cookie(sessionCookie)
	if err != nil || sessionID == "" {
		respondError(c, &apperr.NotFoundError{Kind: "session", ID: ""})
		return
	}
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		respondError(c, &apperr.NotFoundError{Kind: "session", ID: sessionID})
		return
	}

	fresh, err := s.auth.Refresh(c.Request.Context(), sess.Tokens.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}
	merged, ok := s.sessions.UpdateTokens(sessionID, fresh)
	if !ok {
		respondError(c, &apperr.NotFoundError{Kind: "session", ID: sessionID})
		return
	}
	if err = s.sessions.ScheduleRotation(sessionID); err != nil {
		log.WithField("sub", sess.Sub).Warnf("rotation scheduling failed: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"idToken":     merged.IDToken,
		"accessToken": merged.AccessToken,
		"expiresIn":   merged.ExpiresIn,
	})
}

// handleLogout destroys the session and hands back the hosted-UI global
// sign-out URL.
func (s *Server) handleLogout(c *gin.Context) {
	if sessionID, err := c.Cookie(sessionCookie); err == nil && sessionID != "" {
		s.sessions.SignOut(sessionID)
	}
	s.clearCookie(c, sessionCookie)
	c.JSON(http.StatusOK, gin.H{"url": s.auth.LogoutURL()})
}

// handleTokenExchange redeems an authorization code on behalf of a
// public client and returns the provider's payload verbatim.
func (s *Server) handleTokenExchange(c *gin.Context) {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "invalid JSON body")
		return
	}
	payload, err := s.auth.ExchangeRaw(c.Request.Context(), body.Code)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json", payload)
}

func (s *Server) setCookie(c *gin.Context, name, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, maxAge, "/", "", true, true)
}

func (s *Server) clearCookie(c *gin.Context, name string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, "", -1, "/", "", true, true)
}
