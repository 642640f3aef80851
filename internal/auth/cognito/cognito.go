package cognito

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/stylingadventures/closetd/internal/apperr"
	"github.com/stylingadventures/closetd/internal/auth/session"
	"github.com/stylingadventures/closetd/internal/config"
)

// loginScopes is what the hosted UI is asked for on every login.
const loginScopes = "openid email profile"

// Service talks to the identity provider's hosted UI and token endpoint.
type Service struct {
	cfg        config.CognitoConfig
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewService creates the provider client. Missing client id or hosted
// domain is a configuration error; the process should not come up half
// wired.
func NewService(cfg config.CognitoConfig, httpClient *http.Client) (*Service, error) {
	if cfg.Domain == "" {
		return nil, &apperr.ConfigurationError{Setting: "cognito.domain", Message: "hosted UI domain is required"}
	}
	if cfg.ClientID == "" {
		return nil, &apperr.ConfigurationError{Setting: "cognito.client-id", Message: "client id is required"}
	}
	if cfg.RedirectURI == "" {
		return nil, &apperr.ConfigurationError{Setting: "cognito.redirect-uri", Message: "redirect uri is required"}
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Service{
		cfg: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       strings.Fields(loginScopes),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.Domain + "/oauth2/authorize",
				TokenURL: cfg.Domain + "/oauth2/token",
			},
		},
		httpClient: httpClient,
	}, nil
}

// BuildLoginURL mints the hosted-UI authorize URL for one login attempt.
// The challenge is the S256 transform of the verifier saved server-side;
// the state round-trips through the provider for CSRF protection.
func (s *Service) BuildLoginURL(state string, pkce *PKCECodes) (string, error) {
	if pkce == nil {
		return "", fmt.Errorf("PKCE codes are required")
	}
	return s.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", pkce.CodeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	), nil
}

// Exchange redeems an authorization code for tokens, presenting the PKCE
// verifier from the matching login attempt. The client secret never
// leaves the server.
func (s *Service) Exchange(ctx context.Context, code, verifier string) (session.TokenSet, error) {
	if code == "" {
		return session.TokenSet{}, &apperr.ValidationError{Field: "code", Message: "authorization code is required"}
	}
	tok, err := s.oauth.Exchange(s.withClient(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", verifier),
	)
	if err != nil {
		return session.TokenSet{}, mapTokenError(err)
	}
	return toTokenSet(tok), nil
}

// Refresh runs the refresh_token grant. The provider may omit
// refresh_token in the response; callers keep the one they have.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (session.TokenSet, error) {
	if refreshToken == "" {
		return session.TokenSet{}, &apperr.ValidationError{Field: "refresh_token", Message: "refresh token is required"}
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {s.cfg.ClientID},
		"refresh_token": {refreshToken},
	}
	body, err := s.postTokenForm(ctx, form)
	if err != nil {
		return session.TokenSet{}, err
	}
	tok, err := parseTokenBody(body)
	if err != nil {
		return session.TokenSet{}, err
	}
	return tok, nil
}

// ExchangeRaw redeems an authorization code and returns the provider's
// token payload verbatim. Backs the public token-exchange endpoint, whose
// callers expect the untouched provider shape.
func (s *Service) ExchangeRaw(ctx context.Context, code string) ([]byte, error) {
	if code == "" {
		return nil, &apperr.ValidationError{Field: "code", Message: "authorization code is required"}
	}
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"client_id":    {s.cfg.ClientID},
		"redirect_uri": {s.cfg.RedirectURI},
		"code":         {code},
	}
	return s.postTokenForm(ctx, form)
}

// LogoutURL is the hosted-UI global sign-out URL.
func (s *Service) LogoutURL() string {
	params := url.Values{"client_id": {s.cfg.ClientID}}
	if s.cfg.LogoutURI != "" {
		params.Set("logout_uri", s.cfg.LogoutURI)
	}
	return fmt.Sprintf("%s/logout?%s", s.cfg.Domain, params.Encode())
}

// postTokenForm POSTs a form to the token endpoint with the client secret
// as basic auth, returning the raw body on 2xx and an AuthExchangeError
// carrying the provider's status and body otherwise.
func (s *Service) postTokenForm(ctx context.Context, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.oauth.Endpoint.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if s.cfg.ClientSecret != "" {
		req.SetBasicAuth(s.cfg.ClientID, s.cfg.ClientSecret)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &apperr.AuthExchangeError{Cause: err}
	}
	defer func() {
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("failed to close token response body: %v", errClose)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.AuthExchangeError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func (s *Service) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// mapTokenError turns oauth2 retrieval failures into AuthExchangeError,
// preserving the provider's status and body when the call got that far.
func mapTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		status := 0
		if retrieveErr.Response != nil {
			status = retrieveErr.Response.StatusCode
		}
		return &apperr.AuthExchangeError{Status: status, Body: string(retrieveErr.Body)}
	}
	return &apperr.AuthExchangeError{Cause: err}
}

func toTokenSet(tok *oauth2.Token) session.TokenSet {
	ts := session.TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		ts.IDToken = id
	}
	if exp, ok := tok.Extra("expires_in").(float64); ok {
		ts.ExpiresIn = int(exp)
	}
	return ts
}

func parseTokenBody(body []byte) (session.TokenSet, error) {
	var raw struct {
		IDToken      string `json:"id_token"`
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return session.TokenSet{}, fmt.Errorf("failed to parse token response: %w", err)
	}
	return session.TokenSet{
		IDToken:      raw.IDToken,
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		ExpiresIn:    raw.ExpiresIn,
	}, nil
}
