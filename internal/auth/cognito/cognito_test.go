package cognito

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stylingadventures/closetd/internal/apperr"
	"github.com/stylingadventures/closetd/internal/config"
)

func testConfig(domain string) config.CognitoConfig {
	return config.CognitoConfig{
		Domain:       domain,
		ClientID:     "client-abc",
		ClientSecret: "shh",
		RedirectURI:  "https://app.example.com/callback",
		LogoutURI:    "https://app.example.com/",
	}
}

func TestGeneratePKCECodes(t *testing.T) {
	t.Parallel()

	pkce, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}

	if n := len(pkce.CodeVerifier); n < 43 || n > 128 {
		t.Errorf("verifier length = %d, want 43..128", n)
	}
	if strings.ContainsAny(pkce.CodeVerifier, "+/=") {
		t.Errorf("verifier is not URL-safe unpadded base64: %q", pkce.CodeVerifier)
	}

	sum := sha256.Sum256([]byte(pkce.CodeVerifier))
	want := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(sum[:])
	if pkce.CodeChallenge != want {
		t.Errorf("challenge = %q, want base64url(sha256(verifier)) = %q", pkce.CodeChallenge, want)
	}

	other, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}
	if other.CodeVerifier == pkce.CodeVerifier {
		t.Error("two verifiers are identical")
	}
}

func TestBuildLoginURL(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testConfig("https://idp.example.com"), nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	pkce, err := GeneratePKCECodes()
	if err != nil {
		t.Fatalf("GeneratePKCECodes() error = %v", err)
	}

	loginURL, err := svc.BuildLoginURL("state-xyz", pkce)
	if err != nil {
		t.Fatalf("BuildLoginURL() error = %v", err)
	}

	u, err := url.Parse(loginURL)
	if err != nil {
		t.Fatalf("parse login URL: %v", err)
	}
	if u.Host != "idp.example.com" || u.Path != "/oauth2/authorize" {
		t.Errorf("login URL endpoint = %s%s", u.Host, u.Path)
	}
	q := u.Query()
	checks := map[string]string{
		"response_type":         "code",
		"client_id":             "client-abc",
		"redirect_uri":          "https://app.example.com/callback",
		"scope":                 "openid email profile",
		"state":                 "state-xyz",
		"code_challenge":        pkce.CodeChallenge,
		"code_challenge_method": "S256",
	}
	for k, want := range checks {
		if got := q.Get(k); got != want {
			t.Errorf("query %s = %q, want %q", k, got, want)
		}
	}
}

func TestNewServiceMissingSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.CognitoConfig)
	}{
		{"no domain", func(c *config.CognitoConfig) { c.Domain = "" }},
		{"no client id", func(c *config.CognitoConfig) { c.ClientID = "" }},
		{"no redirect uri", func(c *config.CognitoConfig) { c.RedirectURI = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig("https://idp.example.com")
			tt.mutate(&cfg)
			_, err := NewService(cfg, nil)
			var configErr *apperr.ConfigurationError
			if !errors.As(err, &configErr) {
				t.Fatalf("NewService() error = %v, want *apperr.ConfigurationError", err)
			}
		})
	}
}

func TestExchangeProviderRejection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth2/token" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("code_verifier"); got != "verifier-1" {
			t.Errorf("code_verifier = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	_, err = svc.Exchange(context.Background(), "bad-code", "verifier-1")
	var exchangeErr *apperr.AuthExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("Exchange() error = %v, want *apperr.AuthExchangeError", err)
	}
	if exchangeErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", exchangeErr.Status)
	}
	if !strings.Contains(exchangeErr.Body, "invalid_grant") {
		t.Errorf("Body = %q, want provider body", exchangeErr.Body)
	}
}

func TestExchangeSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id_token": "id-1",
			"access_token": "at-1",
			"refresh_token": "rt-1",
			"token_type": "Bearer",
			"expires_in": 3600
		}`))
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	tok, err := svc.Exchange(context.Background(), "good-code", "verifier-1")
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if tok.IDToken != "id-1" || tok.AccessToken != "at-1" || tok.RefreshToken != "rt-1" {
		t.Errorf("unexpected token set: %+v", tok)
	}
	if tok.ExpiresIn != 3600 {
		t.Errorf("ExpiresIn = %d, want 3600", tok.ExpiresIn)
	}
}

func TestRefreshOmittedRefreshToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if _, _, ok := r.BasicAuth(); !ok {
			t.Error("expected basic auth with client credentials")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id_token":"id-2","access_token":"at-2","expires_in":3600}`))
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), srv.Client())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	tok, err := svc.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if tok.RefreshToken != "" {
		t.Errorf("RefreshToken = %q, want empty (caller merges)", tok.RefreshToken)
	}
	if tok.IDToken != "id-2" {
		t.Errorf("IDToken = %q", tok.IDToken)
	}
}

func TestLogoutURL(t *testing.T) {
	t.Parallel()

	svc, err := NewService(testConfig("https://idp.example.com"), nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	u, err := url.Parse(svc.LogoutURL())
	if err != nil {
		t.Fatalf("parse logout URL: %v", err)
	}
	if u.Path != "/logout" {
		t.Errorf("path = %q, want /logout", u.Path)
	}
	if got := u.Query().Get("client_id"); got != "client-abc" {
		t.Errorf("client_id = %q", got)
	}
	if got := u.Query().Get("logout_uri"); got != "https://app.example.com/" {
		t.Errorf("logout_uri = %q", got)
	}
}
