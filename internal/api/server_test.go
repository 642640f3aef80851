package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/stylingadventures/closetd/internal/approval"
	"github.com/stylingadventures/closetd/internal/config"
	"github.com/stylingadventures/closetd/internal/roles"
	"github.com/stylingadventures/closetd/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type fakeObjects struct {
	listPrefix string
	deleted    []string
}

func (f *fakeObjects) List(_ context.Context, prefix, _ string, _ int) (*store.ListResult, error) {
	f.listPrefix = prefix
	return &store.ListResult{Items: []store.ObjectInfo{{Key: prefix + "dress.jpg", Size: 42}}}, nil
}

func (f *fakeObjects) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.test/put/" + key, nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.test/get/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeThumbs struct {
	ready map[string]bool
}

func (f *fakeThumbs) Ready(_ context.Context, srcKey string) (bool, error) {
	return f.ready[srcKey], nil
}

type recordedSignal struct {
	token   string
	output  string
	errCode string
	cause   string
}

type fakeSignaler struct {
	successes []recordedSignal
	failures  []recordedSignal
}

func (f *fakeSignaler) TaskSuccess(_ context.Context, taskToken, output string) error {
	f.successes = append(f.successes, recordedSignal{token: taskToken, output: output})
	return nil
}

func (f *fakeSignaler) TaskFailure(_ context.Context, taskToken, errorCode, cause string) error {
	f.failures = append(f.failures, recordedSignal{token: taskToken, errCode: errorCode, cause: cause})
	return nil
}

type testEnv struct {
	router   *gin.Engine
	objects  *fakeObjects
	thumbs   *fakeThumbs
	signaler *fakeSignaler
	enqueued []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		AllowedOrigins: []string{"https://closet.example.com"},
		Uploads:        config.UploadsConfig{BaseLimitMB: 50, BestieLimitMB: 200},
	}
	ptr := &atomic.Pointer[config.Config]{}
	ptr.Store(cfg)

	env := &testEnv{
		objects:  &fakeObjects{},
		thumbs:   &fakeThumbs{ready: map[string]bool{}},
		signaler: &fakeSignaler{},
	}
	coordinator := approval.NewCoordinator(approval.NewMemoryStore(), env.signaler, nil)

	srv := NewServer(Deps{
		Config:      ptr,
		Roles:       roles.NewMemoryStore(),
		Objects:     env.objects,
		Thumbs:      env.thumbs,
		Coordinator: coordinator,
		Enqueue: func(_ context.Context, key string) error {
			env.enqueued = append(env.enqueued, key)
			return nil
		},
		Verifier: UnverifiedVerifier{},
	})
	env.router = srv.Router()
	return env
}

// testToken fabricates an unsigned JWT carrying the given claims.
func testToken(t *testing.T, sub, email string, groups []string) string {
	t.Helper()
	payload := map[string]any{
		"sub":   sub,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	if groups != nil {
		payload["cognito:groups"] = groups
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding
	header := enc.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	return header + "." + enc.EncodeToString(data) + ".sig"
}

func expiredToken(t *testing.T) string {
	t.Helper()
	enc := base64.RawURLEncoding
	payload, _ := json.Marshal(map[string]any{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	return enc.EncodeToString([]byte(`{"alg":"none"}`)) + "." + enc.EncodeToString(payload) + ".sig"
}

func doRequest(t *testing.T, router *gin.Engine, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestSanitizePrefix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "users/u1/closet/", "users/u1/closet/"},
		{"traversal", "users/../secrets/", ""},
		{"leading slashes", "//users/u1/", "users/u1/"},
		{"strips odd chars", "users/u1/a b?c*", "users/u1/abc"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := sanitizePrefix(tc.in); got != tc.want {
				t.Errorf("sanitizePrefix(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestScopeUserKey(t *testing.T) {
	t.Parallel()
	fan := &Identity{Sub: "u1"}
	admin := &Identity{Sub: "a1", Groups: []string{"ADMIN"}}

	tests := []struct {
		name    string
		id      *Identity
		key     string
		want    string
		wantErr bool
	}{
		{"bare name prefixed", fan, "dress.jpg", "users/u1/dress.jpg", false},
		{"already scoped", fan, "users/u1/dress.jpg", "users/u1/dress.jpg", false},
		{"foreign namespace re-scoped", fan, "users/u2/dress.jpg", "users/u1/users/u2/dress.jpg", false},
		{"admin may cross namespaces", admin, "users/u2/dress.jpg", "users/u2/dress.jpg", false},
		{"traversal rejected", fan, "../secrets", "", true},
		{"empty rejected", fan, "", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := scopeUserKey(tc.id, tc.key)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("scopeUserKey(%q) expected error, got %q", tc.key, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("scopeUserKey(%q): %v", tc.key, err)
			}
			if got != tc.want {
				t.Errorf("scopeUserKey(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodGet, "/me", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, env.router, http.MethodGet, "/me", expiredToken(t), "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: status = %d, want 401", rec.Code)
	}

	rec = doRequest(t, env.router, http.MethodGet, "/me", testToken(t, "u1", "Fan@Example.com", nil), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := gjson.Parse(rec.Body.String())
	if got := body.Get("profile.role").String(); got != "FAN" {
		t.Errorf("first-seen role = %q, want FAN", got)
	}
	if body.Get("canUpload").Bool() {
		t.Error("fan should not be able to upload")
	}
}

func TestListScopedToCaller(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodGet, "/list?prefix=..%2F..%2Fetc", testToken(t, "u1", "u1@example.com", nil), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if env.objects.listPrefix != "users/u1/" {
		t.Errorf("listed prefix = %q, want users/u1/", env.objects.listPrefix)
	}

	rec = doRequest(t, env.router, http.MethodGet, "/list?prefix=users/u2/", testToken(t, "a1", "a@example.com", []string{"ADMIN"}), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: status = %d", rec.Code)
	}
	if env.objects.listPrefix != "users/u2/" {
		t.Errorf("admin listed prefix = %q, want users/u2/", env.objects.listPrefix)
	}
}

func TestPresignQuota(t *testing.T) {
	env := newTestEnv(t)
	fanToken := testToken(t, "u1", "u1@example.com", nil)
	bestieToken := testToken(t, "b1", "b1@example.com", []string{"BESTIE"})

	over := `{"key":"big.jpg","contentType":"image/jpeg","contentLength":104857600}`
	rec := doRequest(t, env.router, http.MethodPost, "/presign", fanToken, over)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("fan over quota: status = %d, want 413", rec.Code)
	}

	rec = doRequest(t, env.router, http.MethodPost, "/presign", bestieToken, over)
	if rec.Code != http.StatusOK {
		t.Fatalf("bestie within quota: status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := gjson.Parse(rec.Body.String())
	if got := body.Get("key").String(); got != "users/b1/big.jpg" {
		t.Errorf("key = %q, want users/b1/big.jpg", got)
	}
	if !strings.Contains(body.Get("putUrl").String(), "users/b1/big.jpg") {
		t.Errorf("putUrl = %q missing scoped key", body.Get("putUrl").String())
	}
	if body.Get("getUrl").String() == "" {
		t.Error("getUrl missing")
	}
}

func TestDeleteScopesKey(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodDelete, "/delete?key=dress.jpg", testToken(t, "u1", "u1@example.com", nil), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.objects.deleted) != 1 || env.objects.deleted[0] != "users/u1/dress.jpg" {
		t.Errorf("deleted = %v, want [users/u1/dress.jpg]", env.objects.deleted)
	}
}

func TestThumbHead(t *testing.T) {
	env := newTestEnv(t)
	token := testToken(t, "u1", "u1@example.com", nil)
	env.thumbs.ready["users/u1/dress.jpg"] = true

	rec := doRequest(t, env.router, http.MethodGet, "/thumb-head?key=dress.jpg", token, "")
	if rec.Code != http.StatusOK || !gjson.Get(rec.Body.String(), "ready").Bool() {
		t.Fatalf("ready GET: status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, env.router, http.MethodHead, "/thumb-head?key=dress.jpg", token, "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("ready HEAD: status = %d, want 204", rec.Code)
	}

	rec = doRequest(t, env.router, http.MethodHead, "/thumb-head?key=pending.jpg", token, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("pending HEAD: status = %d, want 404", rec.Code)
	}
}

func TestUploadCompleteEnqueues(t *testing.T) {
	env := newTestEnv(t)

	rec := doRequest(t, env.router, http.MethodPost, "/uploads/complete", testToken(t, "u1", "u1@example.com", nil), `{"key":"dress.jpg"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.enqueued) != 1 || env.enqueued[0] != "users/u1/dress.jpg" {
		t.Errorf("enqueued = %v, want [users/u1/dress.jpg]", env.enqueued)
	}
}

func TestApprovalRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	adminToken := testToken(t, "a1", "a@example.com", []string{"ADMIN"})
	fanToken := testToken(t, "u1", "u1@example.com", nil)

	save := `{"taskToken":"tok-1","type":"closet.upload","detail":{"itemId":"item-9","key":"users/u1/dress.jpg"}}`
	rec := doRequest(t, env.router, http.MethodPost, "/internal/approvals", "", save)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "itemId").String(); got != "item-9" {
		t.Fatalf("save itemId = %q, want item-9 (from detail)", got)
	}

	resolve := `{"itemId":"item-9","decision":"APPROVE"}`
	rec = doRequest(t, env.router, http.MethodPost, "/admin/approvals/resolve", fanToken, resolve)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("fan resolve: status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, env.router, http.MethodPost, "/admin/approvals/resolve", adminToken, resolve)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin resolve: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(env.signaler.successes) != 1 || env.signaler.successes[0].token != "tok-1" {
		t.Fatalf("successes = %+v, want one for tok-1", env.signaler.successes)
	}
	if !gjson.Get(env.signaler.successes[0].output, "approved").Bool() {
		t.Errorf("success output = %q, want approved:true", env.signaler.successes[0].output)
	}

	rec = doRequest(t, env.router, http.MethodPost, "/admin/approvals/resolve", adminToken, resolve)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second resolve: status = %d, want 404", rec.Code)
	}
	if len(env.signaler.successes)+len(env.signaler.failures) != 1 {
		t.Errorf("extra signals after second resolve: %+v %+v", env.signaler.successes, env.signaler.failures)
	}
}

func TestSetRoleAuthorization(t *testing.T) {
	env := newTestEnv(t)
	adminToken := testToken(t, "a1", "a@example.com", []string{"ADMIN"})
	fanToken := testToken(t, "u1", "u1@example.com", nil)

	rec := doRequest(t, env.router, http.MethodPost, "/admin/roles", fanToken, `{"userId":"u2","role":"CREATOR"}`)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("fan targeting other: status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, env.router, http.MethodPost, "/admin/roles", fanToken, `{"role":"CREATOR","email":"u1@example.com"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("self mutation: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := gjson.Get(rec.Body.String(), "role").String(); got != "CREATOR" {
		t.Errorf("self role = %q, want CREATOR", got)
	}

	rec = doRequest(t, env.router, http.MethodPost, "/admin/roles", adminToken, `{"userId":"u2","role":"COLLAB","tier":"PRIME"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin targeting other: status = %d, body %s", rec.Code, rec.Body.String())
	}
	body := gjson.Parse(rec.Body.String())
	if body.Get("role").String() != "COLLAB" || body.Get("tier").String() != "PRIME" {
		t.Errorf("admin mutation result = %s", rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/list", nil)
	req.Header.Set("Origin", "https://closet.example.com")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("allowed preflight: status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://closet.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("Allow-Credentials missing")
	}

	req = httptest.NewRequest(http.MethodOptions, "/list", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unknown-origin preflight: status = %d, want 403", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin must not be echoed")
	}
}
