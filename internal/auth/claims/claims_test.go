package claims

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"
)

func makeToken(t *testing.T, payload map[string]any) string {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	enc := base64.URLEncoding.WithPadding(base64.NoPadding)
	header := enc.EncodeToString([]byte(`{"alg":"RS256","typ":"JWT"}`))
	return header + "." + enc.EncodeToString(body) + ".sig"
}

func TestParseIDToken(t *testing.T) {
	t.Parallel()

	exp := time.Now().Add(time.Hour).Unix()
	token := makeToken(t, map[string]any{
		"sub":            "user-123",
		"email":          "lala@example.com",
		"exp":            exp,
		"cognito:groups": []string{"ADMIN", "BESTIE"},
	})

	claims, err := ParseIDToken(token)
	if err != nil {
		t.Fatalf("ParseIDToken() error = %v", err)
	}
	if claims.Sub != "user-123" {
		t.Errorf("Sub = %q, want %q", claims.Sub, "user-123")
	}
	if claims.Email != "lala@example.com" {
		t.Errorf("Email = %q", claims.Email)
	}
	if claims.Exp != exp {
		t.Errorf("Exp = %d, want %d", claims.Exp, exp)
	}
	if !claims.InGroup("admin") {
		t.Error("InGroup(admin) = false, want true (case-insensitive)")
	}
	if claims.Expired(time.Now()) {
		t.Error("Expired() = true for future exp")
	}
}

func TestParseIDTokenMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"two parts", "aaaa.bbbb"},
		{"bad base64", "aaaa.!!!!.cccc"},
		{"payload not json", "aaaa." + base64.RawURLEncoding.EncodeToString([]byte("nope")) + ".cccc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := ParseIDToken(tt.token); err == nil {
				t.Fatal("ParseIDToken() error = nil, want parse failure")
			}
		})
	}
}

func TestGroupClaimShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"array", `["ADMIN","CREATOR"]`, []string{"ADMIN", "CREATOR"}},
		{"comma string", `"ADMIN, CREATOR"`, []string{"ADMIN", "CREATOR"}},
		{"single string", `"FAN"`, []string{"FAN"}},
		{"null", `null`, nil},
		{"empty string", `""`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var g GroupClaim
			if err := json.Unmarshal([]byte(tt.raw), &g); err != nil {
				t.Fatalf("unmarshal %s: %v", tt.raw, err)
			}
			if len(g) != len(tt.want) {
				t.Fatalf("got %v, want %v", g, tt.want)
			}
			for i := range g {
				if g[i] != tt.want[i] {
					t.Fatalf("got %v, want %v", g, tt.want)
				}
			}
		})
	}
}
