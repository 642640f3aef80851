package thumbs

import "testing"

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{"uppercase extension", "users/abc/photo.PNG", "thumbs/abc/photo.jpg"},
		{"jpeg", "users/abc/fit.jpeg", "thumbs/abc/fit.jpg"},
		{"webp", "users/abc/look.webp", "thumbs/abc/look.jpg"},
		{"nested path", "users/abc/2026/09/fit.png", "thumbs/abc/2026/09/fit.jpg"},
		{"no extension", "users/abc/raw", "thumbs/abc/raw.jpg"},
		{"not under uploads", "shared/promo.png", "thumbs/shared/promo.jpg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := DeriveKey("", tt.src); got != tt.want {
				t.Errorf("DeriveKey(%q) = %q, want %q", tt.src, got, tt.want)
			}
		})
	}
}

func TestShouldProcess(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"png upload", "users/abc/photo.png", true},
		{"uppercase extension", "users/abc/photo.PNG", true},
		{"jpg upload", "users/abc/photo.jpg", true},
		{"jpeg upload", "users/abc/photo.jpeg", true},
		{"webp upload", "users/abc/photo.webp", true},
		{"already derived", "thumbs/users/abc/photo.jpg", false},
		{"outside uploads namespace", "assets/logo.png", false},
		{"unsupported extension", "users/abc/notes.txt", false},
		{"gif not supported", "users/abc/loop.gif", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ShouldProcess("", tt.key); got != tt.want {
				t.Errorf("ShouldProcess(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}
