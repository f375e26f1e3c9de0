package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean relative", "downloads/a.mp3", "downloads/a.mp3"},
		{"absolute stays absolute", "/srv/music/a.mp3", "/srv/music/a.mp3"},
		{"invalid characters", "downloads/AC:DC - T.N.T?.mp3", "downloads/AC_DC - T.N.T_.mp3"},
		{"trailing dots and spaces", "downloads/name. .", "downloads/name"},
		{"only invalid", "downloads/...", "downloads/_"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePath(tt.in))
		})
	}
}

func TestNormalizeURLs(t *testing.T) {
	got := NormalizeURLs([]string{" https://a ", "", "https://b", "   ", "https://a"})
	assert.Equal(t, []string{"https://a", "https://b"}, got)
	assert.Empty(t, NormalizeURLs(nil))
}
