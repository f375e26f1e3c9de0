package downloader

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strings"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/pkg/youtube"
	"go.uber.org/zap"
)

type YouTubeSource struct {
	Client *youtube.Client
}

func (s *YouTubeSource) Open(ctx context.Context, videoURL string) (*Stream, error) {
	audio, err := s.Client.GetAudioStream(ctx, videoURL)
	if err != nil {
		return nil, err
	}
	return &Stream{Body: audio.Body, Size: audio.Size}, nil
}

func (s *YouTubeSource) Extension(string) string {
	return "m4a"
}

// DirectSource fetches audio files served over plain http(s).
type DirectSource struct {
	HTTPClient *http.Client
	Extensions []string
}

// Supports reports whether rawURL is an http(s) url whose path ends in a known audio extension.
func (s *DirectSource) Supports(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext != "" && slices.Contains(s.Extensions, ext)
}

func (s *DirectSource) Extension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), ".")
}

func (s *DirectSource) Open(ctx context.Context, rawURL string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	zaplog.InfoC(ctx, "direct download opened", zap.String("url", rawURL), zap.Int64("size", resp.ContentLength))
	return &Stream{Body: resp.Body, Size: resp.ContentLength}, nil
}
