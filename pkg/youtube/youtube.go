package youtube

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/retry"
	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"
)

var videoHosts = []string{"youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be"}

// IsVideoURL reports whether rawURL points at a single youtube video.
func IsVideoURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.ToLower(u.Hostname())
	known := false
	for _, h := range videoHosts {
		if host == h {
			known = true
			break
		}
	}
	if !known {
		return false
	}
	_, err = youtube.ExtractVideoID(rawURL)
	return err == nil
}

// GetAudioStream opens the best audio stream of the video. Metadata lookups are retried.
func (s *Client) GetAudioStream(ctx context.Context, videoURL string) (*AudioStream, error) {
	zaplog.InfoC(ctx, "fetching video info", zap.String("url", videoURL))
	res, err := retry.Retry(retry.NewAlgSimpleDefault(), 3, s.GetVideo, ctx, videoURL)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to get video info", zap.String("url", videoURL), zap.Error(err))
		return nil, fmt.Errorf("failed to get video info: %w", err)
	}
	videoInfo := res[0].(*youtube.Video)
	zaplog.InfoC(ctx, "video info fetched", zap.String("id", videoInfo.ID), zap.String("title", videoInfo.Title))

	bestFormat := getBestAudioFormat(videoInfo.Formats.Type("audio"))
	if bestFormat == nil {
		zaplog.ErrorC(ctx, "failed to get best audio format", zap.String("id", videoInfo.ID))
		return nil, fmt.Errorf("no audio format available for video %s", videoInfo.ID)
	}
	zaplog.InfoC(ctx, "best audio format found", zap.String("id", videoInfo.ID), zap.Int("bitrate", bestFormat.Bitrate), zap.String("mime", bestFormat.MimeType))

	stream, size, err := s.YTClient.GetStreamContext(ctx, videoInfo, bestFormat)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to get stream", zap.String("id", videoInfo.ID), zap.Error(err))
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	return &AudioStream{
		Body:     stream,
		Size:     size,
		MimeType: bestFormat.MimeType,
		Title:    videoInfo.Title,
		Author:   videoInfo.Author,
		Duration: videoInfo.Duration,
	}, nil
}

func (s *Client) GetVideo(ctx context.Context, videoURL string) (*youtube.Video, error) {
	return s.YTClient.GetVideoContext(ctx, videoURL)
}

// getBestAudioFormat picks the highest bitrate mp4 audio, falling back to any audio
// format so the stored .m4a name matches whenever possible.
func getBestAudioFormat(formats youtube.FormatList) *youtube.Format {
	var bestFormat, bestAny *youtube.Format
	maxBitrate, maxAny := 0, 0
	for _, format := range formats {
		if format.Bitrate > maxAny {
			best := format
			bestAny = &best
			maxAny = format.Bitrate
		}
		if strings.HasPrefix(format.MimeType, "audio/mp4") && format.Bitrate > maxBitrate {
			best := format
			bestFormat = &best
			maxBitrate = format.Bitrate
		}
	}
	if bestFormat == nil {
		return bestAny
	}
	return bestFormat
}
