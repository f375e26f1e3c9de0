package youtube

import (
	"io"
	"net/http"
	"time"

	"github.com/kkdai/youtube/v2"
)

type Client struct {
	YTClient *youtube.Client
}

func NewClient() *Client {
	return &Client{
		YTClient: &youtube.Client{HTTPClient: http.DefaultClient},
	}
}

// AudioStream is an open audio stream of a video together with its metadata.
type AudioStream struct {
	Body     io.ReadCloser
	Size     int64
	MimeType string
	Title    string
	Author   string
	Duration time.Duration
}
