package downloader

import (
	"context"
	"errors"
	"net/http"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/gcottom/track-dl/internal/services/registry"
	"github.com/gcottom/track-dl/pkg/youtube"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ registry.Backend = (*Backend)(nil)

func NewYouTubeBackend(downloader *Service, client *youtube.Client, priority int) *Backend {
	return &Backend{
		BackendName: "youtube",
		Order:       priority,
		Matches:     youtube.IsVideoURL,
		Source:      &YouTubeSource{Client: client},
		Downloader:  downloader,
	}
}

func NewDirectBackend(downloader *Service, httpClient *http.Client, priority int, extensions []string) *Backend {
	source := &DirectSource{HTTPClient: httpClient, Extensions: extensions}
	return &Backend{
		BackendName: "direct",
		Order:       priority,
		Matches:     source.Supports,
		Source:      source,
		Downloader:  downloader,
	}
}

func (b *Backend) Name() string { return b.BackendName }

func (b *Backend) Priority() int { return b.Order }

func (b *Backend) IsApplicable(url string) bool {
	return b.Matches != nil && b.Matches(url)
}

// RequestDownload creates the process and queues its transfer. Without a url the
// source and metadata of target.TrackID come from the catalog.
func (b *Backend) RequestDownload(ctx context.Context, userID int64, requestID uuid.UUID, target model.Target) (*model.DownloadProcess, error) {
	var (
		p   *model.DownloadProcess
		err error
	)
	switch {
	case target.URL != "":
		p, err = b.Downloader.Lifecycle.Initialize(ctx, userID, target.URL, b.filePath(target.URL), target.Title, target.DurationSec)
	case target.TrackID != nil:
		p, err = b.Downloader.Lifecycle.InitializeFromTrackData(ctx, userID, *target.TrackID, b.filePath)
	default:
		err = errors.New("target has neither url nor track id")
	}
	if err != nil {
		return nil, err
	}
	zaplog.InfoC(ctx, "download process created", zap.String("backend", b.BackendName), zap.Int64("process_id", p.ID), zap.String("request_id", requestID.String()))
	return b.queue(ctx, p)
}

func (b *Backend) RequestRetryDownload(ctx context.Context, processID int64, url string) (*model.DownloadProcess, error) {
	path := b.filePath(url)
	p, err := b.Downloader.Lifecycle.Retry(ctx, processID, model.RetryParams{FilePath: &path})
	if err != nil {
		return nil, err
	}
	return b.queue(ctx, p)
}

func (b *Backend) filePath(url string) string {
	return b.Downloader.NewFilePath(b.Source.Extension(url))
}

func (b *Backend) queue(ctx context.Context, p *model.DownloadProcess) (*model.DownloadProcess, error) {
	job := Job{ProcessID: p.ID, URL: p.SourceURL, FilePath: p.FilePath, Source: b.Source}
	if err := b.Downloader.Enqueue(ctx, job); err != nil {
		return b.Downloader.Lifecycle.Fail(ctx, p.ID, err)
	}
	return p, nil
}
