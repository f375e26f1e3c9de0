package downloader

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/gcottom/semaphore"
	"github.com/gcottom/track-dl/internal/metrics"
	"github.com/gcottom/track-dl/internal/model"
)

// Lifecycle receives the status callbacks of running transfers.
type Lifecycle interface {
	Initialize(ctx context.Context, userID int64, sourceURL, filePath string, title *string, durationSec *int) (*model.DownloadProcess, error)
	InitializeFromTrackData(ctx context.Context, userID, trackID int64, filePathFor func(sourceURL string) string) (*model.DownloadProcess, error)
	Start(ctx context.Context, id int64, totalParts int) (*model.DownloadProcess, error)
	Progress(ctx context.Context, id int64, downloadedParts int) (*model.DownloadProcess, error)
	CompleteSuccess(ctx context.Context, id int64, downloadedParts *int) (*model.DownloadProcess, error)
	Fail(ctx context.Context, id int64, cause error) (*model.DownloadProcess, error)
	Retry(ctx context.Context, id int64, params model.RetryParams) (*model.DownloadProcess, error)
}

// Service runs transfers from a bounded queue, at most DownloadLimiter at a time.
type Service struct {
	DownloadLimiter *semaphore.Semaphore
	DownloadQueue   chan Job
	Lifecycle       Lifecycle
	Metrics         *metrics.Metrics
	SaveDir         string

	mu      sync.RWMutex
	stopped bool
	workers sync.WaitGroup
}

type Job struct {
	ProcessID int64
	URL       string
	FilePath  string
	Source    Source
}

// Source opens the media behind a url.
type Source interface {
	Open(ctx context.Context, url string) (*Stream, error)
	// Extension is the file extension, without dot, of the artifact stored for url.
	Extension(url string) string
}

// Stream is an open media body. Size is -1 when unknown.
type Stream struct {
	Body io.ReadCloser
	Size int64
}

// Backend claims urls through Matches and transfers them with Source.
type Backend struct {
	BackendName string
	Order       int
	Matches     func(url string) bool
	Source      Source
	Downloader  *Service
}

var (
	errQueueFull = errors.New("download queue is full")
	errStopped   = errors.New("download interrupted by shutdown")
)
