package registry

import (
	"context"

	"github.com/gcottom/track-dl/internal/model"
	"github.com/google/uuid"
)

// Backend performs the network transfer for the sources it claims. Transfers run
// asynchronously and report back through the process lifecycle handler.
type Backend interface {
	Name() string
	// Priority orders applicable backends; the lowest value wins.
	Priority() int
	IsApplicable(url string) bool
	RequestDownload(ctx context.Context, userID int64, requestID uuid.UUID, target model.Target) (*model.DownloadProcess, error)
	RequestRetryDownload(ctx context.Context, processID int64, url string) (*model.DownloadProcess, error)
}

// Registry is an ordered collection of backends.
type Registry struct {
	backends []Backend
}
