package process

import (
	"time"

	"github.com/gcottom/track-dl/internal/events"
	"github.com/gcottom/track-dl/internal/metrics"
	"github.com/gcottom/track-dl/internal/store"
)

// Service is the lifecycle handler of download processes. Every mutation runs in
// its own transaction so that backend callbacks commit independently of the
// request that started the download.
type Service struct {
	Store     store.Store
	Publisher events.Publisher
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

const unknownError = "unknown error"
