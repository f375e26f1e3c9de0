package orchestrator

import (
	"hash/fnv"
	"slices"
	"sync"

	"github.com/gcottom/track-dl/internal/metrics"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/gcottom/track-dl/internal/services/registry"
	"github.com/gcottom/track-dl/internal/store"
	"github.com/google/uuid"
)

// Service is the entry point for download requests. It reuses existing jobs
// where it can and delegates new transfers to the backend the registry selects.
type Service struct {
	Store    store.Store
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	// Retryable lists the statuses a reused job is retried from instead of attached to.
	Retryable []model.Status
	// NewRequestID defaults to uuid.New.
	NewRequestID func() uuid.UUID

	locks sourceLocks
}

const (
	outcomeCreated  = "created"
	outcomeRetried  = "retried"
	outcomeAttached = "attached"
	outcomeFailed   = "failed"

	operationByURLs     = "by_urls"
	operationByTrackIDs = "by_track_ids"
	operationByTrack    = "by_track"
	operationRetry      = "retry"

	MaxPageSize = 100
)

// ItemErrorHandler decides whether a batch continues after an item failed.
type ItemErrorHandler func(item string, err error) bool

type RequestOption func(*requestOptions)

type requestOptions struct {
	musicPackID *int64
	onItemError ItemErrorHandler
}

// WithMusicPack links every process of the request to the music pack.
func WithMusicPack(musicPackID int64) RequestOption {
	return func(o *requestOptions) {
		o.musicPackID = &musicPackID
	}
}

// WithItemErrorHandler replaces the default policy of continuing after a failed item.
func WithItemErrorHandler(h ItemErrorHandler) RequestOption {
	return func(o *requestOptions) {
		o.onItemError = h
	}
}

func newRequestOptions(opts []RequestOption) *requestOptions {
	o := &requestOptions{onItemError: func(string, error) bool { return true }}
	for _, opt := range opts {
		opt(o)
	}
	if o.onItemError == nil {
		o.onItemError = func(string, error) bool { return true }
	}
	return o
}

func (s *Service) isRetryable(st model.Status) bool {
	if s.Retryable == nil {
		return st == model.StatusFail
	}
	return slices.Contains(s.Retryable, st)
}

func (s *Service) newRequestID() uuid.UUID {
	if s.NewRequestID != nil {
		return s.NewRequestID()
	}
	return uuid.New()
}

func (s *Service) recordRequest(operation, outcome string) {
	if s.Metrics != nil {
		s.Metrics.RecordRequest(operation, outcome)
	}
}

func (s *Service) recordReuse(kind string) {
	if s.Metrics != nil {
		s.Metrics.RecordReuse(kind)
	}
}

// sourceLocks serializes reuse-or-create for the same source inside this process.
type sourceLocks [64]sync.Mutex

func (l *sourceLocks) lock(source string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(source))
	m := &l[h.Sum32()%uint32(len(l))]
	m.Lock()
	return m.Unlock
}
