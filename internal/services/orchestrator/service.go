package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Service) RequestSingleTrackDownloadByURL(ctx context.Context, userID int64, url string, opts ...RequestOption) (model.Results, error) {
	if strings.TrimSpace(url) == "" {
		return model.Results{}, fmt.Errorf("%w: url is required", model.ErrInvalidArgument)
	}
	res, err := s.RequestTrackListDownloadByURLs(ctx, userID, []string{url}, opts...)
	if err != nil {
		return res, err
	}
	if len(res.Failures) > 0 {
		return res, res.Failures[0].Err
	}
	return res, nil
}

// RequestTrackListDownloadByURLs requests every url under one fresh request id. Each
// url records its relations in its own transaction; failed items are reported in
// Failures and never undo the items before them.
func (s *Service) RequestTrackListDownloadByURLs(ctx context.Context, userID int64, urls []string, opts ...RequestOption) (model.Results, error) {
	if userID <= 0 {
		return model.Results{}, fmt.Errorf("%w: user id must be positive", model.ErrInvalidArgument)
	}
	urls = internal.NormalizeURLs(urls)
	if len(urls) == 0 {
		return model.Results{}, fmt.Errorf("%w: no urls given", model.ErrInvalidArgument)
	}
	o := newRequestOptions(opts)
	requestID := s.newRequestID()
	zaplog.InfoC(ctx, "download request received", zap.Int64("user_id", userID), zap.String("request_id", requestID.String()), zap.Int("items", len(urls)))

	processes := make([]*model.DownloadProcess, 0, len(urls))
	failures := make([]model.ItemFailure, 0)
	for _, url := range urls {
		items, err := s.runItem(ctx, operationByURLs, url, func(ctx context.Context) ([]*model.DownloadProcess, string, error) {
			target := model.Target{URL: url}
			return s.requestSource(ctx, userID, requestID, url, target, o.musicPackID)
		})
		if err != nil {
			failures = append(failures, model.ItemFailure{Item: url, Error: err.Error(), Err: err})
			if !o.onItemError(url, err) {
				zaplog.WarnC(ctx, "download request aborted", zap.String("request_id", requestID.String()), zap.String("item", url))
				break
			}
			continue
		}
		processes = append(processes, items...)
	}
	return withFailures(model.NewResults(&requestID, processes), failures), nil
}

// RequestTrackListDownloadByTrackIDs requests known tracks, keyed by track id. A blank
// url falls back to the track's external source. Items run in ascending track id order.
func (s *Service) RequestTrackListDownloadByTrackIDs(ctx context.Context, userID int64, tracks map[int64]string, opts ...RequestOption) (model.Results, error) {
	if userID <= 0 {
		return model.Results{}, fmt.Errorf("%w: user id must be positive", model.ErrInvalidArgument)
	}
	if len(tracks) == 0 {
		return model.Results{}, fmt.Errorf("%w: no tracks given", model.ErrInvalidArgument)
	}
	o := newRequestOptions(opts)
	requestID := s.newRequestID()
	trackIDs := make([]int64, 0, len(tracks))
	for id := range tracks {
		trackIDs = append(trackIDs, id)
	}
	slices.Sort(trackIDs)
	zaplog.InfoC(ctx, "track download request received", zap.Int64("user_id", userID), zap.String("request_id", requestID.String()), zap.Int("items", len(trackIDs)))

	processes := make([]*model.DownloadProcess, 0, len(trackIDs))
	failures := make([]model.ItemFailure, 0)
	for _, trackID := range trackIDs {
		item := strconv.FormatInt(trackID, 10)
		items, err := s.runItem(ctx, operationByTrackIDs, item, func(ctx context.Context) ([]*model.DownloadProcess, string, error) {
			track, err := s.Store.FetchTrack(ctx, trackID)
			if err != nil {
				return nil, "", err
			}
			return s.requestTrack(ctx, userID, requestID, track, tracks[trackID], o.musicPackID)
		})
		if err != nil {
			failures = append(failures, model.ItemFailure{Item: item, Error: err.Error(), Err: err})
			if !o.onItemError(item, err) {
				break
			}
			continue
		}
		processes = append(processes, items...)
	}
	return withFailures(model.NewResults(&requestID, processes), failures), nil
}

// RequestSingleTrackDownload dedups by track id first, since a track may already
// have a job under a different url. A cataloged track is resolved from the catalog so
// dedup and the job use the same source; an uncataloged one is taken as given.
func (s *Service) RequestSingleTrackDownload(ctx context.Context, userID int64, track model.Track, opts ...RequestOption) (model.Results, error) {
	if userID <= 0 {
		return model.Results{}, fmt.Errorf("%w: user id must be positive", model.ErrInvalidArgument)
	}
	if track.ID <= 0 {
		return model.Results{}, fmt.Errorf("%w: track id must be positive", model.ErrInvalidArgument)
	}
	o := newRequestOptions(opts)
	item := strconv.FormatInt(track.ID, 10)
	processes, err := s.runItem(ctx, operationByTrack, item, func(ctx context.Context) ([]*model.DownloadProcess, string, error) {
		known, err := s.Store.FetchTrack(ctx, track.ID)
		switch {
		case err == nil:
			return s.requestTrack(ctx, userID, uuid.Nil, known, "", o.musicPackID)
		case errors.Is(err, model.ErrNotFound):
			return s.requestUncatalogedTrack(ctx, userID, &track, o.musicPackID)
		default:
			return nil, "", err
		}
	})
	if err != nil {
		return model.Results{}, err
	}
	return model.NewResults(nil, processes), nil
}

// RequestRetryDownload attaches the user as a viewer and asks the backend of the
// stored source to run the job again.
func (s *Service) RequestRetryDownload(ctx context.Context, userID, processID int64) (model.ProcessInfo, error) {
	if userID <= 0 {
		return model.ProcessInfo{}, fmt.Errorf("%w: user id must be positive", model.ErrInvalidArgument)
	}
	p, err := s.Store.GetProcess(ctx, processID)
	if err != nil {
		return model.ProcessInfo{}, err
	}
	backend, err := s.Registry.Select(p.SourceURL)
	if err != nil {
		return model.ProcessInfo{}, err
	}
	err = s.Store.InNewTx(ctx, func(ctx context.Context) error {
		_, err := s.Store.EnsureUserProcess(ctx, model.UserToProcess{UserID: userID, ProcessID: p.ID})
		return err
	})
	if err != nil {
		return model.ProcessInfo{}, fmt.Errorf("failed to attach user to process %d: %w", p.ID, err)
	}
	retried, err := backend.RequestRetryDownload(ctx, p.ID, p.SourceURL)
	if err != nil {
		s.recordRequest(operationRetry, outcomeFailed)
		zaplog.WarnC(ctx, "retry request failed", zap.Int64("process_id", p.ID), zap.String("backend", backend.Name()), zap.Error(err))
		return model.ProcessInfo{}, err
	}
	s.recordRequest(operationRetry, outcomeRetried)
	zaplog.InfoC(ctx, "retry requested", zap.Int64("process_id", p.ID), zap.Int64("user_id", userID), zap.String("backend", backend.Name()))
	return model.NewProcessInfo(retried), nil
}

// AssociateDownloadedProcessInfoWithRequest links already known processes to a request.
func (s *Service) AssociateDownloadedProcessInfoWithRequest(ctx context.Context, processIDs []int64, requestID uuid.UUID) (model.Results, error) {
	if requestID == uuid.Nil {
		return model.Results{}, fmt.Errorf("%w: request id is required", model.ErrInvalidArgument)
	}
	ids := slices.Clone(processIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	found, err := s.Store.FindProcessesByIDs(ctx, ids)
	if err != nil {
		return model.Results{}, err
	}
	if len(found) != len(ids) {
		return model.Results{}, fmt.Errorf("download processes %v: %w", missingIDs(ids, found), model.ErrNotFound)
	}
	err = s.Store.InNewTx(ctx, func(ctx context.Context) error {
		for _, p := range found {
			if _, err := s.Store.EnsureProcessRequest(ctx, model.ProcessToRequest{ProcessID: p.ID, RequestID: requestID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		zaplog.ErrorC(ctx, "failed to associate processes with request", zap.String("request_id", requestID.String()), zap.Error(err))
		return model.Results{}, err
	}
	return model.NewResults(&requestID, found), nil
}

func (s *Service) GetDownloadProcessInfo(ctx context.Context, id int64) (model.ProcessInfo, error) {
	p, err := s.Store.GetProcess(ctx, id)
	if err != nil {
		return model.ProcessInfo{}, err
	}
	return model.NewProcessInfo(p), nil
}

func (s *Service) GetDownloadProcessInfoListByRequest(ctx context.Context, requestID uuid.UUID) (model.Results, error) {
	ids, err := s.Store.RequestProcessIDs(ctx, requestID)
	if err != nil {
		return model.Results{}, err
	}
	processes, err := s.Store.FindProcessesByIDs(ctx, ids)
	if err != nil {
		return model.Results{}, err
	}
	return model.NewResults(&requestID, processes), nil
}

// GetDownloadProcessInfoListByUser pages the user's processes, most recent first.
// Pages start at 0.
func (s *Service) GetDownloadProcessInfoListByUser(ctx context.Context, userID int64, page, size int) (model.Page, error) {
	if page < 0 {
		return model.Page{}, fmt.Errorf("%w: page must not be negative", model.ErrInvalidArgument)
	}
	if size < 1 || size > MaxPageSize {
		return model.Page{}, fmt.Errorf("%w: size must be between 1 and %d", model.ErrInvalidArgument, MaxPageSize)
	}
	processes, total, err := s.Store.ListUserProcesses(ctx, userID, page*size, size)
	if err != nil {
		return model.Page{}, err
	}
	items := make([]model.ProcessInfo, 0, len(processes))
	for _, p := range processes {
		items = append(items, model.NewProcessInfo(p))
	}
	return model.Page{Items: items, Page: page, Size: size, Total: total}, nil
}

// RemoveUserDownloadsItem drops only the user's own view of a process.
func (s *Service) RemoveUserDownloadsItem(ctx context.Context, userID, processID int64) error {
	removed, err := s.Store.DeleteUserProcess(ctx, userID, processID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("user %d has no download process %d: %w", userID, processID, model.ErrNotFound)
	}
	zaplog.InfoC(ctx, "user download item removed", zap.Int64("user_id", userID), zap.Int64("process_id", processID))
	return nil
}

// RemoveDataAssociatedWithTracks deletes every process linked to the tracks. It is
// best effort: a failed deletion is logged and the rest continue.
func (s *Service) RemoveDataAssociatedWithTracks(ctx context.Context, trackIDs []int64) (int64, error) {
	if len(trackIDs) == 0 {
		return 0, nil
	}
	ids, err := s.Store.TrackProcessIDs(ctx, trackIDs)
	if err != nil {
		zaplog.ErrorC(ctx, "failed to find processes of tracks", zap.Int64s("track_ids", trackIDs), zap.Error(err))
		return 0, err
	}
	var deleted int64
	for _, id := range ids {
		n, err := s.Store.DeleteProcesses(ctx, []int64{id})
		if err != nil {
			zaplog.WarnC(ctx, "failed to delete download process", zap.Int64("process_id", id), zap.Error(err))
			continue
		}
		deleted += n
	}
	zaplog.InfoC(ctx, "track download data removed", zap.Int64s("track_ids", trackIDs), zap.Int64("deleted", deleted))
	return deleted, nil
}

func (s *Service) runItem(ctx context.Context, operation, item string, fn func(ctx context.Context) ([]*model.DownloadProcess, string, error)) ([]*model.DownloadProcess, error) {
	out, outcome, err := fn(ctx)
	if err != nil {
		s.recordRequest(operation, outcomeFailed)
		zaplog.WarnC(ctx, "download request item failed", zap.String("operation", operation), zap.String("item", item), zap.Error(err))
		return nil, err
	}
	s.recordRequest(operation, outcome)
	return out, nil
}

// requestTrack downloads a known track. Without an explicit url the backend resolves
// source and metadata from the catalog.
func (s *Service) requestTrack(ctx context.Context, userID int64, requestID uuid.UUID, track *model.Track, url string, musicPackID *int64) ([]*model.DownloadProcess, string, error) {
	trackID := track.ID
	target := model.Target{TrackID: &trackID}
	if url = strings.TrimSpace(url); url != "" {
		target.URL = url
		target.DurationSec = track.DurationSec
		if title := track.DisplayTitle(); title != "" {
			target.Title = &title
		}
	} else {
		url = strings.TrimSpace(track.ExternalURL)
	}
	if url == "" {
		return nil, "", fmt.Errorf("%w: track %d has no external source", model.ErrSourceNotSupported, track.ID)
	}
	return s.requestSource(ctx, userID, requestID, url, target, musicPackID)
}

// requestUncatalogedTrack hands the caller's source and metadata to the backend
// explicitly, since the backend cannot look the track up.
func (s *Service) requestUncatalogedTrack(ctx context.Context, userID int64, track *model.Track, musicPackID *int64) ([]*model.DownloadProcess, string, error) {
	url := strings.TrimSpace(track.ExternalURL)
	if url == "" {
		return nil, "", fmt.Errorf("%w: track %d has no external source", model.ErrSourceNotSupported, track.ID)
	}
	trackID := track.ID
	target := model.Target{URL: url, TrackID: &trackID, DurationSec: track.DurationSec}
	if title := track.DisplayTitle(); title != "" {
		target.Title = &title
	}
	return s.requestSource(ctx, userID, uuid.Nil, url, target, musicPackID)
}

// requestSource reuses the jobs already known for the source or asks the selected
// backend for a new one, then records the relations of the request.
func (s *Service) requestSource(ctx context.Context, userID int64, requestID uuid.UUID, url string, target model.Target, musicPackID *int64) ([]*model.DownloadProcess, string, error) {
	unlock := s.locks.lock(url)
	defer unlock()

	processes, outcome, err := s.reuseExisting(ctx, userID, url, target.TrackID)
	if err != nil {
		return nil, "", err
	}
	if len(processes) == 0 {
		backend, err := s.Registry.Select(url)
		if err != nil {
			return nil, "", err
		}
		p, err := backend.RequestDownload(ctx, userID, requestID, target)
		if err != nil {
			return nil, "", fmt.Errorf("%s backend: %w", backend.Name(), err)
		}
		zaplog.InfoC(ctx, "download requested", zap.Int64("process_id", p.ID), zap.String("backend", backend.Name()), zap.String("url", url))
		processes, outcome = []*model.DownloadProcess{p}, outcomeCreated
	}

	if err = s.linkProcesses(ctx, processes, requestID, target.TrackID, musicPackID); err != nil {
		return nil, "", err
	}
	return processes, outcome, nil
}

// linkProcesses records the request relations in one short transaction. Backends open
// their own transactions, so none is held while a backend is called and an item never
// needs more than one pooled connection at a time.
func (s *Service) linkProcesses(ctx context.Context, processes []*model.DownloadProcess, requestID uuid.UUID, trackID, musicPackID *int64) error {
	return s.Store.InNewTx(ctx, func(ctx context.Context) error {
		for _, p := range processes {
			if requestID != uuid.Nil {
				if _, err := s.Store.EnsureProcessRequest(ctx, model.ProcessToRequest{ProcessID: p.ID, RequestID: requestID}); err != nil {
					return err
				}
			}
			if trackID != nil {
				if _, err := s.Store.EnsureProcessMusicTrack(ctx, model.ProcessToMusicTrack{ProcessID: p.ID, MusicTrackID: *trackID}); err != nil {
					return err
				}
			}
			if musicPackID != nil {
				if _, err := s.Store.EnsureProcessMusicPack(ctx, model.ProcessToMusicPack{ProcessID: p.ID, MusicPackID: *musicPackID}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// reuseExisting looks up the most recent job of the track, or every job of the url
// when the track has none.
func (s *Service) reuseExisting(ctx context.Context, userID int64, url string, trackID *int64) ([]*model.DownloadProcess, string, error) {
	var existing []*model.DownloadProcess
	if trackID != nil {
		id, ok, err := s.Store.LatestTrackProcessID(ctx, *trackID)
		if err != nil {
			return nil, "", err
		}
		if ok {
			p, err := s.Store.GetProcess(ctx, id)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return nil, "", err
			}
			if p != nil {
				existing = append(existing, p)
			}
		}
	}
	if len(existing) == 0 {
		var err error
		if existing, err = s.Store.FindProcessesBySourceURL(ctx, url); err != nil {
			return nil, "", err
		}
	}

	out := make([]*model.DownloadProcess, 0, len(existing))
	outcome := outcomeAttached
	for _, p := range existing {
		reused, kind, err := s.reuse(ctx, userID, p)
		if err != nil {
			return nil, "", err
		}
		if kind == outcomeRetried {
			outcome = outcomeRetried
		}
		out = append(out, reused)
	}
	return out, outcome, nil
}

func (s *Service) reuse(ctx context.Context, userID int64, p *model.DownloadProcess) (*model.DownloadProcess, string, error) {
	created, err := s.Store.EnsureUserProcess(ctx, model.UserToProcess{UserID: userID, ProcessID: p.ID})
	if err != nil {
		return nil, "", err
	}
	if !s.isRetryable(p.Status()) {
		s.recordReuse(outcomeAttached)
		zaplog.InfoC(ctx, "existing download process reused", zap.Int64("process_id", p.ID), zap.Int64("user_id", userID), zap.Bool("viewer_added", created))
		return p, outcomeAttached, nil
	}
	backend, err := s.Registry.Select(p.SourceURL)
	if err != nil {
		return nil, "", err
	}
	retried, err := backend.RequestRetryDownload(ctx, p.ID, p.SourceURL)
	if err != nil {
		return nil, "", fmt.Errorf("%s backend retry: %w", backend.Name(), err)
	}
	s.recordReuse(outcomeRetried)
	zaplog.InfoC(ctx, "existing download process retried", zap.Int64("process_id", p.ID), zap.Int64("user_id", userID), zap.String("backend", backend.Name()))
	return retried, outcomeRetried, nil
}

func withFailures(res model.Results, failures []model.ItemFailure) model.Results {
	if len(failures) > 0 {
		res.Failures = failures
	}
	return res
}

func missingIDs(ids []int64, found []*model.DownloadProcess) []int64 {
	missing := make([]int64, 0)
	for _, id := range ids {
		if !slices.ContainsFunc(found, func(p *model.DownloadProcess) bool { return p.ID == id }) {
			missing = append(missing, id)
		}
	}
	return missing
}
