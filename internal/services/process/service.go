package process

import (
	"context"
	"fmt"
	"strings"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal/model"
	"go.uber.org/zap"
)

func (s *Service) Initialize(ctx context.Context, userID int64, sourceURL, filePath string, title *string, durationSec *int) (*model.DownloadProcess, error) {
	sourceURL = strings.TrimSpace(sourceURL)
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user id must be positive", model.ErrInvalidArgument)
	}
	if sourceURL == "" {
		return nil, fmt.Errorf("%w: source url is required", model.ErrInvalidArgument)
	}
	if strings.TrimSpace(filePath) == "" {
		return nil, fmt.Errorf("%w: file path is required", model.ErrInvalidArgument)
	}
	if durationSec != nil && *durationSec < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", model.ErrInvalidArgument)
	}

	p := model.NewDownloadProcess(sourceURL, filePath, title, durationSec, s.now())
	err := s.Store.InNewTx(ctx, func(ctx context.Context) error {
		if err := s.Store.CreateProcess(ctx, p); err != nil {
			return err
		}
		_, err := s.Store.EnsureUserProcess(ctx, model.UserToProcess{UserID: userID, ProcessID: p.ID, IsOwner: true})
		return err
	})
	if err != nil {
		zaplog.ErrorC(ctx, "failed to initialize download process", zap.String("url", sourceURL), zap.Error(err))
		return nil, fmt.Errorf("failed to initialize download process: %w", err)
	}
	zaplog.InfoC(ctx, "download process initialized", zap.Int64("process_id", p.ID), zap.Int64("user_id", userID), zap.String("url", sourceURL))
	s.committed(ctx, p, "initialize")
	return p, nil
}

// InitializeFromTrackData starts a process for a known track using its external source and
// metadata. filePathFor names the artifact once the source is known.
func (s *Service) InitializeFromTrackData(ctx context.Context, userID, trackID int64, filePathFor func(sourceURL string) string) (*model.DownloadProcess, error) {
	track, err := s.Store.FetchTrack(ctx, trackID)
	if err != nil {
		zaplog.WarnC(ctx, "track lookup failed", zap.Int64("track_id", trackID), zap.Error(err))
		return nil, err
	}
	if strings.TrimSpace(track.ExternalURL) == "" {
		return nil, fmt.Errorf("%w: track %d has no external source", model.ErrSourceNotSupported, trackID)
	}
	var title *string
	if t := track.DisplayTitle(); t != "" {
		title = &t
	}
	return s.Initialize(ctx, userID, track.ExternalURL, filePathFor(track.ExternalURL), title, track.DurationSec)
}

func (s *Service) Start(ctx context.Context, id int64, totalParts int) (*model.DownloadProcess, error) {
	return s.mutate(ctx, id, "start", func(ctx context.Context, p *model.DownloadProcess) (bool, error) {
		return true, p.Start(totalParts, s.now())
	})
}

// Progress records downloaded parts; terminal or unchanged processes are left untouched.
func (s *Service) Progress(ctx context.Context, id int64, downloadedParts int) (*model.DownloadProcess, error) {
	return s.mutate(ctx, id, "progress", func(ctx context.Context, p *model.DownloadProcess) (bool, error) {
		return p.Progress(downloadedParts, s.now()), nil
	})
}

// CompleteSuccess finishes a process, creates its local file and grafts that file onto
// every music pack and music track linked to the process.
func (s *Service) CompleteSuccess(ctx context.Context, id int64, downloadedParts *int) (*model.DownloadProcess, error) {
	return s.mutate(ctx, id, "complete", func(ctx context.Context, p *model.DownloadProcess) (bool, error) {
		if err := p.Succeed(downloadedParts, s.now()); err != nil {
			return false, err
		}
		processID := p.ID
		file := &model.LocalFile{
			Path:        p.FilePath,
			Title:       p.TrackTitle,
			DurationSec: p.TrackDurationSec,
			ProcessID:   &processID,
			CreatedAt:   p.UpdatedAt,
		}
		if err := s.Store.CreateLocalFile(ctx, file); err != nil {
			return false, fmt.Errorf("failed to create local file: %w", err)
		}

		packIDs, err := s.Store.ProcessMusicPackIDs(ctx, p.ID)
		if err != nil {
			return false, err
		}
		for _, packID := range packIDs {
			if err = s.Store.AttachLocalFileToMusicPack(ctx, packID, file.ID); err != nil {
				return false, err
			}
		}
		trackIDs, err := s.Store.ProcessMusicTrackIDs(ctx, p.ID)
		if err != nil {
			return false, err
		}
		for _, trackID := range trackIDs {
			if err = s.Store.AttachLocalFileToMusicTrack(ctx, trackID, file.ID); err != nil {
				return false, err
			}
		}
		zaplog.InfoC(ctx, "local file created", zap.Int64("process_id", p.ID), zap.Int64("local_file_id", file.ID),
			zap.Int("music_packs", len(packIDs)), zap.Int("music_tracks", len(trackIDs)))
		return true, nil
	})
}

func (s *Service) Fail(ctx context.Context, id int64, cause error) (*model.DownloadProcess, error) {
	desc := unknownError
	if cause != nil && cause.Error() != "" {
		desc = cause.Error()
	}
	return s.mutate(ctx, id, "fail", func(ctx context.Context, p *model.DownloadProcess) (bool, error) {
		return true, p.Fail(desc, s.now())
	})
}

// Retry puts a failed process back in progress with cleared progress and error.
func (s *Service) Retry(ctx context.Context, id int64, params model.RetryParams) (*model.DownloadProcess, error) {
	return s.mutate(ctx, id, "retry", func(ctx context.Context, p *model.DownloadProcess) (bool, error) {
		return true, p.Retry(params, s.now())
	})
}

func (s *Service) mutate(ctx context.Context, id int64, op string, fn func(ctx context.Context, p *model.DownloadProcess) (bool, error)) (*model.DownloadProcess, error) {
	var (
		out     *model.DownloadProcess
		changed bool
	)
	err := s.Store.InNewTx(ctx, func(ctx context.Context) error {
		p, err := s.Store.LockProcess(ctx, id)
		if err != nil {
			return err
		}
		if changed, err = fn(ctx, p); err != nil {
			return err
		}
		if changed {
			if err = s.Store.UpdateProcess(ctx, p); err != nil {
				return err
			}
		}
		out = p
		return nil
	})
	if err != nil {
		zaplog.ErrorC(ctx, "download process update failed", zap.String("op", op), zap.Int64("process_id", id), zap.Error(err))
		return nil, fmt.Errorf("%s download process %d: %w", op, id, err)
	}
	if changed {
		s.committed(ctx, out, op)
	}
	return out, nil
}

func (s *Service) committed(ctx context.Context, p *model.DownloadProcess, op string) {
	if s.Metrics != nil && op != "progress" {
		s.Metrics.RecordTransition(p.Status().String())
	}
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.Publish(ctx, model.NewProcessEvent(p)); err != nil {
		zaplog.WarnC(ctx, "failed to publish process event", zap.Int64("process_id", p.ID), zap.Error(err))
	}
}
