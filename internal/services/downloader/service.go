package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Enqueue hands a job to the workers without blocking. It fails when the queue is
// full or the processor has stopped.
func (s *Service) Enqueue(ctx context.Context, job Job) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		zaplog.WarnC(ctx, "download queue stopped", zap.Int64("process_id", job.ProcessID))
		return errStopped
	}
	select {
	case s.DownloadQueue <- job:
		s.setQueueDepth()
		zaplog.InfoC(ctx, "download queued", zap.Int64("process_id", job.ProcessID), zap.String("url", job.URL))
		return nil
	default:
		zaplog.WarnC(ctx, "download queue full", zap.Int64("process_id", job.ProcessID))
		return errQueueFull
	}
}

// DownloadQueueProcessor runs queued jobs until ctx is done. On return no job is
// left queued or running: queued jobs are failed and running ones are awaited.
func (s *Service) DownloadQueueProcessor(ctx context.Context) error {
	defer s.shutdown(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case job := <-s.DownloadQueue:
			s.setQueueDepth()
			s.workers.Add(1)
			go func(job Job) {
				defer s.workers.Done()
				jobCtx := zaplog.CreateAndInject(ctx)
				_ = s.Transfer(jobCtx, job)
			}(job)
		}
	}
}

func (s *Service) shutdown(ctx context.Context) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	for {
		select {
		case job := <-s.DownloadQueue:
			s.setQueueDepth()
			if _, err := s.Lifecycle.Fail(ctx, job.ProcessID, errStopped); err != nil {
				zaplog.ErrorC(ctx, "failed to fail queued download", zap.Int64("process_id", job.ProcessID), zap.Error(err))
			}
		default:
			zaplog.InfoC(ctx, "waiting for running downloads")
			s.workers.Wait()
			return
		}
	}
}

// Transfer streams the job's media into its file and reports every step to the lifecycle handler.
func (s *Service) Transfer(ctx context.Context, job Job) error {
	s.DownloadLimiter.Acquire()
	defer s.DownloadLimiter.Release()

	err := s.transfer(ctx, job)
	if err != nil {
		zaplog.ErrorC(ctx, "download failed", zap.Int64("process_id", job.ProcessID), zap.String("url", job.URL), zap.Error(err))
		_ = os.Remove(partialPath(job.FilePath))
		// a cancelled transfer must still reach FAIL
		if _, failErr := s.Lifecycle.Fail(context.WithoutCancel(ctx), job.ProcessID, err); failErr != nil {
			zaplog.ErrorC(ctx, "failed to record download failure", zap.Int64("process_id", job.ProcessID), zap.Error(failErr))
		}
		return err
	}
	zaplog.InfoC(ctx, "download complete", zap.Int64("process_id", job.ProcessID), zap.String("path", job.FilePath))
	return nil
}

// transfer reads with ctx but reports to the lifecycle with lc, which outlives cancellation.
func (s *Service) transfer(ctx context.Context, job Job) error {
	lc := context.WithoutCancel(ctx)
	stream, err := job.Source.Open(ctx, job.URL)
	if err != nil {
		return err
	}
	defer stream.Body.Close()

	totalParts := 1
	if stream.Size > 0 {
		totalParts = model.DefaultTotalParts
	}
	if _, err = s.Lifecycle.Start(lc, job.ProcessID, totalParts); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(job.FilePath), 0755); err != nil {
		return fmt.Errorf("failed to create save dir: %w", err)
	}
	file, err := os.Create(partialPath(job.FilePath))
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	pw := &progressWriter{ctx: lc, lifecycle: s.Lifecycle, processID: job.ProcessID, size: stream.Size, totalParts: totalParts}
	_, err = io.Copy(io.MultiWriter(file, pw), stream.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err = os.Rename(partialPath(job.FilePath), job.FilePath); err != nil {
		return fmt.Errorf("failed to move file: %w", err)
	}
	if _, err = s.Lifecycle.CompleteSuccess(lc, job.ProcessID, nil); err != nil {
		return fmt.Errorf("failed to complete process: %w", err)
	}
	return nil
}

// NewFilePath returns a fresh artifact path under SaveDir.
func (s *Service) NewFilePath(ext string) string {
	name := uuid.NewString()
	if ext != "" {
		name += "." + ext
	}
	return internal.SanitizePath(filepath.Join(s.SaveDir, name))
}

func (s *Service) setQueueDepth() {
	if s.Metrics != nil {
		s.Metrics.SetQueueDepth(len(s.DownloadQueue))
	}
}

func partialPath(path string) string {
	return path + ".part"
}

// progressWriter reports whole parts only, and never the last one: completion reports it.
type progressWriter struct {
	ctx        context.Context
	lifecycle  Lifecycle
	processID  int64
	size       int64
	totalParts int
	written    int64
	reported   int
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.size <= 0 {
		return len(p), nil
	}
	parts := int(w.written * int64(w.totalParts) / w.size)
	if parts > w.reported && parts < w.totalParts {
		if _, err := w.lifecycle.Progress(w.ctx, w.processID, parts); err != nil {
			zaplog.WarnC(w.ctx, "failed to record progress", zap.Int64("process_id", w.processID), zap.Error(err))
		} else {
			w.reported = parts
		}
	}
	return len(p), nil
}
