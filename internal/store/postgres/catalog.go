package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

func (d *DB) FetchTrack(ctx context.Context, id int64) (*model.Track, error) {
	query, args, err := d.qb.Select("id", "title", "artists", "duration_sec", "external_url", "local_file_id").
		From("music_track").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var (
		t           model.Track
		duration    sql.NullInt64
		externalURL sql.NullString
		localFileID sql.NullInt64
	)
	err = d.ext(ctx).QueryRowxContext(ctx, query, args...).
		Scan(&t.ID, &t.Title, pq.Array(&t.Artists), &duration, &externalURL, &localFileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("music track %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch music track %d: %w", id, err)
	}
	if duration.Valid {
		v := int(duration.Int64)
		t.DurationSec = &v
	}
	t.ExternalURL = externalURL.String
	if localFileID.Valid {
		t.LocalFileID = &localFileID.Int64
	}
	return &t, nil
}

func (d *DB) CreateLocalFile(ctx context.Context, f *model.LocalFile) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	query, args, err := d.qb.Insert("local_file").
		Columns("path", "title", "duration_sec", "process_id", "created_at").
		Values(f.Path, f.Title, f.DurationSec, f.ProcessID, f.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err = d.ext(ctx).QueryRowxContext(ctx, query, args...).Scan(&f.ID); err != nil {
		return fmt.Errorf("insert local file: %w", err)
	}
	return nil
}

func (d *DB) AttachLocalFileToMusicPack(ctx context.Context, musicPackID, localFileID int64) error {
	_, err := d.exec(ctx, d.ensureQuery("music_pack_local_file",
		[]string{"music_pack_id", "local_file_id"}, musicPackID, localFileID))
	if err != nil {
		return fmt.Errorf("attach local file %d to music pack %d: %w", localFileID, musicPackID, err)
	}
	return nil
}

func (d *DB) AttachLocalFileToMusicTrack(ctx context.Context, musicTrackID, localFileID int64) error {
	n, err := d.exec(ctx, d.qb.Update("music_track").
		Set("local_file_id", localFileID).
		Where(squirrel.Eq{"id": musicTrackID}))
	if err != nil {
		return fmt.Errorf("attach local file %d to music track %d: %w", localFileID, musicTrackID, err)
	}
	if n == 0 {
		zaplog.WarnC(ctx, "music track not in catalog, local file not attached", zap.Int64("music_track_id", musicTrackID), zap.Int64("local_file_id", localFileID))
	}
	return nil
}
