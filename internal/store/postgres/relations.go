package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/google/uuid"
)

const onConflictDoNothing = "ON CONFLICT DO NOTHING"

func (d *DB) ensureQuery(table string, columns []string, values ...any) squirrel.InsertBuilder {
	return d.qb.Insert(table).Columns(columns...).Values(values...).Suffix(onConflictDoNothing)
}

func (d *DB) ensure(ctx context.Context, q squirrel.InsertBuilder) (bool, error) {
	n, err := d.exec(ctx, q)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *DB) EnsureUserProcess(ctx context.Context, rel model.UserToProcess) (bool, error) {
	created, err := d.ensure(ctx, d.ensureQuery("user_to_process",
		[]string{"user_id", "process_id", "is_owner"}, rel.UserID, rel.ProcessID, rel.IsOwner))
	if err != nil {
		return false, fmt.Errorf("ensure user %d on process %d: %w", rel.UserID, rel.ProcessID, err)
	}
	return created, nil
}

func (d *DB) DeleteUserProcess(ctx context.Context, userID, processID int64) (bool, error) {
	n, err := d.exec(ctx, d.qb.Delete("user_to_process").
		Where(squirrel.Eq{"user_id": userID, "process_id": processID}))
	if err != nil {
		return false, fmt.Errorf("delete user %d from process %d: %w", userID, processID, err)
	}
	return n > 0, nil
}

func (d *DB) EnsureProcessRequest(ctx context.Context, rel model.ProcessToRequest) (bool, error) {
	created, err := d.ensure(ctx, d.ensureQuery("process_to_request",
		[]string{"process_id", "request_id"}, rel.ProcessID, rel.RequestID))
	if err != nil {
		return false, fmt.Errorf("link process %d to request %s: %w", rel.ProcessID, rel.RequestID, err)
	}
	return created, nil
}

func (d *DB) RequestProcessIDs(ctx context.Context, requestID uuid.UUID) ([]int64, error) {
	ids := make([]int64, 0)
	q := d.qb.Select("process_id").From("process_to_request").
		Where(squirrel.Eq{"request_id": requestID}).OrderBy("process_id ASC")
	if err := d.selectAll(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("list processes of request %s: %w", requestID, err)
	}
	return ids, nil
}

func (d *DB) EnsureProcessMusicPack(ctx context.Context, rel model.ProcessToMusicPack) (bool, error) {
	created, err := d.ensure(ctx, d.ensureQuery("process_to_music_pack",
		[]string{"process_id", "music_pack_id"}, rel.ProcessID, rel.MusicPackID))
	if err != nil {
		return false, fmt.Errorf("link process %d to music pack %d: %w", rel.ProcessID, rel.MusicPackID, err)
	}
	return created, nil
}

func (d *DB) ProcessMusicPackIDs(ctx context.Context, processID int64) ([]int64, error) {
	ids := make([]int64, 0)
	q := d.qb.Select("music_pack_id").From("process_to_music_pack").
		Where(squirrel.Eq{"process_id": processID}).OrderBy("id ASC")
	if err := d.selectAll(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("list music packs of process %d: %w", processID, err)
	}
	return ids, nil
}

func (d *DB) EnsureProcessMusicTrack(ctx context.Context, rel model.ProcessToMusicTrack) (bool, error) {
	created, err := d.ensure(ctx, d.ensureQuery("process_to_music_track",
		[]string{"process_id", "music_track_id"}, rel.ProcessID, rel.MusicTrackID))
	if err != nil {
		return false, fmt.Errorf("link process %d to music track %d: %w", rel.ProcessID, rel.MusicTrackID, err)
	}
	return created, nil
}

func (d *DB) ProcessMusicTrackIDs(ctx context.Context, processID int64) ([]int64, error) {
	ids := make([]int64, 0)
	q := d.qb.Select("music_track_id").From("process_to_music_track").
		Where(squirrel.Eq{"process_id": processID}).OrderBy("id ASC")
	if err := d.selectAll(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("list music tracks of process %d: %w", processID, err)
	}
	return ids, nil
}

func (d *DB) latestTrackProcessQuery(musicTrackID int64) squirrel.SelectBuilder {
	return d.qb.Select("process_id").From("process_to_music_track").
		Where(squirrel.Eq{"music_track_id": musicTrackID}).
		OrderBy("id DESC").
		Limit(1)
}

func (d *DB) LatestTrackProcessID(ctx context.Context, musicTrackID int64) (int64, bool, error) {
	var id int64
	err := d.get(ctx, &id, d.latestTrackProcessQuery(musicTrackID))
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest process of music track %d: %w", musicTrackID, err)
	}
	return id, true, nil
}

func (d *DB) TrackProcessIDs(ctx context.Context, musicTrackIDs []int64) ([]int64, error) {
	ids := make([]int64, 0)
	if len(musicTrackIDs) == 0 {
		return ids, nil
	}
	q := d.qb.Select("process_id").Distinct().From("process_to_music_track").
		Where(squirrel.Eq{"music_track_id": musicTrackIDs}).OrderBy("process_id ASC")
	if err := d.selectAll(ctx, &ids, q); err != nil {
		return nil, fmt.Errorf("list processes of music tracks: %w", err)
	}
	return ids, nil
}
