package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/gcottom/track-dl/internal/model"
)

const processTable = "download_process"

var processColumns = []string{
	"id", "status", "source_url", "file_path", "track_title", "track_duration_sec",
	"total_parts", "downloaded_parts", "error_description", "added_at", "updated_at",
}

type processRow struct {
	ID               int64     `db:"id"`
	Status           string    `db:"status"`
	SourceURL        string    `db:"source_url"`
	FilePath         string    `db:"file_path"`
	TrackTitle       *string   `db:"track_title"`
	TrackDurationSec *int      `db:"track_duration_sec"`
	TotalParts       int       `db:"total_parts"`
	DownloadedParts  int       `db:"downloaded_parts"`
	ErrorDescription *string   `db:"error_description"`
	AddedAt          time.Time `db:"added_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r processRow) toModel() (*model.DownloadProcess, error) {
	state, err := model.RestoreState(model.Status(r.Status), r.ErrorDescription)
	if err != nil {
		return nil, fmt.Errorf("download process %d: %w", r.ID, err)
	}
	return &model.DownloadProcess{
		ID:               r.ID,
		SourceURL:        r.SourceURL,
		FilePath:         r.FilePath,
		TrackTitle:       r.TrackTitle,
		TrackDurationSec: r.TrackDurationSec,
		TotalParts:       r.TotalParts,
		DownloadedParts:  r.DownloadedParts,
		State:            state,
		AddedAt:          r.AddedAt,
		UpdatedAt:        r.UpdatedAt,
	}, nil
}

func rowsToModels(rows []processRow) ([]*model.DownloadProcess, error) {
	out := make([]*model.DownloadProcess, 0, len(rows))
	for _, r := range rows {
		p, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func errorColumn(p *model.DownloadProcess) *string {
	if desc, ok := p.State.ErrorDescription(); ok {
		return &desc
	}
	return nil
}

func (d *DB) insertProcessQuery(p *model.DownloadProcess) squirrel.InsertBuilder {
	return d.qb.Insert(processTable).
		Columns("status", "source_url", "file_path", "track_title", "track_duration_sec",
			"total_parts", "downloaded_parts", "error_description", "added_at", "updated_at").
		Values(p.Status().String(), p.SourceURL, p.FilePath, p.TrackTitle, p.TrackDurationSec,
			p.TotalParts, p.DownloadedParts, errorColumn(p), p.AddedAt, p.UpdatedAt).
		Suffix("RETURNING id")
}

func (d *DB) updateProcessQuery(p *model.DownloadProcess) squirrel.UpdateBuilder {
	return d.qb.Update(processTable).
		SetMap(map[string]any{
			"status":             p.Status().String(),
			"file_path":          p.FilePath,
			"track_title":        p.TrackTitle,
			"track_duration_sec": p.TrackDurationSec,
			"total_parts":        p.TotalParts,
			"downloaded_parts":   p.DownloadedParts,
			"error_description":  errorColumn(p),
			"updated_at":         p.UpdatedAt,
		}).
		Where(squirrel.Eq{"id": p.ID})
}

func (d *DB) userProcessesQuery(userID int64, offset, limit int) squirrel.SelectBuilder {
	cols := make([]string, len(processColumns))
	for i, c := range processColumns {
		cols[i] = "p." + c
	}
	return d.qb.Select(cols...).
		Distinct().
		From(processTable + " p").
		Join("user_to_process up ON up.process_id = p.id").
		Where(squirrel.Eq{"up.user_id": userID}).
		OrderBy("p.added_at DESC", "p.id DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset))
}

func (d *DB) CreateProcess(ctx context.Context, p *model.DownloadProcess) error {
	query, args, err := d.insertProcessQuery(p).ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if err = d.ext(ctx).QueryRowxContext(ctx, query, args...).Scan(&p.ID); err != nil {
		return fmt.Errorf("insert download process: %w", err)
	}
	return nil
}

func (d *DB) GetProcess(ctx context.Context, id int64) (*model.DownloadProcess, error) {
	var row processRow
	err := d.get(ctx, &row, d.qb.Select(processColumns...).From(processTable).Where(squirrel.Eq{"id": id}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download process %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get download process %d: %w", id, err)
	}
	return row.toModel()
}

func (d *DB) lockProcessQuery(id int64) squirrel.SelectBuilder {
	return d.qb.Select(processColumns...).From(processTable).Where(squirrel.Eq{"id": id}).Suffix("FOR UPDATE")
}

// LockProcess takes the row lock with SELECT ... FOR UPDATE. Outside a transaction
// the lock is released as soon as the statement ends.
func (d *DB) LockProcess(ctx context.Context, id int64) (*model.DownloadProcess, error) {
	var row processRow
	err := d.get(ctx, &row, d.lockProcessQuery(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("download process %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("lock download process %d: %w", id, err)
	}
	return row.toModel()
}

func (d *DB) UpdateProcess(ctx context.Context, p *model.DownloadProcess) error {
	n, err := d.exec(ctx, d.updateProcessQuery(p))
	if err != nil {
		return fmt.Errorf("update download process %d: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("download process %d: %w", p.ID, model.ErrNotFound)
	}
	return nil
}

func (d *DB) FindProcessesBySourceURL(ctx context.Context, sourceURL string) ([]*model.DownloadProcess, error) {
	var rows []processRow
	q := d.qb.Select(processColumns...).From(processTable).Where(squirrel.Eq{"source_url": sourceURL}).OrderBy("id ASC")
	if err := d.selectAll(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("find download processes by source url: %w", err)
	}
	return rowsToModels(rows)
}

func (d *DB) FindProcessesByIDs(ctx context.Context, ids []int64) ([]*model.DownloadProcess, error) {
	if len(ids) == 0 {
		return []*model.DownloadProcess{}, nil
	}
	var rows []processRow
	q := d.qb.Select(processColumns...).From(processTable).Where(squirrel.Eq{"id": ids}).OrderBy("id ASC")
	if err := d.selectAll(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("find download processes by ids: %w", err)
	}
	return rowsToModels(rows)
}

func (d *DB) ListUserProcesses(ctx context.Context, userID int64, offset, limit int) ([]*model.DownloadProcess, int, error) {
	var total int
	countQ := d.qb.Select("COUNT(DISTINCT process_id)").From("user_to_process").Where(squirrel.Eq{"user_id": userID})
	if err := d.get(ctx, &total, countQ); err != nil {
		return nil, 0, fmt.Errorf("count user download processes: %w", err)
	}
	var rows []processRow
	if err := d.selectAll(ctx, &rows, d.userProcessesQuery(userID, offset, limit)); err != nil {
		return nil, 0, fmt.Errorf("list user download processes: %w", err)
	}
	out, err := rowsToModels(rows)
	return out, total, err
}

func (d *DB) DeleteProcesses(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := d.exec(ctx, d.qb.Delete(processTable).Where(squirrel.Eq{"id": ids}))
	if err != nil {
		return 0, fmt.Errorf("delete download processes: %w", err)
	}
	return n, nil
}
