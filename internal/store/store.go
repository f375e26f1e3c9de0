// Package store declares the persistence contracts for download processes, their
// relations and the catalog collaborators the lifecycle handler writes to.
package store

import (
	"context"

	"github.com/gcottom/track-dl/internal/model"
	"github.com/google/uuid"
)

// Transactor runs fn in a fresh transaction that commits independently of any
// transaction already carried by ctx.
type Transactor interface {
	InNewTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type ProcessRepository interface {
	// CreateProcess inserts p and assigns its ID.
	CreateProcess(ctx context.Context, p *model.DownloadProcess) error
	// GetProcess returns model.ErrNotFound for unknown ids.
	GetProcess(ctx context.Context, id int64) (*model.DownloadProcess, error)
	// LockProcess reads the process and holds its row lock until the transaction
	// carried by ctx ends, so concurrent mutations of one process are serialized.
	LockProcess(ctx context.Context, id int64) (*model.DownloadProcess, error)
	UpdateProcess(ctx context.Context, p *model.DownloadProcess) error
	FindProcessesBySourceURL(ctx context.Context, sourceURL string) ([]*model.DownloadProcess, error)
	FindProcessesByIDs(ctx context.Context, ids []int64) ([]*model.DownloadProcess, error)
	// ListUserProcesses returns the user's processes, most recent first, each at most once.
	ListUserProcesses(ctx context.Context, userID int64, offset, limit int) ([]*model.DownloadProcess, int, error)
	// DeleteProcesses removes processes together with their relation rows.
	DeleteProcesses(ctx context.Context, ids []int64) (int64, error)
}

// RelationRepository holds the join rows. Every Ensure* call is idempotent and
// reports whether a row was created.
type RelationRepository interface {
	EnsureUserProcess(ctx context.Context, rel model.UserToProcess) (bool, error)
	DeleteUserProcess(ctx context.Context, userID, processID int64) (bool, error)

	EnsureProcessRequest(ctx context.Context, rel model.ProcessToRequest) (bool, error)
	RequestProcessIDs(ctx context.Context, requestID uuid.UUID) ([]int64, error)

	EnsureProcessMusicPack(ctx context.Context, rel model.ProcessToMusicPack) (bool, error)
	ProcessMusicPackIDs(ctx context.Context, processID int64) ([]int64, error)

	EnsureProcessMusicTrack(ctx context.Context, rel model.ProcessToMusicTrack) (bool, error)
	ProcessMusicTrackIDs(ctx context.Context, processID int64) ([]int64, error)
	// LatestTrackProcessID returns the process most recently linked to the track.
	LatestTrackProcessID(ctx context.Context, musicTrackID int64) (int64, bool, error)
	TrackProcessIDs(ctx context.Context, musicTrackIDs []int64) ([]int64, error)
}

type TrackCatalog interface {
	// FetchTrack returns model.ErrNotFound for unknown tracks.
	FetchTrack(ctx context.Context, id int64) (*model.Track, error)
}

type LocalFileStore interface {
	// CreateLocalFile inserts f and assigns its ID.
	CreateLocalFile(ctx context.Context, f *model.LocalFile) error
}

// MusicLibrary grafts finished local files onto the packs and tracks that asked for them.
type MusicLibrary interface {
	AttachLocalFileToMusicPack(ctx context.Context, musicPackID, localFileID int64) error
	AttachLocalFileToMusicTrack(ctx context.Context, musicTrackID, localFileID int64) error
}

type Store interface {
	Transactor
	ProcessRepository
	RelationRepository
	TrackCatalog
	LocalFileStore
	MusicLibrary
}
