// Package memory is an in-process store used for development and tests.
// It is not transactional: every call is an atomic single-aggregate update.
// InNewTx scopes the row locks taken by LockProcess but never rolls back.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/gcottom/track-dl/internal/model"
	"github.com/gcottom/track-dl/internal/store"
	"github.com/google/uuid"
)

var _ store.Store = (*Store)(nil)

type userProcessKey struct {
	userID    int64
	processID int64
}

type linkRow[K comparable] struct {
	seq       int64
	processID int64
	target    K
}

type Store struct {
	mu sync.RWMutex

	nextProcessID   int64
	nextLocalFileID int64
	seq             int64

	processes    map[int64]*model.DownloadProcess
	userProcess  map[userProcessKey]model.UserToProcess
	requestLinks []linkRow[uuid.UUID]
	packLinks    []linkRow[int64]
	trackLinks   []linkRow[int64]

	tracks         map[int64]*model.Track
	localFiles     map[int64]*model.LocalFile
	packLocalFiles map[int64][]int64

	rowMu    sync.Mutex
	rowLocks map[int64]*sync.Mutex
}

type txKey struct{}

// txScope holds the row locks taken inside one InNewTx call.
type txScope struct {
	held map[int64]*sync.Mutex
}

func (t *txScope) release() {
	for _, m := range t.held {
		m.Unlock()
	}
}

func New() *Store {
	return &Store{
		processes:      make(map[int64]*model.DownloadProcess),
		userProcess:    make(map[userProcessKey]model.UserToProcess),
		tracks:         make(map[int64]*model.Track),
		localFiles:     make(map[int64]*model.LocalFile),
		packLocalFiles: make(map[int64][]int64),
		rowLocks:       make(map[int64]*sync.Mutex),
	}
}

func (s *Store) InNewTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scope := &txScope{held: make(map[int64]*sync.Mutex)}
	defer scope.release()
	return fn(context.WithValue(ctx, txKey{}, scope))
}

func (s *Store) rowLock(id int64) *sync.Mutex {
	s.rowMu.Lock()
	defer s.rowMu.Unlock()
	m, ok := s.rowLocks[id]
	if !ok {
		m = &sync.Mutex{}
		s.rowLocks[id] = m
	}
	return m
}

// LockProcess holds the process row lock until the surrounding InNewTx returns.
// Outside InNewTx it behaves like GetProcess.
func (s *Store) LockProcess(ctx context.Context, id int64) (*model.DownloadProcess, error) {
	if scope, ok := ctx.Value(txKey{}).(*txScope); ok {
		if _, held := scope.held[id]; !held {
			m := s.rowLock(id)
			m.Lock()
			scope.held[id] = m
		}
	}
	return s.GetProcess(ctx, id)
}

func (s *Store) CreateProcess(ctx context.Context, p *model.DownloadProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextProcessID++
	p.ID = s.nextProcessID
	s.processes[p.ID] = p.Clone()
	return nil
}

func (s *Store) GetProcess(ctx context.Context, id int64) (*model.DownloadProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.processes[id]
	if !ok {
		return nil, fmt.Errorf("download process %d: %w", id, model.ErrNotFound)
	}
	return p.Clone(), nil
}

func (s *Store) UpdateProcess(ctx context.Context, p *model.DownloadProcess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processes[p.ID]; !ok {
		return fmt.Errorf("download process %d: %w", p.ID, model.ErrNotFound)
	}
	s.processes[p.ID] = p.Clone()
	return nil
}

func (s *Store) FindProcessesBySourceURL(ctx context.Context, sourceURL string) ([]*model.DownloadProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.DownloadProcess, 0)
	for _, p := range s.processes {
		if p.SourceURL == sourceURL {
			out = append(out, p.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *Store) FindProcessesByIDs(ctx context.Context, ids []int64) ([]*model.DownloadProcess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.DownloadProcess, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.processes[id]; ok {
			out = append(out, p.Clone())
		}
	}
	sortByID(out)
	return slices.CompactFunc(out, func(a, b *model.DownloadProcess) bool { return a.ID == b.ID }), nil
}

func (s *Store) ListUserProcesses(ctx context.Context, userID int64, offset, limit int) ([]*model.DownloadProcess, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*model.DownloadProcess, 0)
	for key := range s.userProcess {
		if key.userID != userID {
			continue
		}
		if p, ok := s.processes[key.processID]; ok {
			all = append(all, p)
		}
	}
	slices.SortFunc(all, func(a, b *model.DownloadProcess) int {
		if c := b.AddedAt.Compare(a.AddedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	total := len(all)
	if offset >= total {
		return []*model.DownloadProcess{}, total, nil
	}
	end := min(offset+limit, total)
	out := make([]*model.DownloadProcess, 0, end-offset)
	for _, p := range all[offset:end] {
		out = append(out, p.Clone())
	}
	return out, total, nil
}

func (s *Store) DeleteProcesses(ctx context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for _, id := range ids {
		if _, ok := s.processes[id]; !ok {
			continue
		}
		delete(s.processes, id)
		deleted++
		for key := range s.userProcess {
			if key.processID == id {
				delete(s.userProcess, key)
			}
		}
		s.requestLinks = dropProcess(s.requestLinks, id)
		s.packLinks = dropProcess(s.packLinks, id)
		s.trackLinks = dropProcess(s.trackLinks, id)
		for _, f := range s.localFiles {
			if f.ProcessID != nil && *f.ProcessID == id {
				f.ProcessID = nil
			}
		}
	}
	return deleted, nil
}

func (s *Store) EnsureUserProcess(ctx context.Context, rel model.UserToProcess) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userProcessKey{userID: rel.UserID, processID: rel.ProcessID}
	if _, ok := s.userProcess[key]; ok {
		return false, nil
	}
	s.userProcess[key] = rel
	return true, nil
}

func (s *Store) DeleteUserProcess(ctx context.Context, userID, processID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := userProcessKey{userID: userID, processID: processID}
	if _, ok := s.userProcess[key]; !ok {
		return false, nil
	}
	delete(s.userProcess, key)
	return true, nil
}

// UserProcesses returns the relation rows of a process, for inspection.
func (s *Store) UserProcesses(processID int64) []model.UserToProcess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.UserToProcess, 0)
	for key, rel := range s.userProcess {
		if key.processID == processID {
			out = append(out, rel)
		}
	}
	slices.SortFunc(out, func(a, b model.UserToProcess) int { return cmp.Compare(a.UserID, b.UserID) })
	return out
}

func (s *Store) EnsureProcessRequest(ctx context.Context, rel model.ProcessToRequest) (bool, error) {
	return ensureLink(s, &s.requestLinks, rel.ProcessID, rel.RequestID), nil
}

func (s *Store) RequestProcessIDs(ctx context.Context, requestID uuid.UUID) ([]int64, error) {
	return linkedProcesses(s, &s.requestLinks, requestID), nil
}

func (s *Store) EnsureProcessMusicPack(ctx context.Context, rel model.ProcessToMusicPack) (bool, error) {
	return ensureLink(s, &s.packLinks, rel.ProcessID, rel.MusicPackID), nil
}

func (s *Store) ProcessMusicPackIDs(ctx context.Context, processID int64) ([]int64, error) {
	return linkedTargets(s, &s.packLinks, processID), nil
}

func (s *Store) EnsureProcessMusicTrack(ctx context.Context, rel model.ProcessToMusicTrack) (bool, error) {
	return ensureLink(s, &s.trackLinks, rel.ProcessID, rel.MusicTrackID), nil
}

func (s *Store) ProcessMusicTrackIDs(ctx context.Context, processID int64) ([]int64, error) {
	return linkedTargets(s, &s.trackLinks, processID), nil
}

func (s *Store) LatestTrackProcessID(ctx context.Context, musicTrackID int64) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *linkRow[int64]
	for i := range s.trackLinks {
		row := &s.trackLinks[i]
		if row.target == musicTrackID && (latest == nil || row.seq > latest.seq) {
			latest = row
		}
	}
	if latest == nil {
		return 0, false, nil
	}
	return latest.processID, true, nil
}

func (s *Store) TrackProcessIDs(ctx context.Context, musicTrackIDs []int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0)
	for _, row := range s.trackLinks {
		if slices.Contains(musicTrackIDs, row.target) {
			out = append(out, row.processID)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// PutTrack registers a catalog track.
func (s *Store) PutTrack(t model.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	track := t
	track.Artists = slices.Clone(t.Artists)
	s.tracks[t.ID] = &track
}

func (s *Store) FetchTrack(ctx context.Context, id int64) (*model.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[id]
	if !ok {
		return nil, fmt.Errorf("music track %d: %w", id, model.ErrNotFound)
	}
	out := *t
	out.Artists = slices.Clone(t.Artists)
	return &out, nil
}

func (s *Store) CreateLocalFile(ctx context.Context, f *model.LocalFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextLocalFileID++
	f.ID = s.nextLocalFileID
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	stored := *f
	s.localFiles[f.ID] = &stored
	return nil
}

// LocalFilesForProcess returns the local files created from a process.
func (s *Store) LocalFilesForProcess(processID int64) []model.LocalFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.LocalFile, 0)
	for _, f := range s.localFiles {
		if f.ProcessID != nil && *f.ProcessID == processID {
			out = append(out, *f)
		}
	}
	slices.SortFunc(out, func(a, b model.LocalFile) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Store) AttachLocalFileToMusicPack(ctx context.Context, musicPackID, localFileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.localFiles[localFileID]; !ok {
		return fmt.Errorf("local file %d: %w", localFileID, model.ErrNotFound)
	}
	if !slices.Contains(s.packLocalFiles[musicPackID], localFileID) {
		s.packLocalFiles[musicPackID] = append(s.packLocalFiles[musicPackID], localFileID)
	}
	return nil
}

// MusicPackLocalFiles returns the local file ids grafted onto a pack.
func (s *Store) MusicPackLocalFiles(musicPackID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.packLocalFiles[musicPackID])
}

func (s *Store) AttachLocalFileToMusicTrack(ctx context.Context, musicTrackID, localFileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tracks[musicTrackID]
	if !ok {
		return nil
	}
	id := localFileID
	t.LocalFileID = &id
	return nil
}

func ensureLink[K comparable](s *Store, rows *[]linkRow[K], processID int64, target K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range *rows {
		if row.processID == processID && row.target == target {
			return false
		}
	}
	s.seq++
	*rows = append(*rows, linkRow[K]{seq: s.seq, processID: processID, target: target})
	return true
}

func linkedProcesses[K comparable](s *Store, rows *[]linkRow[K], target K) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0)
	for _, row := range *rows {
		if row.target == target {
			out = append(out, row.processID)
		}
	}
	slices.Sort(out)
	return out
}

func linkedTargets(s *Store, rows *[]linkRow[int64], processID int64) []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0)
	for _, row := range *rows {
		if row.processID == processID {
			out = append(out, row.target)
		}
	}
	return out
}

func dropProcess[K comparable](rows []linkRow[K], processID int64) []linkRow[K] {
	return slices.DeleteFunc(rows, func(row linkRow[K]) bool { return row.processID == processID })
}

func sortByID(ps []*model.DownloadProcess) {
	slices.SortFunc(ps, func(a, b *model.DownloadProcess) int { return cmp.Compare(a.ID, b.ID) })
}
