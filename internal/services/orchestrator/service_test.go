package orchestrator

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal/metrics"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/gcottom/track-dl/internal/services/process"
	"github.com/gcottom/track-dl/internal/services/registry"
	"github.com/gcottom/track-dl/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okPrefix = "https://ok.example/"

// fakeBackend creates processes through the real lifecycle but never transfers anything.
type fakeBackend struct {
	lifecycle *process.Service
	requests  atomic.Int32
	retries   atomic.Int32
}

func (b *fakeBackend) Name() string  { return "fake" }
func (b *fakeBackend) Priority() int { return 1 }
func (b *fakeBackend) IsApplicable(url string) bool {
	return strings.HasPrefix(url, okPrefix)
}

func (b *fakeBackend) RequestDownload(ctx context.Context, userID int64, requestID uuid.UUID, target model.Target) (*model.DownloadProcess, error) {
	b.requests.Add(1)
	if target.URL == "" {
		return b.lifecycle.InitializeFromTrackData(ctx, userID, *target.TrackID, func(u string) string { return "/music/" + path.Base(u) })
	}
	return b.lifecycle.Initialize(ctx, userID, target.URL, "/music/"+path.Base(target.URL), target.Title, target.DurationSec)
}

func (b *fakeBackend) RequestRetryDownload(ctx context.Context, processID int64, url string) (*model.DownloadProcess, error) {
	b.retries.Add(1)
	return b.lifecycle.Retry(ctx, processID, model.RetryParams{})
}

type fixture struct {
	ctx       context.Context
	store     *memory.Store
	lifecycle *process.Service
	backend   *fakeBackend
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	lifecycle := &process.Service{Store: st, Now: func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}}
	backend := &fakeBackend{lifecycle: lifecycle}
	return &fixture{
		ctx:       zaplog.CreateAndInject(context.Background()),
		store:     st,
		lifecycle: lifecycle,
		backend:   backend,
		svc: &Service{
			Store:     st,
			Registry:  registry.New(backend),
			Metrics:   metrics.New("test"),
			Retryable: []model.Status{model.StatusFail},
		},
	}
}

func ids(items []model.ProcessInfo) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestService_AtMostOneLiveJobPerSource(t *testing.T) {
	f := newFixture(t)
	url := okPrefix + "a"

	var first int64
	for i, userID := range []int64{1, 2, 2, 3} {
		res, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, userID, url)
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		require.NotNil(t, res.RequestID)
		if i == 0 {
			first = res.Items[0].ID
		}
		assert.Equal(t, first, res.Items[0].ID)
	}

	assert.EqualValues(t, 1, f.backend.requests.Load())
	found, err := f.store.FindProcessesBySourceURL(f.ctx, url)
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, []model.UserToProcess{
		{UserID: 1, ProcessID: first, IsOwner: true},
		{UserID: 2, ProcessID: first},
		{UserID: 3, ProcessID: first},
	}, f.store.UserProcesses(first))
}

func TestService_BatchPartialFailure(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.RequestTrackListDownloadByURLs(f.ctx, 1, []string{okPrefix + "a", "not-a-real-source"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, okPrefix+"a", res.Items[0].SourceURL)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "not-a-real-source", res.Failures[0].Item)
	assert.True(t, errors.Is(res.Failures[0].Err, model.ErrSourceNotSupported))

	stored, err := f.store.GetProcess(f.ctx, res.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRequested, stored.Status())

	byRequest, err := f.svc.GetDownloadProcessInfoListByRequest(f.ctx, *res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, ids(res.Items), ids(byRequest.Items))
}

func TestService_BatchAbortOnItemError(t *testing.T) {
	f := newFixture(t)
	var seen []string
	abort := WithItemErrorHandler(func(item string, err error) bool {
		seen = append(seen, item)
		return false
	})

	res, err := f.svc.RequestTrackListDownloadByURLs(f.ctx, 1, []string{okPrefix + "a", "not-a-real-source", okPrefix + "b"}, abort)
	require.NoError(t, err)
	assert.Equal(t, []string{"not-a-real-source"}, seen)
	require.Len(t, res.Items, 1)
	assert.Equal(t, okPrefix+"a", res.Items[0].SourceURL)
	found, err := f.store.FindProcessesBySourceURL(f.ctx, okPrefix+"b")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestService_BatchResultsSortedAndTrimmed(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, okPrefix+"a")
	require.NoError(t, err)

	res, err := f.svc.RequestTrackListDownloadByURLs(f.ctx, 2, []string{"  " + okPrefix + "b ", "", okPrefix + "a", okPrefix + "a"})
	require.NoError(t, err)
	require.Len(t, res.Items, 2)
	assert.Equal(t, okPrefix+"a", res.Items[0].SourceURL)
	assert.Equal(t, okPrefix+"b", res.Items[1].SourceURL)
	assert.Less(t, res.Items[0].ID, res.Items[1].ID)
	assert.Empty(t, res.Failures)
}

func TestService_IdempotentRelations(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, okPrefix+"a", WithMusicPack(9))
	require.NoError(t, err)
	processID := res.Items[0].ID
	_, err = f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, okPrefix+"a", WithMusicPack(9))
	require.NoError(t, err)

	packs, err := f.store.ProcessMusicPackIDs(f.ctx, processID)
	require.NoError(t, err)
	assert.Equal(t, []int64{9}, packs)

	requestID := uuid.New()
	for range 2 {
		linked, err := f.svc.AssociateDownloadedProcessInfoWithRequest(f.ctx, []int64{processID, processID}, requestID)
		require.NoError(t, err)
		assert.Equal(t, []int64{processID}, ids(linked.Items))
	}
	linkedIDs, err := f.store.RequestProcessIDs(f.ctx, requestID)
	require.NoError(t, err)
	assert.Equal(t, []int64{processID}, linkedIDs)

	_, err = f.svc.AssociateDownloadedProcessInfoWithRequest(f.ctx, []int64{processID, 404}, requestID)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = f.svc.AssociateDownloadedProcessInfoWithRequest(f.ctx, []int64{processID}, uuid.Nil)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
}

func TestService_FailedJobIsRetriedOnReuse(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, okPrefix+"a")
	require.NoError(t, err)
	id := res.Items[0].ID
	_, err = f.lifecycle.Start(f.ctx, id, 100)
	require.NoError(t, err)
	_, err = f.lifecycle.Progress(f.ctx, id, 40)
	require.NoError(t, err)
	_, err = f.lifecycle.Fail(f.ctx, id, errors.New("timeout"))
	require.NoError(t, err)

	res, err = f.svc.RequestSingleTrackDownloadByURL(f.ctx, 2, okPrefix+"a")
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	info := res.Items[0]
	assert.Equal(t, id, info.ID)
	assert.Equal(t, model.StatusInProgress, info.Status)
	assert.Equal(t, 0, info.DownloadedParts)
	assert.Empty(t, info.Error)
	assert.EqualValues(t, 1, f.backend.requests.Load())
	assert.EqualValues(t, 1, f.backend.retries.Load())
	assert.Len(t, f.store.UserProcesses(id), 2)
}

func TestService_RequestRetryDownload(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestRetryDownload(f.ctx, 1, 404)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	res, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, okPrefix+"a")
	require.NoError(t, err)
	id := res.Items[0].ID
	_, err = f.lifecycle.Fail(f.ctx, id, errors.New("boom"))
	require.NoError(t, err)

	info, err := f.svc.RequestRetryDownload(f.ctx, 7, id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInProgress, info.Status)
	assert.Contains(t, f.store.UserProcesses(id), model.UserToProcess{UserID: 7, ProcessID: id})

	_, err = f.lifecycle.CompleteSuccess(f.ctx, id, nil)
	require.NoError(t, err)
	_, err = f.svc.RequestRetryDownload(f.ctx, 7, id)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestService_TrackRequestsDedupByTrack(t *testing.T) {
	f := newFixture(t)
	f.store.PutTrack(model.Track{ID: 7, Title: "Song", Artists: []string{"Band"}, ExternalURL: okPrefix + "t7.mp3"})
	f.store.PutTrack(model.Track{ID: 8, Title: "Other", ExternalURL: okPrefix + "t8.mp3"})

	res, err := f.svc.RequestSingleTrackDownload(f.ctx, 1, model.Track{ID: 7, ExternalURL: okPrefix + "t7.mp3"})
	require.NoError(t, err)
	assert.Nil(t, res.RequestID)
	require.Len(t, res.Items, 1)
	first := res.Items[0]
	require.NotNil(t, first.Title)
	assert.Equal(t, "Band - Song", *first.Title)

	batch, err := f.svc.RequestTrackListDownloadByTrackIDs(f.ctx, 2, map[int64]string{
		8:  "",
		7:  okPrefix + "mirror/t7.mp3",
		99: okPrefix + "ghost.mp3",
	})
	require.NoError(t, err)
	require.Len(t, batch.Items, 2)
	assert.Equal(t, first.ID, batch.Items[0].ID, "track 7 reuses its latest linked process")
	assert.Equal(t, okPrefix+"t8.mp3", batch.Items[1].SourceURL)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "99", batch.Failures[0].Item)
	assert.True(t, errors.Is(batch.Failures[0].Err, model.ErrNotFound))
	assert.EqualValues(t, 2, f.backend.requests.Load())

	tracks, err := f.store.ProcessMusicTrackIDs(f.ctx, batch.Items[1].ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, tracks)

	_, err = f.svc.RequestSingleTrackDownload(f.ctx, 1, model.Track{ID: 10})
	assert.True(t, errors.Is(err, model.ErrSourceNotSupported))
}

func TestService_UserListing(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c"} {
		_, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 5, okPrefix+name)
		require.NoError(t, err)
	}
	_, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 6, okPrefix+"other")
	require.NoError(t, err)

	page, err := f.svc.GetDownloadProcessInfoListByUser(f.ctx, 5, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, okPrefix+"c", page.Items[0].SourceURL)
	assert.Equal(t, okPrefix+"b", page.Items[1].SourceURL)

	page, err = f.svc.GetDownloadProcessInfoListByUser(f.ctx, 5, 1, 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, okPrefix+"a", page.Items[0].SourceURL)

	_, err = f.svc.GetDownloadProcessInfoListByUser(f.ctx, 5, 0, 0)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	_, err = f.svc.GetDownloadProcessInfoListByUser(f.ctx, 5, -1, 10)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
}

func TestService_RemoveUserDownloadsItem(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, okPrefix+"a")
	require.NoError(t, err)
	id := res.Items[0].ID
	_, err = f.svc.RequestSingleTrackDownloadByURL(f.ctx, 2, okPrefix+"a")
	require.NoError(t, err)

	require.NoError(t, f.svc.RemoveUserDownloadsItem(f.ctx, 2, id))
	assert.True(t, errors.Is(f.svc.RemoveUserDownloadsItem(f.ctx, 2, id), model.ErrNotFound))

	_, err = f.svc.GetDownloadProcessInfo(f.ctx, id)
	require.NoError(t, err)
	page, err := f.svc.GetDownloadProcessInfoListByUser(f.ctx, 1, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{id}, ids(page.Items))
	page, err = f.svc.GetDownloadProcessInfoListByUser(f.ctx, 2, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, page.Items)
}

func TestService_RemoveDataAssociatedWithTracks(t *testing.T) {
	f := newFixture(t)
	f.store.PutTrack(model.Track{ID: 7, ExternalURL: okPrefix + "t7.mp3"})
	res, err := f.svc.RequestSingleTrackDownload(f.ctx, 1, model.Track{ID: 7, ExternalURL: okPrefix + "t7.mp3"})
	require.NoError(t, err)
	trackProcess := res.Items[0].ID
	res, err = f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, okPrefix+"keep")
	require.NoError(t, err)
	kept := res.Items[0].ID

	deleted, err := f.svc.RemoveDataAssociatedWithTracks(f.ctx, []int64{7, 8})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = f.svc.GetDownloadProcessInfo(f.ctx, trackProcess)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.Empty(t, f.store.UserProcesses(trackProcess))
	_, err = f.svc.GetDownloadProcessInfo(f.ctx, kept)
	assert.NoError(t, err)

	deleted, err = f.svc.RemoveDataAssociatedWithTracks(f.ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestService_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, 1, "   ")
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	_, err = f.svc.RequestTrackListDownloadByURLs(f.ctx, 0, []string{okPrefix + "a"})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	_, err = f.svc.RequestTrackListDownloadByURLs(f.ctx, 1, []string{"", " "})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	_, err = f.svc.RequestTrackListDownloadByTrackIDs(f.ctx, 1, nil)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	_, err = f.svc.RequestSingleTrackDownload(f.ctx, 1, model.Track{})
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	assert.Zero(t, f.backend.requests.Load())
}

func TestService_ConcurrentRequestsShareOneJob(t *testing.T) {
	f := newFixture(t)
	url := okPrefix + "hot.mp3"
	users := []int64{1, 2, 3, 4, 5, 6, 7, 8}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		seen  = map[int64]struct{}{}
		errCh = make(chan error, len(users)*3)
	)
	for range 3 {
		for _, userID := range users {
			wg.Add(1)
			go func(userID int64) {
				defer wg.Done()
				res, err := f.svc.RequestSingleTrackDownloadByURL(f.ctx, userID, url)
				if err != nil {
					errCh <- err
					return
				}
				mu.Lock()
				for _, it := range res.Items {
					seen[it.ID] = struct{}{}
				}
				mu.Unlock()
			}(userID)
		}
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	require.Len(t, seen, 1)
	assert.EqualValues(t, 1, f.backend.requests.Load())
	found, err := f.store.FindProcessesBySourceURL(f.ctx, url)
	require.NoError(t, err)
	require.Len(t, found, 1)

	rows := f.store.UserProcesses(found[0].ID)
	require.Len(t, rows, len(users))
	perUser := map[int64]int{}
	owners := 0
	for _, r := range rows {
		perUser[r.UserID]++
		if r.IsOwner {
			owners++
		}
	}
	for _, userID := range users {
		assert.Equal(t, 1, perUser[userID], "user %d", userID)
	}
	assert.Equal(t, 1, owners)
}

func TestService_SingleTrackUsesCatalogSource(t *testing.T) {
	f := newFixture(t)
	f.store.PutTrack(model.Track{ID: 20, Title: "Song", ExternalURL: okPrefix + "catalog.mp3"})

	res, err := f.svc.RequestSingleTrackDownload(f.ctx, 1, model.Track{ID: 20, ExternalURL: okPrefix + "stale.mp3"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, okPrefix+"catalog.mp3", res.Items[0].SourceURL)

	stale, err := f.store.FindProcessesBySourceURL(f.ctx, okPrefix+"stale.mp3")
	require.NoError(t, err)
	assert.Empty(t, stale)

	again, err := f.svc.RequestSingleTrackDownload(f.ctx, 2, model.Track{ID: 20, ExternalURL: okPrefix + "stale.mp3"})
	require.NoError(t, err)
	require.Len(t, again.Items, 1)
	assert.Equal(t, res.Items[0].ID, again.Items[0].ID)
	assert.EqualValues(t, 1, f.backend.requests.Load())
}

func TestService_SingleTrackOutsideCatalog(t *testing.T) {
	f := newFixture(t)
	duration := 215
	track := model.Track{ID: 30, Title: "Solo", Artists: []string{"Me"}, DurationSec: &duration, ExternalURL: okPrefix + "solo.mp3"}

	res, err := f.svc.RequestSingleTrackDownload(f.ctx, 1, track)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, okPrefix+"solo.mp3", res.Items[0].SourceURL)

	p, err := f.store.GetProcess(f.ctx, res.Items[0].ID)
	require.NoError(t, err)
	require.NotNil(t, p.TrackTitle)
	assert.Equal(t, "Me - Solo", *p.TrackTitle)
	require.NotNil(t, p.TrackDurationSec)
	assert.Equal(t, 215, *p.TrackDurationSec)

	tracks, err := f.store.ProcessMusicTrackIDs(f.ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{30}, tracks)
}
