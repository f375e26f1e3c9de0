package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/gcottom/track-dl/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertProcessQuery(t *testing.T) {
	d := New(nil)
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	title := "Artist - Song"
	p := model.NewDownloadProcess("https://example.com/a.mp3", "/music/a.mp3", &title, nil, now)

	query, args, err := d.insertProcessQuery(p).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "INSERT INTO download_process")
	assert.Contains(t, query, "$10")
	assert.Contains(t, query, "RETURNING id")
	require.Len(t, args, 10)
	assert.Equal(t, "REQUESTED", args[0])
	assert.Equal(t, "https://example.com/a.mp3", args[1])
	assert.Equal(t, model.DefaultTotalParts, args[5])
	assert.Nil(t, args[7], "error description is null outside FAIL")
}

func TestUpdateProcessQuery_ErrorDescriptionFollowsState(t *testing.T) {
	d := New(nil)
	now := time.Now()
	p := model.NewDownloadProcess("u", "/f", nil, nil, now)
	p.ID = 9
	require.NoError(t, p.Fail("source vanished", now))

	query, args, err := d.updateProcessQuery(p).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "UPDATE download_process SET")
	assert.Contains(t, query, "error_description = $")
	assert.Contains(t, query, "WHERE id = $9")
	assert.Contains(t, args, "FAIL")
	assert.Equal(t, int64(9), args[len(args)-1])

	var desc *string
	for _, a := range args {
		if s, ok := a.(*string); ok && s != nil && *s == "source vanished" {
			desc = s
		}
	}
	require.NotNil(t, desc)

	require.NoError(t, p.Retry(model.RetryParams{}, now))
	_, args, err = d.updateProcessQuery(p).ToSql()
	require.NoError(t, err)
	for _, a := range args {
		if s, ok := a.(*string); ok && s != nil {
			assert.NotEqual(t, "source vanished", *s)
		}
	}
}

func TestUserProcessesQuery(t *testing.T) {
	d := New(nil)
	query, args, err := d.userProcessesQuery(42, 40, 20).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "SELECT DISTINCT p.id, p.status")
	assert.Contains(t, query, "JOIN user_to_process up ON up.process_id = p.id")
	assert.Contains(t, query, "WHERE up.user_id = $1")
	assert.Contains(t, query, "ORDER BY p.added_at DESC, p.id DESC")
	assert.Contains(t, query, "LIMIT 20")
	assert.Contains(t, query, "OFFSET 40")
	assert.Equal(t, []any{int64(42)}, args)
}

func TestEnsureQuery_IsIdempotentInsert(t *testing.T) {
	d := New(nil)
	requestID := uuid.New()
	query, args, err := d.ensureQuery("process_to_request", []string{"process_id", "request_id"}, int64(3), requestID).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO process_to_request (process_id,request_id) VALUES ($1,$2) ON CONFLICT DO NOTHING", query)
	assert.Equal(t, []any{int64(3), requestID}, args)
}

func TestLatestTrackProcessQuery(t *testing.T) {
	d := New(nil)
	query, args, err := d.latestTrackProcessQuery(5).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT process_id FROM process_to_music_track WHERE music_track_id = $1 ORDER BY id DESC LIMIT 1", query)
	assert.Equal(t, []any{int64(5)}, args)
}

func TestProcessRow_ToModel(t *testing.T) {
	desc := "timeout"
	row := processRow{ID: 1, Status: "FAIL", SourceURL: "u", FilePath: "/f", TotalParts: 10, DownloadedParts: 4, ErrorDescription: &desc}
	p, err := row.toModel()
	require.NoError(t, err)
	assert.Equal(t, model.StatusFail, p.Status())
	got, ok := p.State.ErrorDescription()
	assert.True(t, ok)
	assert.Equal(t, "timeout", got)

	row.Status = "UNKNOWN"
	_, err = row.toModel()
	assert.Error(t, err)
}

func TestSchemaEmbedded(t *testing.T) {
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS download_process")
	assert.Contains(t, schema, "user_to_process_single_owner_idx")
}

func TestLockProcessQuery(t *testing.T) {
	d := New(nil)
	query, args, err := d.lockProcessQuery(12).ToSql()
	require.NoError(t, err)
	assert.Contains(t, query, "FROM download_process WHERE id = $1")
	assert.True(t, strings.HasSuffix(query, "FOR UPDATE"))
	assert.Equal(t, []any{int64(12)}, args)
}
