package handlers

import (
	"errors"
	"net/http"

	"github.com/gcottom/track-dl/internal/model"
	"github.com/gin-gonic/gin"
)

type Failure struct {
	Error string `json:"error"`
}

type DownloadURLsRequest struct {
	UserID      int64    `json:"user_id" binding:"required"`
	URLs        []string `json:"urls"`
	MusicPackID *int64   `json:"music_pack_id,omitempty"`
	// StopOnError aborts the batch at the first failed item.
	StopOnError bool `json:"stop_on_error,omitempty"`
}

type DownloadURLRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	URL         string `json:"url" binding:"required"`
	MusicPackID *int64 `json:"music_pack_id,omitempty"`
}

type DownloadTracksRequest struct {
	UserID      int64            `json:"user_id" binding:"required"`
	Tracks      map[int64]string `json:"tracks"`
	MusicPackID *int64           `json:"music_pack_id,omitempty"`
	StopOnError bool             `json:"stop_on_error,omitempty"`
}

type TrackPayload struct {
	ID          int64    `json:"id" binding:"required"`
	Title       string   `json:"title"`
	Artists     []string `json:"artists"`
	DurationSec *int     `json:"duration_sec,omitempty"`
	ExternalURL string   `json:"external_url"`
}

type DownloadTrackRequest struct {
	UserID      int64        `json:"user_id" binding:"required"`
	Track       TrackPayload `json:"track"`
	MusicPackID *int64       `json:"music_pack_id,omitempty"`
}

type RetryRequest struct {
	UserID int64 `json:"user_id" binding:"required"`
}

type AssociateRequest struct {
	ProcessIDs []int64 `json:"process_ids" binding:"required"`
}

type RemovedResponse struct {
	Deleted int64 `json:"deleted"`
}

type HealthResponse struct {
	State string `json:"state"`
}

// statusFor maps service errors onto http status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrSourceNotSupported):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func ResponseFailure(ctx *gin.Context, err error) {
	_ = ctx.Error(err)
	ctx.AbortWithStatusJSON(statusFor(err), Failure{Error: err.Error()})
}

func ResponseBadRequest(ctx *gin.Context, err error) {
	_ = ctx.Error(err)
	ctx.AbortWithStatusJSON(http.StatusBadRequest, Failure{Error: err.Error()})
}

func ResponseSuccess(ctx *gin.Context, data any) {
	ctx.JSON(http.StatusOK, data)
}
