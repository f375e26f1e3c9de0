package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gcottom/go-zaplog"
	"github.com/gcottom/track-dl/internal/model"
	"github.com/gcottom/track-dl/internal/services/orchestrator"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DownloadService is the orchestration surface the routes expose.
type DownloadService interface {
	RequestSingleTrackDownloadByURL(ctx context.Context, userID int64, url string, opts ...orchestrator.RequestOption) (model.Results, error)
	RequestTrackListDownloadByURLs(ctx context.Context, userID int64, urls []string, opts ...orchestrator.RequestOption) (model.Results, error)
	RequestTrackListDownloadByTrackIDs(ctx context.Context, userID int64, tracks map[int64]string, opts ...orchestrator.RequestOption) (model.Results, error)
	RequestSingleTrackDownload(ctx context.Context, userID int64, track model.Track, opts ...orchestrator.RequestOption) (model.Results, error)
	RequestRetryDownload(ctx context.Context, userID, processID int64) (model.ProcessInfo, error)
	AssociateDownloadedProcessInfoWithRequest(ctx context.Context, processIDs []int64, requestID uuid.UUID) (model.Results, error)
	GetDownloadProcessInfo(ctx context.Context, id int64) (model.ProcessInfo, error)
	GetDownloadProcessInfoListByRequest(ctx context.Context, requestID uuid.UUID) (model.Results, error)
	GetDownloadProcessInfoListByUser(ctx context.Context, userID int64, page, size int) (model.Page, error)
	RemoveUserDownloadsItem(ctx context.Context, userID, processID int64) error
	RemoveDataAssociatedWithTracks(ctx context.Context, trackIDs []int64) (int64, error)
}

type Handlers struct {
	Downloads DownloadService
	Health    func(ctx context.Context) error
}

const defaultPageSize = 20

func SetupRoutes(router *gin.Engine, downloads DownloadService, health func(ctx context.Context) error, metricsHandler http.Handler) {
	handler := &Handlers{Downloads: downloads, Health: health}
	router.POST("/downloads/url", handler.DownloadURL)
	router.POST("/downloads/urls", handler.DownloadURLs)
	router.POST("/downloads/tracks", handler.DownloadTracks)
	router.POST("/downloads/track", handler.DownloadTrack)
	router.GET("/downloads/:id", handler.GetProcess)
	router.POST("/downloads/:id/retry", handler.RetryDownload)
	router.GET("/requests/:request_id", handler.GetRequest)
	router.POST("/requests/:request_id/processes", handler.AssociateWithRequest)
	router.GET("/users/:user_id/downloads", handler.ListUserDownloads)
	router.DELETE("/users/:user_id/downloads/:id", handler.RemoveUserDownload)
	router.DELETE("/tracks/downloads", handler.RemoveTrackDownloads)
	router.GET("/healthz", handler.Healthz)
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
}

func (h *Handlers) DownloadURL(ctx *gin.Context) {
	var req DownloadURLRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		zaplog.WarnC(ctx, "invalid download url request", zap.Error(err))
		ResponseBadRequest(ctx, err)
		return
	}
	zaplog.InfoC(ctx, "download url request received", zap.Int64("user_id", req.UserID), zap.String("url", req.URL))
	res, err := h.Downloads.RequestSingleTrackDownloadByURL(ctx, req.UserID, req.URL, packOption(req.MusicPackID)...)
	if err != nil {
		zaplog.ErrorC(ctx, "error requesting download", zap.Error(err))
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, res)
}

func (h *Handlers) DownloadURLs(ctx *gin.Context) {
	var req DownloadURLsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		zaplog.WarnC(ctx, "invalid download urls request", zap.Error(err))
		ResponseBadRequest(ctx, err)
		return
	}
	zaplog.InfoC(ctx, "download urls request received", zap.Int64("user_id", req.UserID), zap.Int("urls", len(req.URLs)))
	opts := append(packOption(req.MusicPackID), stopOption(req.StopOnError)...)
	res, err := h.Downloads.RequestTrackListDownloadByURLs(ctx, req.UserID, req.URLs, opts...)
	if err != nil {
		zaplog.ErrorC(ctx, "error requesting downloads", zap.Error(err))
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, res)
}

func (h *Handlers) DownloadTracks(ctx *gin.Context) {
	var req DownloadTracksRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		zaplog.WarnC(ctx, "invalid download tracks request", zap.Error(err))
		ResponseBadRequest(ctx, err)
		return
	}
	zaplog.InfoC(ctx, "download tracks request received", zap.Int64("user_id", req.UserID), zap.Int("tracks", len(req.Tracks)))
	opts := append(packOption(req.MusicPackID), stopOption(req.StopOnError)...)
	res, err := h.Downloads.RequestTrackListDownloadByTrackIDs(ctx, req.UserID, req.Tracks, opts...)
	if err != nil {
		zaplog.ErrorC(ctx, "error requesting track downloads", zap.Error(err))
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, res)
}

func (h *Handlers) DownloadTrack(ctx *gin.Context) {
	var req DownloadTrackRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		zaplog.WarnC(ctx, "invalid download track request", zap.Error(err))
		ResponseBadRequest(ctx, err)
		return
	}
	track := model.Track{
		ID:          req.Track.ID,
		Title:       req.Track.Title,
		Artists:     req.Track.Artists,
		DurationSec: req.Track.DurationSec,
		ExternalURL: req.Track.ExternalURL,
	}
	zaplog.InfoC(ctx, "download track request received", zap.Int64("user_id", req.UserID), zap.Int64("track_id", track.ID))
	res, err := h.Downloads.RequestSingleTrackDownload(ctx, req.UserID, track, packOption(req.MusicPackID)...)
	if err != nil {
		zaplog.ErrorC(ctx, "error requesting track download", zap.Error(err))
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, res)
}

func (h *Handlers) GetProcess(ctx *gin.Context) {
	id, ok := int64Param(ctx, "id")
	if !ok {
		return
	}
	info, err := h.Downloads.GetDownloadProcessInfo(ctx, id)
	if err != nil {
		zaplog.WarnC(ctx, "error getting download process", zap.Int64("process_id", id), zap.Error(err))
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, info)
}

func (h *Handlers) RetryDownload(ctx *gin.Context) {
	id, ok := int64Param(ctx, "id")
	if !ok {
		return
	}
	var req RetryRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ResponseBadRequest(ctx, err)
		return
	}
	zaplog.InfoC(ctx, "retry request received", zap.Int64("user_id", req.UserID), zap.Int64("process_id", id))
	info, err := h.Downloads.RequestRetryDownload(ctx, req.UserID, id)
	if err != nil {
		zaplog.ErrorC(ctx, "error retrying download", zap.Int64("process_id", id), zap.Error(err))
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, info)
}

func (h *Handlers) GetRequest(ctx *gin.Context) {
	requestID, ok := uuidParam(ctx)
	if !ok {
		return
	}
	res, err := h.Downloads.GetDownloadProcessInfoListByRequest(ctx, requestID)
	if err != nil {
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, res)
}

func (h *Handlers) AssociateWithRequest(ctx *gin.Context) {
	requestID, ok := uuidParam(ctx)
	if !ok {
		return
	}
	var req AssociateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ResponseBadRequest(ctx, err)
		return
	}
	res, err := h.Downloads.AssociateDownloadedProcessInfoWithRequest(ctx, req.ProcessIDs, requestID)
	if err != nil {
		zaplog.ErrorC(ctx, "error associating processes with request", zap.String("request_id", requestID.String()), zap.Error(err))
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, res)
}

func (h *Handlers) ListUserDownloads(ctx *gin.Context) {
	userID, ok := int64Param(ctx, "user_id")
	if !ok {
		return
	}
	page, err := strconv.Atoi(ctx.DefaultQuery("page", "0"))
	if err != nil {
		ResponseBadRequest(ctx, fmt.Errorf("invalid page: %w", err))
		return
	}
	size, err := strconv.Atoi(ctx.DefaultQuery("size", strconv.Itoa(defaultPageSize)))
	if err != nil {
		ResponseBadRequest(ctx, fmt.Errorf("invalid size: %w", err))
		return
	}
	res, err := h.Downloads.GetDownloadProcessInfoListByUser(ctx, userID, page, size)
	if err != nil {
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, res)
}

func (h *Handlers) RemoveUserDownload(ctx *gin.Context) {
	userID, ok := int64Param(ctx, "user_id")
	if !ok {
		return
	}
	id, ok := int64Param(ctx, "id")
	if !ok {
		return
	}
	if err := h.Downloads.RemoveUserDownloadsItem(ctx, userID, id); err != nil {
		ResponseFailure(ctx, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *Handlers) RemoveTrackDownloads(ctx *gin.Context) {
	raw := ctx.QueryArray("track_id")
	trackIDs := make([]int64, 0, len(raw))
	for _, v := range raw {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			ResponseBadRequest(ctx, fmt.Errorf("invalid track_id %q", v))
			return
		}
		trackIDs = append(trackIDs, id)
	}
	zaplog.InfoC(ctx, "track download cleanup requested", zap.Int64s("track_ids", trackIDs))
	deleted, err := h.Downloads.RemoveDataAssociatedWithTracks(ctx, trackIDs)
	if err != nil {
		ResponseFailure(ctx, err)
		return
	}
	ResponseSuccess(ctx, RemovedResponse{Deleted: deleted})
}

func (h *Handlers) Healthz(ctx *gin.Context) {
	if h.Health != nil {
		if err := h.Health(ctx); err != nil {
			zaplog.ErrorC(ctx, "health check failed", zap.Error(err))
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, Failure{Error: err.Error()})
			return
		}
	}
	ResponseSuccess(ctx, HealthResponse{State: "OK"})
}

func packOption(musicPackID *int64) []orchestrator.RequestOption {
	if musicPackID == nil {
		return nil
	}
	return []orchestrator.RequestOption{orchestrator.WithMusicPack(*musicPackID)}
}

func stopOption(stop bool) []orchestrator.RequestOption {
	if !stop {
		return nil
	}
	return []orchestrator.RequestOption{orchestrator.WithItemErrorHandler(func(string, error) bool { return false })}
}

func int64Param(ctx *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil {
		zaplog.WarnC(ctx, "invalid path parameter", zap.String("param", name), zap.String("value", ctx.Param(name)))
		ResponseBadRequest(ctx, fmt.Errorf("invalid %s: %q", name, ctx.Param(name)))
		return 0, false
	}
	return v, true
}

func uuidParam(ctx *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(ctx.Param("request_id"))
	if err != nil {
		ResponseBadRequest(ctx, fmt.Errorf("invalid request_id: %w", err))
		return uuid.Nil, false
	}
	return id, true
}
