package model

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

type ProcessInfo struct {
	ID              int64     `json:"id"`
	Status          Status    `json:"status"`
	SourceURL       string    `json:"source_url"`
	Title           *string   `json:"title,omitempty"`
	DurationSec     *int      `json:"duration_sec,omitempty"`
	TotalParts      int       `json:"total_parts"`
	DownloadedParts int       `json:"downloaded_parts"`
	Progress        float64   `json:"progress"`
	Error           string    `json:"error,omitempty"`
	AddedAt         time.Time `json:"added_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func NewProcessInfo(p *DownloadProcess) ProcessInfo {
	info := ProcessInfo{
		ID:              p.ID,
		Status:          p.Status(),
		SourceURL:       p.SourceURL,
		Title:           p.TrackTitle,
		DurationSec:     p.TrackDurationSec,
		TotalParts:      p.TotalParts,
		DownloadedParts: p.DownloadedParts,
		AddedAt:         p.AddedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	if p.TotalParts > 0 {
		info.Progress = min(float64(p.DownloadedParts)/float64(p.TotalParts), 1)
	}
	if desc, ok := p.State.ErrorDescription(); ok {
		info.Error = desc
	}
	return info
}

type ItemFailure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
	Err   error  `json:"-"`
}

// Results is one batch answer: an optional shared request id and one entry per distinct process.
type Results struct {
	RequestID *uuid.UUID    `json:"request_id,omitempty"`
	Items     []ProcessInfo `json:"items"`
	Failures  []ItemFailure `json:"failures,omitempty"`
}

// NewResults builds results sorted by ascending process id with duplicates removed.
func NewResults(requestID *uuid.UUID, processes []*DownloadProcess) Results {
	seen := make(map[int64]struct{}, len(processes))
	items := make([]ProcessInfo, 0, len(processes))
	for _, p := range processes {
		if p == nil {
			continue
		}
		if _, ok := seen[p.ID]; ok {
			continue
		}
		seen[p.ID] = struct{}{}
		items = append(items, NewProcessInfo(p))
	}
	slices.SortFunc(items, func(a, b ProcessInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return Results{RequestID: requestID, Items: items}
}

type Page struct {
	Items []ProcessInfo `json:"items"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
	Total int           `json:"total"`
}

// ProcessEvent is published after a committed lifecycle mutation.
type ProcessEvent struct {
	ProcessID       int64     `json:"process_id"`
	Status          Status    `json:"status"`
	SourceURL       string    `json:"source_url"`
	DownloadedParts int       `json:"downloaded_parts"`
	TotalParts      int       `json:"total_parts"`
	Error           string    `json:"error,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func NewProcessEvent(p *DownloadProcess) ProcessEvent {
	ev := ProcessEvent{
		ProcessID:       p.ID,
		Status:          p.Status(),
		SourceURL:       p.SourceURL,
		DownloadedParts: p.DownloadedParts,
		TotalParts:      p.TotalParts,
		OccurredAt:      p.UpdatedAt,
	}
	if desc, ok := p.State.ErrorDescription(); ok {
		ev.Error = desc
	}
	return ev
}
