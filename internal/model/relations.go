package model

import "github.com/google/uuid"

type UserToProcess struct {
	UserID    int64
	ProcessID int64
	IsOwner   bool
}

type ProcessToRequest struct {
	ProcessID int64
	RequestID uuid.UUID
}

type ProcessToMusicPack struct {
	ProcessID   int64
	MusicPackID int64
}

type ProcessToMusicTrack struct {
	ProcessID    int64
	MusicTrackID int64
}
