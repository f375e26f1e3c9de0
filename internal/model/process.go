package model

import (
	"fmt"
	"time"
)

// DefaultTotalParts is the part count a process carries until its backend reports a real one.
const DefaultTotalParts = 100

type Status string

const (
	StatusRequested  Status = "REQUESTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusSuccess    Status = "SUCCESS"
	StatusFail       Status = "FAIL"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further progress can be recorded in this status.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFail
}

func (s Status) Valid() bool {
	switch s {
	case StatusRequested, StatusInProgress, StatusSuccess, StatusFail:
		return true
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, s)
	}
	return st, nil
}

// State is the tagged status of a process. The error description only exists in the FAIL state.
type State struct {
	status           Status
	errorDescription string
}

func Requested() State  { return State{status: StatusRequested} }
func InProgress() State { return State{status: StatusInProgress} }
func Succeeded() State  { return State{status: StatusSuccess} }

func Failed(description string) State {
	return State{status: StatusFail, errorDescription: description}
}

func (s State) Status() Status {
	return s.status
}

// ErrorDescription returns the failure text and true only for FAIL states.
func (s State) ErrorDescription() (string, bool) {
	if s.status != StatusFail {
		return "", false
	}
	return s.errorDescription, true
}

// RestoreState rebuilds a state from its stored columns.
func RestoreState(status Status, errorDescription *string) (State, error) {
	switch status {
	case StatusFail:
		desc := ""
		if errorDescription != nil {
			desc = *errorDescription
		}
		return Failed(desc), nil
	case StatusRequested, StatusInProgress, StatusSuccess:
		return State{status: status}, nil
	}
	return State{}, fmt.Errorf("%w: unknown status %q", ErrInvalidArgument, status)
}

// DownloadProcess is one tracked attempt to fetch media from a source into a local file.
type DownloadProcess struct {
	ID               int64
	SourceURL        string
	FilePath         string
	TrackTitle       *string
	TrackDurationSec *int
	TotalParts       int
	DownloadedParts  int
	State            State
	AddedAt          time.Time
	UpdatedAt        time.Time
}

func NewDownloadProcess(sourceURL, filePath string, title *string, durationSec *int, now time.Time) *DownloadProcess {
	return &DownloadProcess{
		SourceURL:        sourceURL,
		FilePath:         filePath,
		TrackTitle:       title,
		TrackDurationSec: durationSec,
		TotalParts:       DefaultTotalParts,
		State:            Requested(),
		AddedAt:          now,
		UpdatedAt:        now,
	}
}

func (p *DownloadProcess) Status() Status {
	return p.State.Status()
}

func (p *DownloadProcess) Start(totalParts int, now time.Time) error {
	if totalParts <= 0 {
		return fmt.Errorf("%w: total parts must be positive, got %d", ErrInvalidArgument, totalParts)
	}
	if p.Status().IsTerminal() {
		return fmt.Errorf("%w: cannot start process %d in status %s", ErrInvalidTransition, p.ID, p.Status())
	}
	p.State = InProgress()
	p.TotalParts = totalParts
	p.UpdatedAt = now
	return nil
}

// Progress records downloaded parts and reports whether anything changed.
// Only IN_PROGRESS accepts progress; unchanged and decreasing values are ignored.
func (p *DownloadProcess) Progress(downloadedParts int, now time.Time) bool {
	if p.Status() != StatusInProgress || downloadedParts <= p.DownloadedParts {
		return false
	}
	p.DownloadedParts = downloadedParts
	p.UpdatedAt = now
	return true
}

func (p *DownloadProcess) Succeed(downloadedParts *int, now time.Time) error {
	if p.Status() != StatusInProgress {
		return fmt.Errorf("%w: cannot complete process %d in status %s", ErrInvalidTransition, p.ID, p.Status())
	}
	p.State = Succeeded()
	if downloadedParts != nil {
		p.DownloadedParts = *downloadedParts
	} else {
		p.DownloadedParts = p.TotalParts
	}
	p.UpdatedAt = now
	return nil
}

func (p *DownloadProcess) Fail(description string, now time.Time) error {
	if p.Status().IsTerminal() {
		return fmt.Errorf("%w: cannot fail process %d in status %s", ErrInvalidTransition, p.ID, p.Status())
	}
	p.State = Failed(description)
	p.UpdatedAt = now
	return nil
}

// RetryParams optionally overwrite the artifact target and metadata on retry.
type RetryParams struct {
	FilePath    *string
	Title       *string
	DurationSec *int
}

// Retry moves a FAIL (or a stale REQUESTED) process back to IN_PROGRESS with cleared progress.
func (p *DownloadProcess) Retry(params RetryParams, now time.Time) error {
	if st := p.Status(); st != StatusFail && st != StatusRequested {
		return fmt.Errorf("%w: cannot retry process %d in status %s", ErrInvalidTransition, p.ID, st)
	}
	if params.FilePath != nil {
		p.FilePath = *params.FilePath
	}
	if params.Title != nil {
		p.TrackTitle = params.Title
	}
	if params.DurationSec != nil {
		p.TrackDurationSec = params.DurationSec
	}
	p.State = InProgress()
	p.DownloadedParts = 0
	p.UpdatedAt = now
	return nil
}

// Clone returns a copy that does not share pointer fields with p.
func (p *DownloadProcess) Clone() *DownloadProcess {
	c := *p
	if p.TrackTitle != nil {
		t := *p.TrackTitle
		c.TrackTitle = &t
	}
	if p.TrackDurationSec != nil {
		d := *p.TrackDurationSec
		c.TrackDurationSec = &d
	}
	return &c
}
