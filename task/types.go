package task

import (
	"slices"
	"time"

	"github.com/xeptore/tgmd/source"
)

type Kind string

const (
	KindLinkDownload    Kind = "link_download"
	KindMessageDownload Kind = "message_download"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusRunning
}

type Progress struct {
	DownloadedBytes  int64   `json:"downloaded_bytes"`
	TotalBytes       int64   `json:"total_bytes"`
	Percent          float64 `json:"percent"`
	SpeedBytesPerSec float64 `json:"speed_bytes_per_sec"`
}

type File struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int64  `json:"size"`
}

type Result struct {
	Files []File `json:"files,omitempty"`
	Error string `json:"error,omitempty"`
}

type Record struct {
	ID        string     `json:"id"`
	Kind      Kind       `json:"kind"`
	Status    Status     `json:"status"`
	Title     string     `json:"title"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Progress  Progress   `json:"progress"`
	SourceKey string     `json:"source_key,omitempty"`
	Result    *Result    `json:"result,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	if nil != r.ExpiresAt {
		t := *r.ExpiresAt
		out.ExpiresAt = &t
	}
	if nil != r.Result {
		res := Result{Files: slices.Clone(r.Result.Files), Error: r.Result.Error}
		out.Result = &res
	}
	return out
}

// Payload is the input of a single task execution. Exactly one of its fields is set.
type Payload struct {
	Link    string
	Message *source.Inbound
}

func (p Payload) title() string {
	if p.Link != "" {
		return p.Link
	}
	return "forwarded message"
}
