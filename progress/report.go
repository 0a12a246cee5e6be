package progress

import (
	"fmt"
	"math"
	"strings"

	"github.com/xeptore/tgmd/task"
)

const barWidth = 20

// Meta is display information the task record does not carry.
type Meta struct {
	Title string
}

// Report is the human readable rendering of a task.
type Report struct {
	Title    string
	Status   string
	Bar      string
	Bytes    string
	Speed    string
	Files    []string
	Error    string
	Terminal bool
}

func Render(rec task.Record, meta Meta) Report {
	title := meta.Title
	if title == "" {
		title = rec.Title
	}

	r := Report{
		Title:    title,
		Status:   statusLine(rec.Status),
		Bar:      "",
		Bytes:    "",
		Speed:    "",
		Files:    nil,
		Error:    "",
		Terminal: rec.Status.IsTerminal(),
	}

	switch rec.Status {
	case task.StatusRunning, task.StatusCompleted:
		r.Bar = bar(rec.Progress.Percent)
		if rec.Progress.TotalBytes > 0 {
			r.Bytes = FormatBytes(rec.Progress.DownloadedBytes) + " / " + FormatBytes(rec.Progress.TotalBytes)
		} else if rec.Progress.DownloadedBytes > 0 {
			r.Bytes = FormatBytes(rec.Progress.DownloadedBytes)
		}
		if rec.Status == task.StatusRunning && rec.Progress.SpeedBytesPerSec > 0 {
			r.Speed = FormatBytes(int64(rec.Progress.SpeedBytesPerSec)) + "/s"
		}
	case task.StatusPending, task.StatusFailed, task.StatusCanceled:
	}

	if nil != rec.Result {
		for _, f := range rec.Result.Files {
			r.Files = append(r.Files, f.Name)
		}
		r.Error = rec.Result.Error
	}
	return r
}

func (r Report) String() string {
	var b strings.Builder
	b.WriteString(r.Title)
	b.WriteString("\n")
	b.WriteString(r.Status)
	if r.Bar != "" {
		b.WriteString("\n")
		b.WriteString(r.Bar)
	}
	if r.Bytes != "" {
		b.WriteString("\n")
		b.WriteString(r.Bytes)
		if r.Speed != "" {
			b.WriteString(" at ")
			b.WriteString(r.Speed)
		}
	}
	for _, f := range r.Files {
		b.WriteString("\n• ")
		b.WriteString(f)
	}
	if r.Error != "" {
		b.WriteString("\n")
		b.WriteString(r.Error)
	}
	return b.String()
}

func statusLine(s task.Status) string {
	switch s {
	case task.StatusPending:
		return "Queued"
	case task.StatusRunning:
		return "Downloading"
	case task.StatusCompleted:
		return "Completed"
	case task.StatusFailed:
		return "Failed"
	case task.StatusCanceled:
		return "Canceled"
	default:
		panic(fmt.Sprintf("unexpected task status %q", s))
	}
}

func bar(percent float64) string {
	percent = math.Max(0, math.Min(percent, 100))
	filled := int(percent / 100 * barWidth)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "] " + fmt.Sprintf("%.1f%%", percent)
}

func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
