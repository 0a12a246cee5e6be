package bot

import (
	"fmt"
	"strings"

	"github.com/xeptore/tgmd/progress"
	"github.com/xeptore/tgmd/task"
)

const (
	helpText          = "Send me a t.me message link, or forward a message with media, and I will download it."
	startText         = "Hello! " + helpText
	duplicateText     = "This message is already being downloaded."
	noActiveTasksText = "No active downloads."
)

func tasksText(records []task.Record) string {
	active := make([]task.Record, 0, len(records))
	for _, r := range records {
		if r.Status.IsActive() {
			active = append(active, r)
		}
	}
	if len(active) == 0 {
		return noActiveTasksText
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Active downloads: %d", len(active))
	for i, r := range active {
		fmt.Fprintf(&b, "\n%d. %s: %s", i+1, r.Title, progress.Render(r, progress.Meta{Title: ""}).Status)
		if r.Status == task.StatusRunning {
			fmt.Fprintf(&b, " %.1f%%", r.Progress.Percent)
		}
	}
	return b.String()
}

func confirmText(report progress.Report) string {
	return report.Title + "\nCancel this download?"
}
