package task

import (
	"errors"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyFinished = errors.New("task has already finished")
	ErrPayloadMissing  = errors.New("task payload missing")
	ErrCanceled        = errors.New("task canceled")
)
