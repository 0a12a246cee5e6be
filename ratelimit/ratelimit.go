package ratelimit

import (
	"math/rand/v2"
	"time"

	"github.com/xeptore/tgmd/mathutil"
)

const (
	MinAlbumConcurrency = 1
	MaxAlbumConcurrency = 8

	MinPartSize = 4 * 1024
	MaxPartSize = 512 * 1024

	ChatEditsPerInterval = 20
	ChatEditInterval     = 60 * time.Second
	ChatEditMinGap       = 1 * time.Second
)

// AlbumWorkers returns the number of concurrent file downloads for a batch of files.
func AlbumWorkers(files, concurrency int) int {
	return min(files, mathutil.Clamp(concurrency, MinAlbumConcurrency, MaxAlbumConcurrency))
}

// PartSize converts a configured part size in KiB into a transfer part size in bytes that divides 1 MiB.
func PartSize(kb int) int {
	return mathutil.FloorPow2(mathutil.Clamp(kb*1024, MinPartSize, MaxPartSize))
}

// ChatEditRetryDelay returns a jittered delay between retries of rate limited chat edits.
func ChatEditRetryDelay() time.Duration {
	const (
		from = 1
		to   = 4
	)
	millis := (rand.IntN(to-from)+from)*1000 + rand.N(1000) //nolint:gosec
	return time.Duration(millis) * time.Millisecond
}
