package download

import (
	"errors"
	"slices"

	"github.com/gotd/td/tg"
)

var ErrNoDownloadableSize = errors.New("photo has no downloadable size")

type photoChoice struct {
	Type   string
	Size   int64
	Inline []byte
}

// selectPhotoSize picks the highest scoring representation of a photo.
// Inline thumbnails score by byte length, standard sizes by declared size, progressive sizes by their largest variant.
func selectPhotoSize(sizes []tg.PhotoSizeClass) (photoChoice, error) {
	var (
		best      photoChoice
		bestScore int64 = -1
	)
	for _, s := range sizes {
		var (
			c     photoChoice
			score int64
		)
		switch v := s.(type) {
		case *tg.PhotoSize:
			c = photoChoice{Type: v.Type, Size: int64(v.Size), Inline: nil}
			score = int64(v.Size)
		case *tg.PhotoCachedSize:
			c = photoChoice{Type: v.Type, Size: int64(len(v.Bytes)), Inline: v.Bytes}
			score = int64(len(v.Bytes))
		case *tg.PhotoStrippedSize:
			c = photoChoice{Type: v.Type, Size: int64(len(v.Bytes)), Inline: v.Bytes}
			score = int64(len(v.Bytes))
		case *tg.PhotoSizeProgressive:
			if len(v.Sizes) == 0 {
				continue
			}
			largest := int64(slices.Max(v.Sizes))
			c = photoChoice{Type: v.Type, Size: largest, Inline: nil}
			score = largest
		default:
			continue
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	if bestScore < 0 {
		return photoChoice{}, ErrNoDownloadableSize //nolint:exhaustruct
	}
	return best, nil
}
