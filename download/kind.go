package download

import (
	"mime"
	"strings"
)

type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideoNote Kind = "video_note"
	KindVideo     Kind = "video"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindAnimation Kind = "animation"
	KindSticker   Kind = "sticker"
	KindDocument  Kind = "document"
)

var defaultExtensions = map[Kind]string{
	KindPhoto:     ".jpg",
	KindVideoNote: ".mp4",
	KindVideo:     ".mp4",
	KindAudio:     ".mp3",
	KindVoice:     ".ogg",
	KindAnimation: ".mp4",
	KindSticker:   ".webp",
	KindDocument:  ".bin",
}

var preferredMimeExtensions = map[string]string{
	"image/jpeg":      ".jpg",
	"video/mp4":       ".mp4",
	"audio/mpeg":      ".mp3",
	"audio/ogg":       ".ogg",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
}

// extension infers a file extension from the declared mime type, falling back to the kind's default.
func extension(kind Kind, mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if ext, ok := preferredMimeExtensions[mimeType]; ok {
		return ext
	}
	if mimeType != "" {
		if exts, err := mime.ExtensionsByType(mimeType); nil == err && len(exts) > 0 {
			return exts[0]
		}
	}
	if ext, ok := defaultExtensions[kind]; ok {
		return ext
	}
	return ".bin"
}
