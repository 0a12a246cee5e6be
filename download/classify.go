package download

import (
	"strconv"

	"github.com/gotd/td/tg"
)

// Descriptor is a downloadable file found in a source message.
type Descriptor struct {
	Index     int
	MessageID int
	Kind      Kind
	Size      int64
	MimeType  string
	Name      string

	dc       int
	document *tg.Document
	photo    *tg.Photo
}

// Classify inspects the media of msg in a fixed priority order and reports false when nothing is downloadable.
func Classify(msg *tg.Message) (Descriptor, bool) {
	d := Descriptor{
		Index:     0,
		MessageID: msg.ID,
		Kind:      "",
		Size:      0,
		MimeType:  "",
		Name:      "",
		dc:        0,
		document:  nil,
		photo:     nil,
	}

	switch media := msg.Media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := media.GetPhoto()
		if !ok {
			return d, false
		}
		p, ok := photo.AsNotEmpty()
		if !ok {
			return d, false
		}
		d.Kind = KindPhoto
		d.MimeType = "image/jpeg"
		d.dc = p.DCID
		d.photo = p
		if c, err := selectPhotoSize(p.Sizes); nil == err {
			d.Size = c.Size
		}
	case *tg.MessageMediaDocument:
		document, ok := media.GetDocument()
		if !ok {
			return d, false
		}
		doc, ok := document.AsNotEmpty()
		if !ok {
			return d, false
		}
		d.Kind = documentKind(doc.Attributes)
		d.MimeType = doc.MimeType
		d.Size = doc.Size
		d.dc = doc.DCID
		d.document = doc
		d.Name = documentFileName(doc.Attributes)
	default:
		return d, false
	}

	if d.Name == "" {
		d.Name = "message_" + strconv.Itoa(msg.ID) + extension(d.Kind, d.MimeType)
	}
	return d, true
}

func documentKind(attrs []tg.DocumentAttributeClass) Kind {
	var (
		video, roundVideo bool
		audio, voice      bool
		animated, sticker bool
	)
	for _, a := range attrs {
		switch v := a.(type) {
		case *tg.DocumentAttributeVideo:
			if v.RoundMessage {
				roundVideo = true
			} else {
				video = true
			}
		case *tg.DocumentAttributeAudio:
			if v.Voice {
				voice = true
			} else {
				audio = true
			}
		case *tg.DocumentAttributeAnimated:
			animated = true
		case *tg.DocumentAttributeSticker:
			sticker = true
		}
	}

	switch {
	case roundVideo:
		return KindVideoNote
	case video:
		return KindVideo
	case audio:
		return KindAudio
	case voice:
		return KindVoice
	case animated:
		return KindAnimation
	case sticker:
		return KindSticker
	default:
		return KindDocument
	}
}

func documentFileName(attrs []tg.DocumentAttributeClass) string {
	for _, a := range attrs {
		if v, ok := a.(*tg.DocumentAttributeFilename); ok {
			return v.FileName
		}
	}
	return ""
}

func (d Descriptor) location(thumbSize string) tg.InputFileLocationClass {
	if nil != d.photo {
		return &tg.InputPhotoFileLocation{
			ID:            d.photo.ID,
			AccessHash:    d.photo.AccessHash,
			FileReference: d.photo.FileReference,
			ThumbSize:     thumbSize,
		}
	}
	return &tg.InputDocumentFileLocation{
		ID:            d.document.ID,
		AccessHash:    d.document.AccessHash,
		FileReference: d.document.FileReference,
		ThumbSize:     "",
	}
}
