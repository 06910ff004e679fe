package domain

import "time"

// AttachmentKind tags the closed set of attachment variants Max delivers.
type AttachmentKind int

const (
	AttachmentUnknown AttachmentKind = iota
	AttachmentPhoto
	AttachmentVideo
	AttachmentAudio
	AttachmentFile
	AttachmentSticker
	AttachmentControl
)

func (k AttachmentKind) String() string {
	switch k {
	case AttachmentPhoto:
		return "photo"
	case AttachmentVideo:
		return "video"
	case AttachmentAudio:
		return "audio"
	case AttachmentFile:
		return "file"
	case AttachmentSticker:
		return "sticker"
	case AttachmentControl:
		return "control"
	default:
		return "unknown"
	}
}

// Attachment is a tagged variant over the media a Max message can carry.
// Photo and Audio embed a directly fetchable URL; Video and File carry a
// media id that needs a secondary lookup keyed by (chat, message, media id).
type Attachment struct {
	Kind    AttachmentKind
	URL     string // direct download URL (Photo, Audio)
	MediaID int64  // lookup key (Video, File)
	Name    string // declared filename (File)
}

// InboundMessage is one event from the Max stream, consumed exactly once by
// the dispatcher.
type InboundMessage struct {
	ID          int64
	ChatID      int64
	SenderID    int64
	Text        string
	Attachments []Attachment
	Removed     bool
	Timestamp   time.Time
}
