package domain

// MediaKind selects the Telegram send operation for resolved media.
type MediaKind int

const (
	MediaPhoto MediaKind = iota
	MediaVideo
	MediaAudio
	MediaDocument
)

func (k MediaKind) String() string {
	switch k {
	case MediaPhoto:
		return "photo"
	case MediaVideo:
		return "video"
	case MediaAudio:
		return "audio"
	default:
		return "document"
	}
}

// ResolvedMedia is a fetchable attachment: where to download it from and what
// to call the file on the destination side.
type ResolvedMedia struct {
	Kind     MediaKind
	URL      string
	Filename string
}

// DownloadedMedia owns the fetched bytes until they are handed to a send
// call; the dispatcher drops the buffer right after the fan-out.
type DownloadedMedia struct {
	Data     []byte
	Filename string
}
