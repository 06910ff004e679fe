package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"maxbridge/internal/domain"
)

// Resolver turns a typed attachment into a fetchable target. A nil result
// with a nil error means "skip": the attachment cannot or should not be
// forwarded, and that is a terminal outcome, not a failure.
type Resolver struct {
	lookup domain.MediaLookup
	logger *slog.Logger
}

func NewResolver(lookup domain.MediaLookup, logger *slog.Logger) *Resolver {
	return &Resolver{lookup: lookup, logger: logger}
}

// Resolve dispatches on the attachment variant. Photo and Audio carry their
// URL; Video and File need a secondary lookup keyed by (chat, message, media
// id). Stickers, control markers, and unrecognized variants always skip.
func (r *Resolver) Resolve(ctx context.Context, chatID, messageID int64, att domain.Attachment) (*domain.ResolvedMedia, error) {
	switch att.Kind {
	case domain.AttachmentPhoto:
		if att.URL == "" {
			r.logger.Warn("photo without base url", "message_id", messageID)
			return nil, nil
		}
		return &domain.ResolvedMedia{
			Kind:     domain.MediaPhoto,
			URL:      att.URL,
			Filename: fmt.Sprintf("photo_%d.jpg", messageID),
		}, nil

	case domain.AttachmentAudio:
		if att.URL == "" {
			r.logger.Warn("audio without url", "message_id", messageID)
			return nil, nil
		}
		return &domain.ResolvedMedia{
			Kind:     domain.MediaAudio,
			URL:      att.URL,
			Filename: fmt.Sprintf("audio_%d.ogg", messageID),
		}, nil

	case domain.AttachmentVideo:
		url, err := r.lookup.VideoURL(ctx, chatID, messageID, att.MediaID)
		if err != nil {
			return nil, fmt.Errorf("video url lookup: %w", err)
		}
		if url == "" {
			r.logger.Warn("video has no playable url",
				"message_id", messageID, "media_id", att.MediaID,
			)
			return nil, nil
		}
		return &domain.ResolvedMedia{
			Kind:     domain.MediaVideo,
			URL:      url,
			Filename: fmt.Sprintf("video_%d.mp4", messageID),
		}, nil

	case domain.AttachmentFile:
		url, unsafe, err := r.lookup.FileURL(ctx, chatID, messageID, att.MediaID)
		if err != nil {
			return nil, fmt.Errorf("file url lookup: %w", err)
		}
		if unsafe {
			r.logger.Warn("file flagged unsafe, skipping",
				"message_id", messageID, "media_id", att.MediaID, "name", att.Name,
			)
			return nil, nil
		}
		if url == "" {
			r.logger.Warn("file has no download url",
				"message_id", messageID, "media_id", att.MediaID,
			)
			return nil, nil
		}
		name := att.Name
		if name == "" {
			name = fmt.Sprintf("file_%d.bin", messageID)
		}
		return &domain.ResolvedMedia{
			Kind:     domain.MediaDocument,
			URL:      url,
			Filename: name,
		}, nil

	case domain.AttachmentSticker, domain.AttachmentControl:
		r.logger.Debug("skipping attachment", "message_id", messageID, "kind", att.Kind.String())
		return nil, nil

	default:
		r.logger.Debug("unrecognized attachment kind", "message_id", messageID)
		return nil, nil
	}
}
