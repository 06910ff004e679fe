package domain

import (
	"context"
	"errors"
)

// ErrChatGone marks a send failure meaning the destination chat no longer
// exists (bot kicked, chat deleted). The dispatcher deregisters such chats.
var ErrChatGone = errors.New("destination chat no longer exists")

// MediaSender is the destination side of the bridge. Captions are
// interpreted as lightweight markup by the implementation.
type MediaSender interface {
	SendText(ctx context.Context, chatID string, text string) error
	SendPhoto(ctx context.Context, chatID string, media *DownloadedMedia, caption string) error
	SendVideo(ctx context.Context, chatID string, media *DownloadedMedia, caption string) error
	SendAudio(ctx context.Context, chatID string, media *DownloadedMedia, caption string) error
	SendDocument(ctx context.Context, chatID string, media *DownloadedMedia, caption string) error
}
