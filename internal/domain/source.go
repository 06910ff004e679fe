package domain

import "context"

// UserDirectory resolves Max user ids to profile names.
type UserDirectory interface {
	DisplayName(ctx context.Context, userID int64) (string, error)
}

// MediaLookup obtains download URLs for attachments that do not embed one.
type MediaLookup interface {
	VideoURL(ctx context.Context, chatID, messageID, mediaID int64) (string, error)
	// FileURL also reports the server-side "unsafe" verdict for the file.
	FileURL(ctx context.Context, chatID, messageID, mediaID int64) (url string, unsafe bool, err error)
}
