package maxclient

import (
	"encoding/json"
	"strings"
	"time"

	"maxbridge/internal/domain"
)

// frame is the websocket envelope. Replies carry the seq of the call they
// answer; server-initiated events carry a fresh seq.
type frame struct {
	Ver     int             `json:"ver"`
	Cmd     int             `json:"cmd"`
	Seq     int64           `json:"seq"`
	Opcode  int             `json:"opcode"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const protocolVersion = 11

// Command direction markers.
const (
	cmdRequest  = 0
	cmdResponse = 1
	cmdEvent    = 2
)

// Opcodes the bridge consumes.
const (
	opSessionInit  = 6
	opAuthStart    = 17
	opAuthConfirm  = 18
	opAuthToken    = 19
	opSync         = 21
	opGetUsers     = 32
	opVideoPlay    = 83
	opFileDownload = 88

	opEventMessage        = 128
	opEventMessageDeleted = 129
)

const msgStatusRemoved = "REMOVED"

// rawMessage is a chat message as it appears on the wire.
type rawMessage struct {
	ID       int64       `json:"id"`
	ChatID   int64       `json:"chatId"`
	Sender   int64       `json:"sender"`
	Text     string      `json:"text,omitempty"`
	Status   []string    `json:"status,omitempty"`
	Time     int64       `json:"time"` // unix millis
	Attaches []rawAttach `json:"attaches,omitempty"`
}

// rawAttach is the duck-typed attachment blob; _type selects the variant.
type rawAttach struct {
	Type    string `json:"_type"`
	BaseURL string `json:"baseUrl,omitempty"`
	URL     string `json:"url,omitempty"`
	VideoID int64  `json:"videoId,omitempty"`
	FileID  int64  `json:"fileId,omitempty"`
	Name    string `json:"name,omitempty"`
}

func (m rawMessage) toDomain() domain.InboundMessage {
	msg := domain.InboundMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		SenderID:  m.Sender,
		Text:      m.Text,
		Timestamp: time.UnixMilli(m.Time),
	}
	for _, s := range m.Status {
		if s == msgStatusRemoved {
			msg.Removed = true
			break
		}
	}
	for _, a := range m.Attaches {
		msg.Attachments = append(msg.Attachments, a.toDomain())
	}
	return msg
}

func (a rawAttach) toDomain() domain.Attachment {
	switch strings.ToUpper(a.Type) {
	case "PHOTO":
		return domain.Attachment{Kind: domain.AttachmentPhoto, URL: a.BaseURL}
	case "VIDEO":
		return domain.Attachment{Kind: domain.AttachmentVideo, MediaID: a.VideoID}
	case "AUDIO":
		return domain.Attachment{Kind: domain.AttachmentAudio, URL: a.URL}
	case "FILE":
		return domain.Attachment{Kind: domain.AttachmentFile, MediaID: a.FileID, Name: a.Name}
	case "STICKER":
		return domain.Attachment{Kind: domain.AttachmentSticker}
	case "CONTROL":
		return domain.Attachment{Kind: domain.AttachmentControl}
	default:
		return domain.Attachment{Kind: domain.AttachmentUnknown}
	}
}

// User is a Max account profile.
type User struct {
	ID    int64      `json:"id"`
	Names []UserName `json:"names,omitempty"`
}

type UserName struct {
	Name      string `json:"name,omitempty"`
	FirstName string `json:"firstName,omitempty"`
}

// DisplayName prefers the first name entry's given name, then its full name.
func (u User) DisplayName() string {
	if len(u.Names) == 0 {
		return ""
	}
	if n := u.Names[0]; n.FirstName != "" {
		return n.FirstName
	} else if n.Name != "" {
		return n.Name
	}
	return ""
}

// Chat kinds as reported by the sync payload.
const (
	ChatKindDialog  = "DIALOG"
	ChatKindChannel = "CHANNEL"
	ChatKindGroup   = "CHAT"
)

// Chat is a dialog, channel, or group chat visible to the account.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title,omitempty"`
	Owner int64  `json:"owner,omitempty"` // dialog peer
}
