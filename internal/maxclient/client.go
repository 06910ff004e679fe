package maxclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"maxbridge/internal/domain"
)

const (
	// DefaultEndpoint is the public Max websocket gateway.
	DefaultEndpoint = "wss://ws-api.oneme.ru/websocket"

	callTimeout       = 30 * time.Second
	keepaliveInterval = 30 * time.Second
)

// ErrClosed is returned by calls made after the connection went away.
var ErrClosed = errors.New("max client: connection closed")

// Client is a thin websocket client for the Max messenger: it authenticates
// the account, subscribes to server-pushed chat events, and exposes the
// handful of lookup calls the bridge needs. Event handlers run on the read
// loop goroutine and must not block on client calls; hand work off to a bus
// or a separate goroutine instead.
type Client struct {
	phone    string
	endpoint string
	logger   *slog.Logger
	session  *SessionStore

	conn    *websocket.Conn
	writeMu sync.Mutex
	seq     atomic.Int64

	pendingMu sync.Mutex
	pending   map[int64]chan frame
	closed    bool
	closeOnce sync.Once

	onMessage  func(domain.InboundMessage)
	onDelete   func(messageID int64)
	chatFilter int64

	chatsMu sync.RWMutex
	chats   []Chat

	usersMu sync.RWMutex
	users   map[int64]string
}

type Config struct {
	Phone    string
	Endpoint string // defaults to DefaultEndpoint
	WorkDir  string // session cache location
	Logger   *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	session, err := OpenSession(cfg.WorkDir, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		phone:    cfg.Phone,
		endpoint: cfg.Endpoint,
		logger:   cfg.Logger,
		session:  session,
		pending:  make(map[int64]chan frame),
		users:    make(map[int64]string),
	}, nil
}

// OnMessage registers the handler for new messages in the given chat.
// Events from other chats are dropped before the handler is invoked.
func (c *Client) OnMessage(chatID int64, fn func(domain.InboundMessage)) {
	c.chatFilter = chatID
	c.onMessage = fn
}

// OnMessageDelete registers the handler for message deletion events in the
// given chat.
func (c *Client) OnMessageDelete(chatID int64, fn func(messageID int64)) {
	c.chatFilter = chatID
	c.onDelete = fn
}

// Connect dials the gateway, authenticates, and performs the initial chat
// sync. When no auth token is cached it falls back to the interactive
// SMS-code login and persists the resulting token.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("max dial %s: %w", c.endpoint, err)
	}
	c.conn = conn

	go c.readLoop()
	go c.keepalive(ctx)

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return err
	}
	if err := c.authenticate(ctx); err != nil {
		c.Close()
		return err
	}
	if err := c.sync(ctx); err != nil {
		c.Close()
		return err
	}

	c.logger.Info("max client connected", "endpoint", c.endpoint, "chats", len(c.Chats()))
	return nil
}

// Close tears down the connection and the session store. Pending calls fail
// with ErrClosed. Resources are released exactly once even when the
// connection was already lost.
func (c *Client) Close() error {
	c.failPending()

	var err error
	c.closeOnce.Do(func() {
		if c.conn != nil {
			c.conn.Close()
		}
		err = c.session.Close()
	})
	return err
}

// failPending marks the client closed and fails every in-flight call with
// ErrClosed. Returns false when the client was already closed.
func (c *Client) failPending() bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	for seq, ch := range c.pending {
		close(ch)
		delete(c.pending, seq)
	}
	return true
}

func (c *Client) handshake(ctx context.Context) error {
	payload := map[string]any{
		"deviceId": c.session.DeviceID(),
		"userAgent": map[string]any{
			"deviceType": "WEB",
			"appVersion": "maxbridge",
		},
	}
	_, err := c.call(ctx, opSessionInit, payload)
	if err != nil {
		return fmt.Errorf("session init: %w", err)
	}
	return nil
}

func (c *Client) authenticate(ctx context.Context) error {
	if token := c.session.Token(); token != "" {
		_, err := c.call(ctx, opAuthToken, map[string]any{"token": token})
		if err == nil {
			c.logger.Info("max login via cached token")
			return nil
		}
		c.logger.Warn("cached token rejected, falling back to code login", "err", err)
	}
	return c.loginByCode(ctx)
}

// loginByCode runs the interactive phone-code flow and caches the token.
func (c *Client) loginByCode(ctx context.Context) error {
	reply, err := c.call(ctx, opAuthStart, map[string]any{"phone": c.phone})
	if err != nil {
		return fmt.Errorf("auth start: %w", err)
	}
	var start struct {
		RequestToken string `json:"requestToken"`
	}
	if err := json.Unmarshal(reply, &start); err != nil {
		return fmt.Errorf("auth start reply: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Enter the code sent to %s: ", c.phone)
	var code string
	fmt.Scanln(&code)

	reply, err = c.call(ctx, opAuthConfirm, map[string]any{
		"requestToken": start.RequestToken,
		"verifyCode":   code,
	})
	if err != nil {
		return fmt.Errorf("auth confirm: %w", err)
	}
	var confirm struct {
		AuthToken string `json:"authToken"`
	}
	if err := json.Unmarshal(reply, &confirm); err != nil {
		return fmt.Errorf("auth confirm reply: %w", err)
	}
	if confirm.AuthToken == "" {
		return errors.New("auth confirm: no token in reply")
	}

	c.session.SetToken(confirm.AuthToken)
	c.logger.Info("max login confirmed, token cached")
	return nil
}

// sync fetches the account's chat list and caches it for the diagnostic
// command.
func (c *Client) sync(ctx context.Context) error {
	reply, err := c.call(ctx, opSync, map[string]any{"chatsSync": 0})
	if err != nil {
		return fmt.Errorf("chat sync: %w", err)
	}
	var payload struct {
		Chats []Chat `json:"chats"`
	}
	if err := json.Unmarshal(reply, &payload); err != nil {
		return fmt.Errorf("chat sync reply: %w", err)
	}

	c.chatsMu.Lock()
	c.chats = payload.Chats
	c.chatsMu.Unlock()
	c.session.SaveChats(payload.Chats)
	return nil
}

// Chats returns the chat list from the last sync, falling back to the
// session cache when the live sync produced nothing.
func (c *Client) Chats() []Chat {
	c.chatsMu.RLock()
	defer c.chatsMu.RUnlock()
	if len(c.chats) == 0 {
		return c.session.CachedChats()
	}
	out := make([]Chat, len(c.chats))
	copy(out, c.chats)
	return out
}

// DisplayName implements domain.UserDirectory. Names are memoized per run.
func (c *Client) DisplayName(ctx context.Context, userID int64) (string, error) {
	c.usersMu.RLock()
	name, ok := c.users[userID]
	c.usersMu.RUnlock()
	if ok {
		return name, nil
	}

	reply, err := c.call(ctx, opGetUsers, map[string]any{"contactIds": []int64{userID}})
	if err != nil {
		return "", fmt.Errorf("user lookup %d: %w", userID, err)
	}
	var payload struct {
		Contacts []User `json:"contacts"`
	}
	if err := json.Unmarshal(reply, &payload); err != nil {
		return "", fmt.Errorf("user lookup reply: %w", err)
	}
	if len(payload.Contacts) == 0 {
		return "", nil
	}

	name = payload.Contacts[0].DisplayName()
	c.usersMu.Lock()
	c.users[userID] = name
	c.usersMu.Unlock()
	return name, nil
}

// VideoURL implements domain.MediaLookup.
func (c *Client) VideoURL(ctx context.Context, chatID, messageID, mediaID int64) (string, error) {
	reply, err := c.call(ctx, opVideoPlay, map[string]any{
		"chatId":    chatID,
		"messageId": messageID,
		"videoId":   mediaID,
	})
	if err != nil {
		return "", err
	}
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(reply, &payload); err != nil {
		return "", fmt.Errorf("video url reply: %w", err)
	}
	return payload.URL, nil
}

// FileURL implements domain.MediaLookup.
func (c *Client) FileURL(ctx context.Context, chatID, messageID, mediaID int64) (string, bool, error) {
	reply, err := c.call(ctx, opFileDownload, map[string]any{
		"chatId":    chatID,
		"messageId": messageID,
		"fileId":    mediaID,
	})
	if err != nil {
		return "", false, err
	}
	var payload struct {
		URL    string `json:"url"`
		Unsafe bool   `json:"unsafe"`
	}
	if err := json.Unmarshal(reply, &payload); err != nil {
		return "", false, fmt.Errorf("file url reply: %w", err)
	}
	return payload.URL, payload.Unsafe, nil
}

// call sends one request frame and waits for the matching reply.
func (c *Client) call(ctx context.Context, opcode int, payload any) (json.RawMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	seq := c.seq.Add(1)
	ch := make(chan frame, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClosed
	}
	c.pending[seq] = ch
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, seq)
		c.pendingMu.Unlock()
	}()

	req := frame{Ver: protocolVersion, Cmd: cmdRequest, Seq: seq, Opcode: opcode, Payload: data}
	c.writeMu.Lock()
	err = c.conn.WriteJSON(req)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write opcode %d: %w", opcode, err)
	}

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()

	select {
	case reply, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return replyPayload(reply)
	case <-timer.C:
		return nil, fmt.Errorf("opcode %d: reply timeout", opcode)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// replyPayload unwraps a response frame, surfacing server-side errors.
func replyPayload(f frame) (json.RawMessage, error) {
	var body struct {
		Error string `json:"error,omitempty"`
	}
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &body); err == nil && body.Error != "" {
			return nil, fmt.Errorf("server error: %s", body.Error)
		}
	}
	return f.Payload, nil
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.failPending() {
				c.logger.Error("max connection lost", "err", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("unparseable frame from server", "err", err)
			continue
		}

		switch f.Cmd {
		case cmdResponse:
			c.handleReply(f)
		case cmdEvent:
			c.handleEvent(f)
		}
	}
}

// handleReply hands a response frame to its waiting call. The entry is
// removed and the send happens under pendingMu, so a concurrent Close cannot
// close the channel mid-send; the channel is buffered and the entry is gone
// after the first reply, so the send never blocks.
func (c *Client) handleReply(f frame) {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.Seq]
	if ok {
		delete(c.pending, f.Seq)
		ch <- f
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("reply for unknown seq", "seq", f.Seq, "opcode", f.Opcode)
	}
}

func (c *Client) handleEvent(f frame) {
	switch f.Opcode {
	case opEventMessage:
		var payload struct {
			Message rawMessage `json:"message"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			c.logger.Warn("unparseable message event", "err", err)
			return
		}
		if payload.Message.ChatID != c.chatFilter || c.onMessage == nil {
			return
		}
		c.onMessage(payload.Message.toDomain())

	case opEventMessageDeleted:
		var payload struct {
			ChatID    int64 `json:"chatId"`
			MessageID int64 `json:"messageId"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			c.logger.Warn("unparseable delete event", "err", err)
			return
		}
		if payload.ChatID != c.chatFilter || c.onDelete == nil {
			return
		}
		c.onDelete(payload.MessageID)

	default:
		c.logger.Debug("ignoring server event", "opcode", f.Opcode)
	}
}

// keepalive pings the gateway so idle connections stay open.
func (c *Client) keepalive(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
