package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"maxbridge/internal/domain"
	"maxbridge/internal/fetch"
	"maxbridge/internal/registry"
)

// fakeUsers implements domain.UserDirectory.
type fakeUsers struct {
	names map[int64]string
	err   error
}

func (f *fakeUsers) DisplayName(ctx context.Context, userID int64) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.names[userID], nil
}

type sentCall struct {
	Op       string
	ChatID   string
	Caption  string
	Filename string
}

// fakeSender implements domain.MediaSender and records every send.
type fakeSender struct {
	calls  []sentCall
	errFor map[string]error // chat id -> error to return
}

func (f *fakeSender) record(op, chatID, caption string, media *domain.DownloadedMedia) error {
	if err, ok := f.errFor[chatID]; ok {
		return err
	}
	call := sentCall{Op: op, ChatID: chatID, Caption: caption}
	if media != nil {
		call.Filename = media.Filename
	}
	f.calls = append(f.calls, call)
	return nil
}

func (f *fakeSender) SendText(ctx context.Context, chatID, text string) error {
	return f.record("text", chatID, text, nil)
}

func (f *fakeSender) SendPhoto(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	return f.record("photo", chatID, caption, media)
}

func (f *fakeSender) SendVideo(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	return f.record("video", chatID, caption, media)
}

func (f *fakeSender) SendAudio(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	return f.record("audio", chatID, caption, media)
}

func (f *fakeSender) SendDocument(ctx context.Context, chatID string, media *domain.DownloadedMedia, caption string) error {
	return f.record("document", chatID, caption, media)
}

type fixture struct {
	dispatcher *Dispatcher
	sender     *fakeSender
	registry   *registry.Registry
	server     *httptest.Server
}

func newFixture(t *testing.T, users domain.UserDirectory, lookup domain.MediaLookup, sender *fakeSender, chats ...string) *fixture {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))
	t.Cleanup(srv.Close)

	reg := registry.Load(filepath.Join(t.TempDir(), "state.json"), testLogger())
	for _, id := range chats {
		reg.Add(id)
	}

	fetcher := fetch.New(fetch.Config{
		Policy: fetch.RetryPolicy{
			MaxAttempts: 2,
			Backoff:     func(int) time.Duration { return 0 },
			Retryable:   fetch.Transient,
		},
		Logger: testLogger(),
	})

	d := NewDispatcher(DispatcherConfig{
		Users:    users,
		Resolver: NewResolver(lookup, testLogger()),
		Fetcher:  fetcher,
		Sender:   sender,
		Registry: reg,
		Logger:   testLogger(),
	})
	return &fixture{dispatcher: d, sender: sender, registry: reg, server: srv}
}

func TestDispatcher_EmptyMessageSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	fx := newFixture(t, &fakeUsers{}, &fakeLookup{}, sender, "111")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{ID: 1, SenderID: 5})

	if len(sender.calls) != 0 {
		t.Errorf("expected no sends, got %v", sender.calls)
	}
}

func TestDispatcher_RemovedMessageSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	fx := newFixture(t, &fakeUsers{}, &fakeLookup{}, sender, "111")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 1, SenderID: 5, Text: "hello", Removed: true,
	})

	if len(sender.calls) != 0 {
		t.Errorf("expected no sends for removed message, got %v", sender.calls)
	}
}

func TestDispatcher_TextFanOut(t *testing.T) {
	sender := &fakeSender{}
	users := &fakeUsers{names: map[int64]string{5: "Alice"}}
	fx := newFixture(t, users, &fakeLookup{}, sender, "111", "222")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 1, SenderID: 5, Text: "hello",
	})

	if len(sender.calls) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(sender.calls))
	}
	for _, call := range sender.calls {
		if call.Op != "text" {
			t.Errorf("expected text send, got %q", call.Op)
		}
		if !strings.Contains(call.Caption, "Alice") || !strings.Contains(call.Caption, "hello") {
			t.Errorf("caption missing sender or text: %q", call.Caption)
		}
	}
	// Snapshot order: "111" before "222".
	got := []string{sender.calls[0].ChatID, sender.calls[1].ChatID}
	if diff := cmp.Diff([]string{"111", "222"}, got); diff != "" {
		t.Errorf("unexpected fan-out order (-want +got):\n%s", diff)
	}
}

func TestDispatcher_PhotoPerDestination(t *testing.T) {
	sender := &fakeSender{}
	users := &fakeUsers{names: map[int64]string{5: "Alice"}}
	fx := newFixture(t, users, &fakeLookup{}, sender, "111", "222", "333")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 42, SenderID: 5, Text: "look",
		Attachments: []domain.Attachment{
			{Kind: domain.AttachmentPhoto, URL: fx.server.URL},
		},
	})

	if len(sender.calls) != 3 {
		t.Fatalf("expected 3 photo sends, got %d", len(sender.calls))
	}
	for _, call := range sender.calls {
		if call.Op != "photo" {
			t.Errorf("expected photo send, got %q", call.Op)
		}
		if call.Filename != "photo_42.jpg" {
			t.Errorf("unexpected filename: %q", call.Filename)
		}
		if !strings.Contains(call.Caption, "Alice") || !strings.Contains(call.Caption, "look") {
			t.Errorf("caption missing sender or text: %q", call.Caption)
		}
	}
}

func TestDispatcher_VideoWithoutURLDegradesToText(t *testing.T) {
	sender := &fakeSender{}
	users := &fakeUsers{names: map[int64]string{5: "Alice"}}
	fx := newFixture(t, users, &fakeLookup{videoURL: ""}, sender, "111")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 1, SenderID: 5, Text: "watch this",
		Attachments: []domain.Attachment{
			{Kind: domain.AttachmentVideo, MediaID: 7},
		},
	})

	if len(sender.calls) != 1 || sender.calls[0].Op != "text" {
		t.Fatalf("expected a single text send, got %v", sender.calls)
	}
}

func TestDispatcher_VideoWithoutURLAndNoTextSendsNothing(t *testing.T) {
	sender := &fakeSender{}
	fx := newFixture(t, &fakeUsers{}, &fakeLookup{}, sender, "111")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 1, SenderID: 5,
		Attachments: []domain.Attachment{
			{Kind: domain.AttachmentVideo, MediaID: 7},
		},
	})

	if len(sender.calls) != 0 {
		t.Errorf("expected no sends, got %v", sender.calls)
	}
}

func TestDispatcher_ChatGoneIsIsolatedAndDeregistered(t *testing.T) {
	sender := &fakeSender{errFor: map[string]error{
		"222": fmt.Errorf("%w: Bad Request: chat not found", domain.ErrChatGone),
	}}
	users := &fakeUsers{names: map[int64]string{5: "Alice"}}
	fx := newFixture(t, users, &fakeLookup{}, sender, "111", "222", "333")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 1, SenderID: 5, Text: "hello",
	})

	delivered := []string{}
	for _, call := range sender.calls {
		delivered = append(delivered, call.ChatID)
	}
	if diff := cmp.Diff([]string{"111", "333"}, delivered); diff != "" {
		t.Errorf("unexpected deliveries (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"111", "333"}, fx.registry.Snapshot()); diff != "" {
		t.Errorf("registry should drop the vanished chat (-want +got):\n%s", diff)
	}
}

func TestDispatcher_OtherSendErrorKeepsRegistration(t *testing.T) {
	sender := &fakeSender{errFor: map[string]error{
		"222": errors.New("timeout"),
	}}
	fx := newFixture(t, &fakeUsers{}, &fakeLookup{}, sender, "111", "222")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 1, SenderID: 5, Text: "hello",
	})

	if diff := cmp.Diff([]string{"111", "222"}, fx.registry.Snapshot()); diff != "" {
		t.Errorf("transient send error must not deregister (-want +got):\n%s", diff)
	}
}

func TestDispatcher_UserLookupFailureFallsBackToID(t *testing.T) {
	sender := &fakeSender{}
	users := &fakeUsers{err: errors.New("backend down")}
	fx := newFixture(t, users, &fakeLookup{}, sender, "111")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 1, SenderID: 987, Text: "hello",
	})

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.calls))
	}
	if !strings.Contains(sender.calls[0].Caption, "ID_987") {
		t.Errorf("caption should carry synthetic name, got %q", sender.calls[0].Caption)
	}
}

func TestDispatcher_FirstAttachmentOnly(t *testing.T) {
	sender := &fakeSender{}
	fx := newFixture(t, &fakeUsers{}, &fakeLookup{}, sender, "111")

	fx.dispatcher.Handle(context.Background(), domain.InboundMessage{
		ID: 42, SenderID: 5,
		Attachments: []domain.Attachment{
			{Kind: domain.AttachmentPhoto, URL: fx.server.URL},
			{Kind: domain.AttachmentPhoto, URL: fx.server.URL + "/second"},
		},
	})

	if len(sender.calls) != 1 {
		t.Fatalf("expected 1 send, got %d", len(sender.calls))
	}
	if sender.calls[0].Filename != "photo_42.jpg" {
		t.Errorf("unexpected filename: %q", sender.calls[0].Filename)
	}
}
