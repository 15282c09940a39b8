package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-bot/warden/internal/observability"
	"github.com/warden-bot/warden/internal/rbac"
	"github.com/warden-bot/warden/internal/telegram"
)

func newDispatcherFixture(t *testing.T, users string, operators ...int64) (*fixture, *Dispatcher) {
	t.Helper()
	f := newFixture(t, users, operators...)
	d := NewDispatcher(nil, f.engine, f.registry, f.handlers, observability.NewMetrics())
	return f, d
}

func messageUpdate(updateID, chatID, senderID int64, text string) *telegram.Update {
	return &telegram.Update{
		UpdateID: updateID,
		Message:  textMessage(chatID, senderID, text),
	}
}

func TestProcessRoutesCommand(t *testing.T) {
	f, d := newDispatcherFixture(t, `{"3": {"name": "mod", "level": 50}}`)

	d.Process(context.Background(), messageUpdate(1, 500, 3, "/status"))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Moderator")
}

func TestProcessStripsBotMention(t *testing.T) {
	f, d := newDispatcherFixture(t, `{"3": {"name": "mod", "level": 50}}`)

	d.Process(context.Background(), messageUpdate(1, 500, 3, "/status@warden_bot extra"))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Moderator")
}

func TestProcessSkipsUpdateWithoutPayload(t *testing.T) {
	f, d := newDispatcherFixture(t, `{}`)

	d.Process(context.Background(), &telegram.Update{UpdateID: 2})

	assert.Empty(t, f.messenger.sent)
}

func TestProcessSkipsMessageWithoutIdentity(t *testing.T) {
	f, d := newDispatcherFixture(t, `{}`)

	update := &telegram.Update{
		UpdateID: 3,
		Message: &telegram.Message{
			Chat: telegram.Chat{ID: 500},
			Text: "/status",
		},
	}
	d.Process(context.Background(), update)

	assert.Empty(t, f.messenger.sent)
}

func TestProcessIgnoresPlainChatter(t *testing.T) {
	f, d := newDispatcherFixture(t, `{"3": {"name": "mod", "level": 50}}`)

	d.Process(context.Background(), messageUpdate(4, 500, 3, "hello there"))

	assert.Empty(t, f.messenger.sent)
}

func TestProcessSyncsOperatorOnInteraction(t *testing.T) {
	f, d := newDispatcherFixture(t, `{}`, 77)

	update := &telegram.Update{
		UpdateID: 5,
		Message: &telegram.Message{
			Chat: telegram.Chat{ID: 500},
			From: &telegram.User{ID: 77, FirstName: "Olive", Username: "olive"},
			Text: "hello",
		},
	}
	d.Process(context.Background(), update)

	entry, ok := f.engine.Entry(77)
	require.True(t, ok)
	assert.Equal(t, rbac.LevelSuperAdmin, entry.Level)
	assert.Equal(t, "Olive", entry.Name)
	assert.Equal(t, "olive", entry.Username)
}

func TestProcessSyncsOperatorOnCallback(t *testing.T) {
	f, d := newDispatcherFixture(t, `{}`, 77)

	update := &telegram.Update{
		UpdateID: 6,
		CallbackQuery: &telegram.CallbackQuery{
			ID:   "cb-9",
			From: &telegram.User{ID: 77, FirstName: "Olive"},
			Message: &telegram.Message{
				MessageID: 7,
				Chat:      telegram.Chat{ID: 9000},
			},
			Data: "/status",
		},
	}
	d.Process(context.Background(), update)

	// The presser, not the pressed message's author, gets synced.
	entry, ok := f.engine.Entry(77)
	require.True(t, ok)
	assert.Equal(t, rbac.LevelSuperAdmin, entry.Level)
	assert.Equal(t, "Olive", entry.Name)

	sent := f.messenger.messagesTo(9000)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "SuperAdmin")
}

func TestProcessContinuesPendingUpload(t *testing.T) {
	f, d := newDispatcherFixture(t, `{"5": {"name": "member", "level": 10}}`)
	ctx := context.Background()
	require.NoError(t, f.flows.Begin(ctx, 5, FlowAwaitingUpload))

	update := &telegram.Update{
		UpdateID: 7,
		Message: &telegram.Message{
			Chat:     telegram.Chat{ID: 500},
			From:     &telegram.User{ID: 5},
			Document: &telegram.Document{FileID: "doc-2", FileName: "img.png"},
		},
	}
	d.Process(ctx, update)

	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, "doc-2", f.queue.payloads[0].FileID)
}

func TestProcessAnonymousChannelCommand(t *testing.T) {
	f, d := newDispatcherFixture(t, `{"-100123": {"name": "News", "level": 50, "is_special": true}}`)

	update := &telegram.Update{
		UpdateID: 8,
		ChannelPost: &telegram.Message{
			Chat:       telegram.Chat{ID: 500},
			SenderChat: &telegram.Chat{ID: -100123, Type: "channel", Title: "News"},
			Text:       "/status",
		},
	}
	d.Process(context.Background(), update)

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Moderator")
}

func TestCommandOf(t *testing.T) {
	cases := map[string]string{
		"/kick 600":            "/kick",
		"/status@warden_bot":   "/status",
		"  /help  ":            "/help",
		"hello":                "",
		"":                     "",
		"say /hello elsewhere": "",
	}
	for text, want := range cases {
		assert.Equal(t, want, commandOf(text), "text %q", text)
	}
}
