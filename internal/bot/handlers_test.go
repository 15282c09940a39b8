package bot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-bot/warden/internal/rbac"
	"github.com/warden-bot/warden/internal/telegram"
	"github.com/warden-bot/warden/jobs"
)

const testRules = `{
  "roles": [
    {"level": 0, "name": "Guest", "actions": ["view_help"]},
    {"level": 10, "name": "Member", "actions": ["view_help", "extract_metadata"]},
    {"level": 50, "name": "Moderator", "actions": ["view_help", "kick_user"]},
    {"level": 100, "name": "SuperAdmin", "actions": ["*"]}
  ]
}`

type sentMessage struct {
	ChatID int64
	Text   string
	Markup *telegram.InlineKeyboardMarkup
}

type ban struct {
	ChatID int64
	UserID int64
}

// recordingMessenger captures every outbound action for assertions.
type recordingMessenger struct {
	mu      sync.Mutex
	sent    []sentMessage
	acks    []string
	bans    []ban
	banErr  error
	sendErr error
}

func (m *recordingMessenger) SendMessage(_ context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{ChatID: chatID, Text: text, Markup: markup})
	return m.sendErr
}

func (m *recordingMessenger) AnswerCallbackQuery(_ context.Context, _ string, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acks = append(m.acks, text)
	return nil
}

func (m *recordingMessenger) BanChatMember(_ context.Context, chatID, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.banErr != nil {
		return m.banErr
	}
	m.bans = append(m.bans, ban{ChatID: chatID, UserID: userID})
	return nil
}

func (m *recordingMessenger) GetFile(_ context.Context, fileID string) (*telegram.File, error) {
	return &telegram.File{FileID: fileID, FilePath: "files/" + fileID}, nil
}

func (m *recordingMessenger) DownloadFile(_ context.Context, _ string) ([]byte, error) {
	return []byte("bytes"), nil
}

func (m *recordingMessenger) messagesTo(chatID int64) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, msg := range m.sent {
		if msg.ChatID == chatID {
			out = append(out, msg)
		}
	}
	return out
}

type recordingQueue struct {
	payloads []jobs.ExtractPayload
	err      error
}

func (q *recordingQueue) EnqueueExtract(_ context.Context, payload jobs.ExtractPayload) error {
	if q.err != nil {
		return q.err
	}
	q.payloads = append(q.payloads, payload)
	return nil
}

func newTestEngine(t *testing.T, users string, operators ...int64) *rbac.Service {
	t.Helper()
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "db_rules.json")
	usersPath := filepath.Join(dir, "db_users.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(testRules), 0o644))
	require.NoError(t, os.WriteFile(usersPath, []byte(users), 0o644))

	table, err := rbac.LoadRoleTable(rulesPath)
	require.NoError(t, err)
	registry, err := rbac.OpenRegistry(usersPath)
	require.NoError(t, err)
	return rbac.NewService(nil, table, registry, operators)
}

type fixture struct {
	engine    *rbac.Service
	messenger *recordingMessenger
	handlers  *Handlers
	registry  *Registry
	flows     *MemoryFlowStore
	queue     *recordingQueue
}

func newFixture(t *testing.T, users string, operators ...int64) *fixture {
	t.Helper()
	engine := newTestEngine(t, users, operators...)
	messenger := &recordingMessenger{}
	flows := NewMemoryFlowStore(10 * time.Minute)
	queue := &recordingQueue{}
	handlers := NewHandlers(HandlersConfig{
		Messenger: messenger,
		Flows:     flows,
		Queue:     queue,
	})
	registry := NewRegistry()
	handlers.RegisterAll(registry)
	return &fixture{
		engine:    engine,
		messenger: messenger,
		handlers:  handlers,
		registry:  registry,
		flows:     flows,
		queue:     queue,
	}
}

func textMessage(chatID, senderID int64, text string) *telegram.Message {
	return &telegram.Message{
		MessageID: 1,
		Chat:      telegram.Chat{ID: chatID},
		From:      &telegram.User{ID: senderID, FirstName: "Sam", Username: "sam"},
		Text:      text,
	}
}

func TestStartRegistersNewGuestAndAlertsSuperadmins(t *testing.T) {
	f := newFixture(t, `{"1": {"name": "root", "level": 100}, "2": {"name": "root2", "level": 100}}`)

	msg := textMessage(500, 999, "/start")
	require.NoError(t, f.handlers.Start(context.Background(), f.engine, msg, 999))

	entry, ok := f.engine.Entry(999)
	require.True(t, ok)
	assert.Equal(t, rbac.LevelGuest, entry.Level)
	assert.Equal(t, "Sam", entry.Name)
	assert.Equal(t, "sam", entry.Username)

	welcome := f.messenger.messagesTo(500)
	require.Len(t, welcome, 1)
	assert.Contains(t, welcome[0].Text, "registered as a Guest")

	for _, adminID := range []int64{1, 2} {
		alerts := f.messenger.messagesTo(adminID)
		require.Len(t, alerts, 1, "admin %d", adminID)
		assert.Contains(t, alerts[0].Text, "999")
		require.NotNil(t, alerts[0].Markup)
		require.Len(t, alerts[0].Markup.InlineKeyboard, 2)
		assert.Equal(t, "approve_member:999", alerts[0].Markup.InlineKeyboard[0][0].CallbackData)
		assert.Equal(t, "promote_mod:999", alerts[0].Markup.InlineKeyboard[0][1].CallbackData)
		assert.Equal(t, "reject:999", alerts[0].Markup.InlineKeyboard[1][0].CallbackData)
	}
}

func TestStartGreetsReturningUser(t *testing.T) {
	f := newFixture(t, `{"999": {"name": "Sam", "level": 50}}`)

	msg := textMessage(500, 999, "/start")
	require.NoError(t, f.handlers.Start(context.Background(), f.engine, msg, 999))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Welcome back")
	assert.Contains(t, sent[0].Text, "Moderator")
	// No re-registration, no admin alert.
	assert.Len(t, f.messenger.sent, 1)
}

func TestHelpListsOnlyPermittedCommands(t *testing.T) {
	f := newFixture(t, `{"3": {"name": "mod", "level": 50}}`)

	msg := textMessage(500, 3, "/help")
	require.NoError(t, f.handlers.Help(context.Background(), f.engine, msg, 3))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].Markup)

	var listed []string
	for _, row := range sent[0].Markup.InlineKeyboard {
		for _, button := range row {
			listed = append(listed, button.CallbackData)
		}
	}
	assert.Contains(t, listed, "/kick")
	assert.Contains(t, listed, "/start")
	assert.Contains(t, listed, "/stop")
	assert.NotContains(t, listed, "/promote")
	assert.NotContains(t, listed, "/exif")
}

func TestHelpWithNoPermissions(t *testing.T) {
	f := newFixture(t, `{"8": {"name": "limbo", "level": 33}}`)

	msg := textMessage(500, 8, "/help")
	require.NoError(t, f.handlers.Help(context.Background(), f.engine, msg, 8))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "no available commands")
	assert.Nil(t, sent[0].Markup)
}

func TestStatusReportsRoleLevelAndActions(t *testing.T) {
	f := newFixture(t, `{"3": {"name": "mod", "level": 50, "language_code": "de"}}`)

	msg := textMessage(500, 3, "/status")
	require.NoError(t, f.handlers.Status(context.Background(), f.engine, msg, 3))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Moderator")
	assert.Contains(t, sent[0].Text, "Level: 50")
	assert.Contains(t, sent[0].Text, "kick_user")
	assert.Contains(t, sent[0].Text, "German")
}

func TestKickDeniedWithoutPermission(t *testing.T) {
	f := newFixture(t, `{"4": {"name": "guest", "level": 0}, "600": {"name": "target", "level": 10}}`)

	msg := textMessage(500, 4, "/kick 600")
	require.NoError(t, f.handlers.Kick(context.Background(), f.engine, msg, 4))

	assert.Empty(t, f.messenger.bans)
	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "do not have permission")

	entry, _ := f.engine.Entry(600)
	assert.Equal(t, rbac.LevelMember, entry.Level)
}

func TestKickUsageOnMissingArgument(t *testing.T) {
	f := newFixture(t, `{"3": {"name": "mod", "level": 50}}`)

	msg := textMessage(500, 3, "/kick")
	require.NoError(t, f.handlers.Kick(context.Background(), f.engine, msg, 3))

	assert.Empty(t, f.messenger.bans)
	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Usage: /kick")
}

func TestKickRejectsNonNumericTarget(t *testing.T) {
	f := newFixture(t, `{"3": {"name": "mod", "level": 50}}`)

	msg := textMessage(500, 3, "/kick bob")
	require.NoError(t, f.handlers.Kick(context.Background(), f.engine, msg, 3))

	assert.Empty(t, f.messenger.bans)
	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "must be an integer")
}

func TestKickBansAndConfirms(t *testing.T) {
	f := newFixture(t, `{"3": {"name": "mod", "level": 50}}`)

	msg := textMessage(500, 3, "/kick 600")
	require.NoError(t, f.handlers.Kick(context.Background(), f.engine, msg, 3))

	require.Len(t, f.messenger.bans, 1)
	assert.Equal(t, ban{ChatID: 500, UserID: 600}, f.messenger.bans[0])
	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "has been kicked")
}

func TestKickApologizesOnAPIFailure(t *testing.T) {
	f := newFixture(t, `{"3": {"name": "mod", "level": 50}}`)
	f.messenger.banErr = fmt.Errorf("boom")

	msg := textMessage(500, 3, "/kick 600")
	require.NoError(t, f.handlers.Kick(context.Background(), f.engine, msg, 3))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Could not kick")
}

func TestPromoteSetsLevel(t *testing.T) {
	f := newFixture(t, `{"9": {"name": "root", "level": 100}}`)

	msg := textMessage(500, 9, "/promote 600 50")
	require.NoError(t, f.handlers.Promote(context.Background(), f.engine, msg, 9))

	assert.Equal(t, rbac.LevelModerator, f.engine.LevelOf(600))
	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "promoted to level 50")
}

func TestPromoteRejectsTopTier(t *testing.T) {
	f := newFixture(t, `{"9": {"name": "root", "level": 100}}`)

	msg := textMessage(500, 9, "/promote 600 100")
	require.NoError(t, f.handlers.Promote(context.Background(), f.engine, msg, 9))

	assert.Equal(t, rbac.LevelGuest, f.engine.LevelOf(600))
	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Text, "Cannot promote")
}

func TestPromoteUsageOnMalformedArguments(t *testing.T) {
	f := newFixture(t, `{"9": {"name": "root", "level": 100}}`)

	for _, text := range []string{"/promote", "/promote 600", "/promote six hundred"} {
		msg := textMessage(500, 9, text)
		require.NoError(t, f.handlers.Promote(context.Background(), f.engine, msg, 9))
	}
	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 3)
	for i, msg := range sent {
		if i < 2 {
			assert.Contains(t, msg.Text, "Usage: /promote")
		} else {
			assert.Contains(t, msg.Text, "must be integers")
		}
	}
}

func TestExifDeniedWithoutPermission(t *testing.T) {
	f := newFixture(t, `{"4": {"name": "guest", "level": 0}}`)

	msg := textMessage(500, 4, "/exif")
	require.NoError(t, f.handlers.Exif(context.Background(), f.engine, msg, 4))

	_, pending, err := f.flows.Pending(context.Background(), 4)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestExifBeginsFlowAndEnqueuesUpload(t *testing.T) {
	f := newFixture(t, `{"5": {"name": "member", "level": 10}}`)
	ctx := context.Background()

	msg := textMessage(500, 5, "/exif")
	require.NoError(t, f.handlers.Exif(ctx, f.engine, msg, 5))

	kind, pending, err := f.flows.Pending(ctx, 5)
	require.NoError(t, err)
	require.True(t, pending)
	assert.Equal(t, FlowAwaitingUpload, kind)

	upload := &telegram.Message{
		Chat:     telegram.Chat{ID: 500},
		From:     &telegram.User{ID: 5},
		Document: &telegram.Document{FileID: "doc-1", FileName: "report.pdf"},
	}
	assert.True(t, f.handlers.ContinueUpload(ctx, upload, 5))

	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, jobs.ExtractPayload{
		ChatID:    500,
		Principal: 5,
		FileID:    "doc-1",
		FileName:  "report.pdf",
	}, f.queue.payloads[0])

	// Flow is consumed: a second upload does nothing.
	_, pending, err = f.flows.Pending(ctx, 5)
	require.NoError(t, err)
	assert.False(t, pending)
	assert.False(t, f.handlers.ContinueUpload(ctx, upload, 5))
}

func TestContinueUploadPicksLargestPhoto(t *testing.T) {
	f := newFixture(t, `{"5": {"name": "member", "level": 10}}`)
	ctx := context.Background()
	require.NoError(t, f.flows.Begin(ctx, 5, FlowAwaitingUpload))

	upload := &telegram.Message{
		Chat: telegram.Chat{ID: 500},
		From: &telegram.User{ID: 5},
		Photo: []telegram.PhotoSize{
			{FileID: "small", Width: 90, Height: 90},
			{FileID: "large", Width: 1280, Height: 960},
			{FileID: "medium", Width: 320, Height: 240},
		},
	}
	require.True(t, f.handlers.ContinueUpload(ctx, upload, 5))
	require.Len(t, f.queue.payloads, 1)
	assert.Equal(t, "large", f.queue.payloads[0].FileID)
	assert.Equal(t, "photo.jpg", f.queue.payloads[0].FileName)
}

func TestContinueUploadIgnoresTextWhileAwaiting(t *testing.T) {
	f := newFixture(t, `{"5": {"name": "member", "level": 10}}`)
	ctx := context.Background()
	require.NoError(t, f.flows.Begin(ctx, 5, FlowAwaitingUpload))

	assert.False(t, f.handlers.ContinueUpload(ctx, textMessage(500, 5, "just chatting"), 5))

	// Flow stays pending for the actual upload.
	_, pending, err := f.flows.Pending(ctx, 5)
	require.NoError(t, err)
	assert.True(t, pending)
}

func TestStopEndsSessionWithoutEngine(t *testing.T) {
	f := newFixture(t, `{}`)

	msg := textMessage(500, 4, "/stop")
	require.NoError(t, f.handlers.Stop(context.Background(), nil, msg, 4))

	sent := f.messenger.messagesTo(500)
	require.Len(t, sent, 1)
	assert.True(t, strings.Contains(sent[0].Text, "Session ended"))
}
