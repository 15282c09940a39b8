package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/warden-bot/warden/internal/rbac"
	"github.com/warden-bot/warden/internal/telegram"
	"github.com/warden-bot/warden/jobs"
)

// Messenger is the outbound surface of the messaging API used by handlers.
// *telegram.Client satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
	BanChatMember(ctx context.Context, chatID, userID int64) error
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
}

// MetadataQueue enqueues extraction work for background processing.
// *jobs.Client satisfies it.
type MetadataQueue interface {
	EnqueueExtract(ctx context.Context, payload jobs.ExtractPayload) error
}

// Handlers implements the command handlers. Each gated handler performs its
// own permission check and emits its own denial message.
type Handlers struct {
	logger    *slog.Logger
	messenger Messenger
	flows     FlowStore
	registry  *Registry
	// queue is preferred for extraction work; runner is the direct path
	// used when no queue is configured.
	queue  MetadataQueue
	runner *jobs.Runner
}

// HandlersConfig collects the collaborators the handlers depend on.
type HandlersConfig struct {
	Logger    *slog.Logger
	Messenger Messenger
	Flows     FlowStore
	Queue     MetadataQueue
	Runner    *jobs.Runner
}

// NewHandlers constructs the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		logger:    logger,
		messenger: cfg.Messenger,
		flows:     cfg.Flows,
		queue:     cfg.Queue,
		runner:    cfg.Runner,
	}
}

// RegisterAll binds every command into the registry as one explicit,
// deterministic startup step.
func (h *Handlers) RegisterAll(registry *Registry) {
	h.registry = registry
	for _, entry := range []Entry{
		{Name: "/start", Action: "view_help", Description: "Register and request access", GateIdentity: true, Handler: h.Start},
		{Name: "/help", Action: "view_help", Description: "Show available commands", GateIdentity: true, Handler: h.Help},
		{Name: "/status", Action: "view_help", Description: "View your rank and permissions", GateIdentity: true, Handler: h.Status},
		{Name: "/kick", Action: "kick_user", Description: "Kick a user from the chat", GateIdentity: true, Handler: h.Kick},
		{Name: "/promote", Action: "manage_users", Description: "Set a user's level", GateIdentity: true, Handler: h.Promote},
		{Name: "/exif", Action: "extract_metadata", Description: "Extract metadata from your next upload", GateIdentity: true, Handler: h.Exif},
		{Name: "/stop", Action: "view_help", Description: "End your session", GateIdentity: false, Handler: h.Stop},
		{Name: "/exit", Action: "view_help", Description: "End your session", GateIdentity: false, Handler: h.Stop},
	} {
		registry.Register(entry)
	}
}

// Start registers a new principal as Guest and alerts the superadmins, or
// greets a returning one.
func (h *Handlers) Start(ctx context.Context, svc *rbac.Service, msg *telegram.Message, principal int64) error {
	chatID := msg.Chat.ID
	name := displayName(msg, principal)

	if _, exists := svc.Entry(principal); exists {
		roleName := svc.RoleNameOf(principal)
		return h.messenger.SendMessage(ctx, chatID,
			fmt.Sprintf("👋 Welcome back, %s! Your current role is %s.", name, roleName), nil)
	}

	if err := svc.SetLevel(principal, rbac.LevelGuest, name, profileFrom(msg.From)); err != nil {
		h.logger.Error("register guest", slog.Int64("principal", principal), slog.Any("error", err))
		return h.messenger.SendMessage(ctx, chatID, "❌ Registration failed, please try again later.", nil)
	}
	if err := h.messenger.SendMessage(ctx, chatID,
		fmt.Sprintf("👋 Welcome, %s! You have been registered as a Guest.\n⏳ Your access is pending admin approval.", name), nil); err != nil {
		return err
	}

	markup := &telegram.InlineKeyboardMarkup{
		InlineKeyboard: [][]telegram.InlineKeyboardButton{
			{
				{Text: "✅ Approve (Member)", CallbackData: fmt.Sprintf("approve_member:%d", principal)},
				{Text: "🛡️ Promote (Mod)", CallbackData: fmt.Sprintf("promote_mod:%d", principal)},
			},
			{
				{Text: "❌ Reject", CallbackData: fmt.Sprintf("reject:%d", principal)},
			},
		},
	}
	alert := fmt.Sprintf("🆕 New user registration:\nName: %s\nUser ID: %d\n\nPlease approve or reject this user.", name, principal)
	for _, adminID := range svc.Superadmins() {
		if err := h.messenger.SendMessage(ctx, adminID, alert, markup); err != nil {
			h.logger.Warn("approval alert failed",
				slog.Int64("admin", adminID), slog.Int64("principal", principal), slog.Any("error", err))
		}
	}
	return nil
}

// Help lists the commands the caller may use as tappable buttons.
func (h *Handlers) Help(ctx context.Context, svc *rbac.Service, msg *telegram.Message, principal int64) error {
	var rows [][]telegram.InlineKeyboardButton
	for _, entry := range h.registry.Entries() {
		if !svc.HasPermission(principal, entry.Action) {
			continue
		}
		rows = append(rows, []telegram.InlineKeyboardButton{{
			Text:         fmt.Sprintf("%s — %s", entry.Name, entry.Description),
			CallbackData: entry.Name,
		}})
	}
	if len(rows) == 0 {
		return h.messenger.SendMessage(ctx, msg.Chat.ID, "⛔ You have no available commands.", nil)
	}
	return h.messenger.SendMessage(ctx, msg.Chat.ID, "📖 Available commands (tap to use):",
		&telegram.InlineKeyboardMarkup{InlineKeyboard: rows})
}

// Status reports the caller's role, level, and permitted actions.
func (h *Handlers) Status(ctx context.Context, svc *rbac.Service, msg *telegram.Message, principal int64) error {
	level := svc.LevelOf(principal)
	roleName := svc.RoleNameOf(principal)
	actions := svc.ActionsOf(principal)
	actionsText := "None"
	if len(actions) > 0 {
		actionsText = strings.Join(actions, ", ")
	}
	text := fmt.Sprintf("📊 Your status:\n• Role: %s\n• Level: %d\n• Permissions: %s", roleName, level, actionsText)
	if entry, ok := svc.Entry(principal); ok && entry.LanguageCode != "" {
		if name := languageName(entry.LanguageCode); name != "" {
			text += fmt.Sprintf("\n• Language: %s", name)
		}
	}
	return h.messenger.SendMessage(ctx, msg.Chat.ID, text, nil)
}

// Stop ends the session. Available to everyone, so it never sees the engine.
func (h *Handlers) Stop(ctx context.Context, _ *rbac.Service, msg *telegram.Message, principal int64) error {
	h.logger.Info("session ended", slog.Int64("principal", principal))
	return h.messenger.SendMessage(ctx, msg.Chat.ID, "👋 Session ended. Use /start to begin again.", nil)
}

// Kick removes a member from the chat. Usage: /kick <user_id>.
func (h *Handlers) Kick(ctx context.Context, svc *rbac.Service, msg *telegram.Message, principal int64) error {
	chatID := msg.Chat.ID
	if !svc.HasPermission(principal, "kick_user") {
		return h.messenger.SendMessage(ctx, chatID, "⛔ You do not have permission to kick users.", nil)
	}
	parts := strings.Fields(msg.Text)
	if len(parts) < 2 {
		return h.messenger.SendMessage(ctx, chatID, "Usage: /kick <user_id>", nil)
	}
	targetID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return h.messenger.SendMessage(ctx, chatID, "❌ Invalid user_id. It must be an integer.", nil)
	}
	if err := h.messenger.BanChatMember(ctx, chatID, targetID); err != nil {
		h.logger.Error("kick failed",
			slog.Int64("principal", principal), slog.Int64("target", targetID), slog.Any("error", err))
		return h.messenger.SendMessage(ctx, chatID, "❌ Could not kick user.", nil)
	}
	h.logger.Info("kicked member",
		slog.Int64("principal", principal), slog.Int64("target", targetID), slog.Int64("chat", chatID))
	return h.messenger.SendMessage(ctx, chatID, fmt.Sprintf("✅ User %d has been kicked.", targetID), nil)
}

// Promote sets a target's level. Usage: /promote <user_id> <level>. Levels at
// or above the top tier are reserved for the operator allow-list sync.
func (h *Handlers) Promote(ctx context.Context, svc *rbac.Service, msg *telegram.Message, principal int64) error {
	chatID := msg.Chat.ID
	if !svc.HasPermission(principal, "manage_users") {
		return h.messenger.SendMessage(ctx, chatID, "⛔ You do not have permission to manage users.", nil)
	}
	parts := strings.Fields(msg.Text)
	if len(parts) < 3 {
		return h.messenger.SendMessage(ctx, chatID, "Usage: /promote <user_id> <level>", nil)
	}
	targetID, errID := strconv.ParseInt(parts[1], 10, 64)
	level, errLevel := strconv.Atoi(parts[2])
	if errID != nil || errLevel != nil {
		return h.messenger.SendMessage(ctx, chatID, "❌ Invalid arguments. user_id and level must be integers.", nil)
	}
	if level >= rbac.LevelSuperAdmin {
		return h.messenger.SendMessage(ctx, chatID,
			fmt.Sprintf("❌ Cannot promote to level %d or above.", rbac.LevelSuperAdmin), nil)
	}
	if err := svc.SetLevel(targetID, level, "", rbac.Profile{}); err != nil {
		h.logger.Error("promote failed",
			slog.Int64("principal", principal), slog.Int64("target", targetID), slog.Any("error", err))
		return h.messenger.SendMessage(ctx, chatID, "❌ Promotion failed, please try again later.", nil)
	}
	return h.messenger.SendMessage(ctx, chatID,
		fmt.Sprintf("✅ User %d promoted to level %d.", targetID, level), nil)
}

// Exif marks the caller as awaiting an upload; the next photo or document
// they send is run through metadata extraction.
func (h *Handlers) Exif(ctx context.Context, svc *rbac.Service, msg *telegram.Message, principal int64) error {
	chatID := msg.Chat.ID
	if !svc.HasPermission(principal, "extract_metadata") {
		return h.messenger.SendMessage(ctx, chatID, "⛔ You do not have permission to extract metadata.", nil)
	}
	if err := h.flows.Begin(ctx, principal, FlowAwaitingUpload); err != nil {
		h.logger.Error("flow begin", slog.Int64("principal", principal), slog.Any("error", err))
		return h.messenger.SendMessage(ctx, chatID, "❌ Something went wrong, please try again later.", nil)
	}
	return h.messenger.SendMessage(ctx, chatID, "📎 Send me a photo or document and I will extract its metadata.", nil)
}

// ContinueUpload handles a non-command message from a principal who is
// mid-flow. Returns false when the message did not continue any flow.
func (h *Handlers) ContinueUpload(ctx context.Context, msg *telegram.Message, principal int64) bool {
	kind, pending, err := h.flows.Pending(ctx, principal)
	if err != nil {
		h.logger.Warn("flow lookup", slog.Int64("principal", principal), slog.Any("error", err))
		return false
	}
	if !pending || kind != FlowAwaitingUpload {
		return false
	}

	fileID, fileName := uploadOf(msg)
	if fileID == "" {
		return false
	}
	_ = h.flows.Clear(ctx, principal)

	payload := jobs.ExtractPayload{
		ChatID:    msg.Chat.ID,
		Principal: principal,
		FileID:    fileID,
		FileName:  fileName,
	}
	if h.queue != nil {
		if err := h.queue.EnqueueExtract(ctx, payload); err == nil {
			_ = h.messenger.SendMessage(ctx, msg.Chat.ID, "🔍 Extracting metadata…", nil)
			return true
		}
		h.logger.Warn("enqueue extract failed, running inline",
			slog.Int64("principal", principal), slog.Any("error", err))
	}
	if h.runner == nil {
		_ = h.messenger.SendMessage(ctx, msg.Chat.ID, "❌ Metadata extraction is not available right now.", nil)
		return true
	}
	if err := h.runner.Run(ctx, payload); err != nil {
		h.logger.Error("inline extraction failed",
			slog.Int64("principal", principal), slog.Any("error", err))
	}
	return true
}

func uploadOf(msg *telegram.Message) (fileID, fileName string) {
	if msg.Document != nil {
		name := msg.Document.FileName
		if name == "" {
			name = "document"
		}
		return msg.Document.FileID, name
	}
	if photo := msg.LargestPhoto(); photo != nil {
		return photo.FileID, "photo.jpg"
	}
	return "", ""
}

// displayName derives a best-effort human label for a principal: the
// sender's first name, a channel/group title, or the decimal id.
func displayName(msg *telegram.Message, principal int64) string {
	if msg.From != nil && msg.From.FirstName != "" {
		return msg.From.FirstName
	}
	if msg.SenderChat != nil && msg.SenderChat.Title != "" {
		return msg.SenderChat.Title
	}
	return strconv.FormatInt(principal, 10)
}

// profileFrom collects the optional rich fields from a sender, if present.
func profileFrom(user *telegram.User) rbac.Profile {
	if user == nil {
		return rbac.Profile{}
	}
	return rbac.Profile{
		Username:     user.Username,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		LanguageCode: user.LanguageCode,
		IsPremium:    user.IsPremium,
	}
}

// languageName renders a stored language code as its English display name,
// or empty when the code does not parse.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	return display.English.Languages().Name(tag)
}
