package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/warden-bot/warden/internal/identity"
	"github.com/warden-bot/warden/internal/rbac"
	"github.com/warden-bot/warden/internal/telegram"
)

// HandleCallback routes an inline-button press: registration approvals go to
// the approval flow, payloads that look like commands are dispatched through
// the registry via a synthetic message, everything else is just acknowledged.
func (h *Handlers) HandleCallback(ctx context.Context, svc *rbac.Service, cb *telegram.CallbackQuery) {
	principal, ok := identity.Resolve(&telegram.Update{CallbackQuery: cb})
	if !ok || cb.Message == nil {
		h.logger.Warn("callback without identity or message", slog.String("callback", cb.ID))
		_ = h.messenger.AnswerCallbackQuery(ctx, cb.ID, "❌ Could not process.")
		return
	}
	chatID := cb.Message.Chat.ID
	h.logger.Info("callback received",
		slog.Int64("principal", principal), slog.Int64("chat", chatID), slog.String("data", cb.Data))

	if action, target, ok := approvalOf(cb.Data); ok {
		h.handleApproval(ctx, svc, cb.ID, action, target, principal, chatID)
		return
	}

	if strings.HasPrefix(cb.Data, "/") {
		synthetic := &telegram.Message{
			MessageID: cb.Message.MessageID,
			Chat:      cb.Message.Chat,
			From:      cb.From,
			Text:      cb.Data,
		}
		_ = h.messenger.AnswerCallbackQuery(ctx, cb.ID, fmt.Sprintf("Running %s…", cb.Data))
		dispatched, err := h.registry.Dispatch(ctx, cb.Data, svc, synthetic, principal)
		if err != nil {
			h.logger.Error("callback command failed",
				slog.String("command", cb.Data), slog.Int64("principal", principal), slog.Any("error", err))
		}
		if !dispatched {
			_ = h.messenger.SendMessage(ctx, chatID, fmt.Sprintf("⚠️ Unknown command: %s", cb.Data), nil)
		}
		return
	}

	h.logger.Debug("unknown callback data", slog.Int64("principal", principal), slog.String("data", cb.Data))
	_ = h.messenger.AnswerCallbackQuery(ctx, cb.ID, "")
}

// approvalOf parses an approval payload of the form "<action>:<target_id>".
func approvalOf(data string) (action, target string, ok bool) {
	action, target, found := strings.Cut(data, ":")
	if !found {
		return "", "", false
	}
	switch action {
	case "approve_member", "promote_mod", "reject":
		return action, target, true
	}
	return "", "", false
}

func (h *Handlers) handleApproval(ctx context.Context, svc *rbac.Service, callbackID, action, target string, adminID, adminChatID int64) {
	targetID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		h.logger.Error("invalid approval target",
			slog.String("action", action), slog.String("target", target), slog.Int64("admin", adminID))
		_ = h.messenger.AnswerCallbackQuery(ctx, callbackID, "❌ Invalid user data.")
		return
	}
	if !svc.HasPermission(adminID, "manage_users") {
		h.logger.Warn("unauthorised approval attempt",
			slog.Int64("admin", adminID), slog.String("action", action), slog.Int64("target", targetID))
		_ = h.messenger.AnswerCallbackQuery(ctx, callbackID, "⛔ You do not have permission to manage users.")
		return
	}

	switch action {
	case "approve_member":
		if err := svc.SetLevel(targetID, rbac.LevelMember, "", rbac.Profile{}); err != nil {
			h.logger.Error("approve failed", slog.Int64("target", targetID), slog.Any("error", err))
			_ = h.messenger.AnswerCallbackQuery(ctx, callbackID, "❌ Approval failed.")
			return
		}
		_ = h.messenger.AnswerCallbackQuery(ctx, callbackID, fmt.Sprintf("✅ User %d approved as Member.", targetID))
		_ = h.messenger.SendMessage(ctx, adminChatID,
			fmt.Sprintf("✅ User %d has been approved as Member (Level %d).", targetID, rbac.LevelMember), nil)
		_ = h.messenger.SendMessage(ctx, targetID, "🎉 Your access has been approved! You are now a Member.", nil)
		h.logger.Info("approved as member", slog.Int64("admin", adminID), slog.Int64("target", targetID))

	case "promote_mod":
		if err := svc.SetLevel(targetID, rbac.LevelModerator, "", rbac.Profile{}); err != nil {
			h.logger.Error("promote failed", slog.Int64("target", targetID), slog.Any("error", err))
			_ = h.messenger.AnswerCallbackQuery(ctx, callbackID, "❌ Promotion failed.")
			return
		}
		_ = h.messenger.AnswerCallbackQuery(ctx, callbackID, fmt.Sprintf("🛡️ User %d promoted to Moderator.", targetID))
		_ = h.messenger.SendMessage(ctx, adminChatID,
			fmt.Sprintf("🛡️ User %d has been promoted to Moderator (Level %d).", targetID, rbac.LevelModerator), nil)
		_ = h.messenger.SendMessage(ctx, targetID, "🎉 You have been promoted to Moderator!", nil)
		h.logger.Info("promoted to moderator", slog.Int64("admin", adminID), slog.Int64("target", targetID))

	case "reject":
		_ = h.messenger.AnswerCallbackQuery(ctx, callbackID, fmt.Sprintf("❌ User %d rejected.", targetID))
		_ = h.messenger.SendMessage(ctx, adminChatID, fmt.Sprintf("❌ User %d has been rejected.", targetID), nil)
		_ = h.messenger.SendMessage(ctx, targetID, "❌ Your access request has been rejected by an admin.", nil)
		h.logger.Info("rejected registration", slog.Int64("admin", adminID), slog.Int64("target", targetID))
	}
}
