// Package identity resolves inbound updates to a stable principal id.
//
// Negative ids are a permanent convention: they mark a group or channel
// acting as itself (an anonymous admin posting as the group, or a channel
// post) rather than an identifiable human member.
package identity

import "github.com/warden-bot/warden/internal/telegram"

// Resolve maps an update to a principal id. The second return value is false
// when no identity can be determined; callers must silently skip such
// updates rather than surface an error.
func Resolve(update *telegram.Update) (int64, bool) {
	if update == nil {
		return 0, false
	}
	if cb := update.CallbackQuery; cb != nil {
		// A button pressed on a message the group posted as itself acts
		// on behalf of the group, not the pressing member.
		if cb.Message != nil && cb.Message.SenderChat != nil {
			return cb.Message.SenderChat.ID, true
		}
		if cb.From != nil {
			return cb.From.ID, true
		}
		return 0, false
	}
	msg := MessageOf(update)
	if msg == nil {
		return 0, false
	}
	if msg.SenderChat != nil {
		return msg.SenderChat.ID, true
	}
	if msg.From != nil {
		return msg.From.ID, true
	}
	return 0, false
}

// MessageOf returns the first message-like payload of the update, in the
// fixed priority order new message, edited message, channel post, edited
// channel post. Nil when the update carries none.
func MessageOf(update *telegram.Update) *telegram.Message {
	if update == nil {
		return nil
	}
	switch {
	case update.Message != nil:
		return update.Message
	case update.EditedMessage != nil:
		return update.EditedMessage
	case update.ChannelPost != nil:
		return update.ChannelPost
	case update.EditedChannelPost != nil:
		return update.EditedChannelPost
	}
	return nil
}
