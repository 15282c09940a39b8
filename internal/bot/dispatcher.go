package bot

import (
	"context"
	"log/slog"
	"strings"

	"github.com/warden-bot/warden/internal/identity"
	"github.com/warden-bot/warden/internal/observability"
	"github.com/warden-bot/warden/internal/rbac"
	"github.com/warden-bot/warden/internal/telegram"
)

// Dispatcher routes one inbound update to the matching handler. Failures
// never escape Process: every event is isolated from its siblings and from
// the poll loop.
type Dispatcher struct {
	logger   *slog.Logger
	rbac     *rbac.Service
	registry *Registry
	handlers *Handlers
	metrics  *observability.Metrics
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(logger *slog.Logger, svc *rbac.Service, registry *Registry, handlers *Handlers, metrics *observability.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		rbac:     svc,
		registry: registry,
		handlers: handlers,
		metrics:  metrics,
	}
}

// Process dispatches a single update.
func (d *Dispatcher) Process(ctx context.Context, update *telegram.Update) {
	d.metrics.ObserveUpdate()

	if cb := update.CallbackQuery; cb != nil {
		// The presser's profile, not the pressed message's, is what the
		// operator sync should mirror.
		presser := &telegram.Message{From: cb.From}
		if cb.Message != nil {
			presser.Chat = cb.Message.Chat
			presser.SenderChat = cb.Message.SenderChat
		}
		d.syncOperator(presser, identityOfCallback(cb))
		d.handlers.HandleCallback(ctx, d.rbac, cb)
		return
	}

	msg := identity.MessageOf(update)
	if msg == nil {
		d.logger.Debug("update has no message, skipping", slog.Int64("update", update.UpdateID))
		return
	}
	principal, ok := identity.Resolve(update)
	if !ok {
		d.logger.Debug("no identity for update, skipping", slog.Int64("update", update.UpdateID))
		return
	}
	d.syncOperator(msg, principal)

	command := commandOf(msg.Text)
	if command != "" {
		dispatched, err := d.registry.Dispatch(ctx, command, d.rbac, msg, principal)
		if dispatched {
			outcome := "ok"
			if err != nil {
				outcome = "error"
				d.logger.Error("handler failed",
					slog.String("command", command), slog.Int64("principal", principal), slog.Any("error", err))
			}
			d.metrics.ObserveCommand(command, outcome)
			return
		}
	}

	if d.handlers.ContinueUpload(ctx, msg, principal) {
		return
	}
	d.logger.Debug("no command matched", slog.Int64("update", update.UpdateID), slog.Int64("principal", principal))
}

// syncOperator keeps allow-listed operators' registry entries current on
// every interaction. Persist failures are logged, never fatal.
func (d *Dispatcher) syncOperator(msg *telegram.Message, principal int64) {
	if principal == 0 || !d.rbac.IsOperator(principal) {
		return
	}
	var name string
	var profile rbac.Profile
	if msg != nil {
		name = displayName(msg, principal)
		profile = profileFrom(msg.From)
	}
	if err := d.rbac.SyncOperator(principal, name, profile); err != nil {
		d.logger.Error("operator sync failed", slog.Int64("principal", principal), slog.Any("error", err))
	}
}

func identityOfCallback(cb *telegram.CallbackQuery) int64 {
	id, ok := identity.Resolve(&telegram.Update{CallbackQuery: cb})
	if !ok {
		return 0
	}
	return id
}

// commandOf extracts the leading command token, or empty when the text is
// not a command.
func commandOf(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	// Commands in groups may be addressed as /cmd@botname.
	command, _, _ := strings.Cut(fields[0], "@")
	return command
}
