package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/warden-bot/warden/internal/observability"
	"github.com/warden-bot/warden/internal/telegram"
)

// UpdateSource is the inbound surface of the messaging API.
// *telegram.Client satisfies it.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64) ([]telegram.Update, error)
}

// Poller runs the long-poll loop: one strictly ordered batch per cycle, each
// update fanned out as an independent concurrent task. A failed or malformed
// poll backs off for a fixed delay before retrying.
type Poller struct {
	logger     *slog.Logger
	source     UpdateSource
	dispatcher *Dispatcher
	metrics    *observability.Metrics
	retryDelay time.Duration
}

// NewPoller constructs a Poller.
func NewPoller(logger *slog.Logger, source UpdateSource, dispatcher *Dispatcher, metrics *observability.Metrics, retryDelay time.Duration) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	return &Poller{
		logger:     logger,
		source:     source,
		dispatcher: dispatcher,
		metrics:    metrics,
		retryDelay: retryDelay,
	}
}

// Run polls until the context is cancelled. It only ever returns the
// context's error: per-update failures are contained by the dispatcher and
// poll failures are retried forever.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller started")
	var offset int64
	for {
		updates, err := p.poll(ctx, offset)
		if err != nil {
			// Only context cancellation survives the retry policy.
			return err
		}
		if len(updates) == 0 {
			continue
		}

		// The offset advances in batch order before fan-out so a crashed
		// handler can never cause a redelivery loop.
		for i := range updates {
			if updates[i].UpdateID >= offset {
				offset = updates[i].UpdateID + 1
			}
		}

		cycle := p.logger.With(slog.String("cycle", uuid.NewString()))
		cycle.Debug("received updates", slog.Int("count", len(updates)))
		var group errgroup.Group
		for i := range updates {
			update := &updates[i]
			group.Go(func() error {
				defer func() {
					if r := recover(); r != nil {
						cycle.Error("handler panic", slog.Int64("update", update.UpdateID), slog.Any("panic", r))
					}
				}()
				p.dispatcher.Process(ctx, update)
				return nil
			})
		}
		_ = group.Wait()
	}
}

func (p *Poller) poll(ctx context.Context, offset int64) ([]telegram.Update, error) {
	policy := backoff.WithContext(backoff.NewConstantBackOff(p.retryDelay), ctx)
	return backoff.RetryNotifyWithData(func() ([]telegram.Update, error) {
		return p.source.GetUpdates(ctx, offset)
	}, policy, func(err error, delay time.Duration) {
		p.metrics.ObservePollFailure()
		p.logger.Warn("poll failed, backing off",
			slog.Duration("delay", delay), slog.Any("error", err))
	})
}
