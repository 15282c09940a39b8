package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/warden-bot/warden/internal/telegram"
)

// FileAPI is the slice of the messaging client the runner needs: resolving
// and downloading the uploaded file, and replying with the result.
type FileAPI interface {
	GetFile(ctx context.Context, fileID string) (*telegram.File, error)
	DownloadFile(ctx context.Context, filePath string) ([]byte, error)
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.InlineKeyboardMarkup) error
}

// Extractor turns raw file bytes into human-readable metadata.
type Extractor interface {
	Extract(ctx context.Context, data []byte, filename string) (string, error)
}

// Runner executes one metadata extraction end to end. It is shared between
// the queue worker and the direct fallback path used when no queue is
// available.
type Runner struct {
	Files     FileAPI
	Extractor Extractor
	Logger    *slog.Logger
}

// Run downloads the file, extracts its metadata, and sends the result to the
// originating chat. A failure after the download stage still produces an
// apology message for the waiting user.
func (r *Runner) Run(ctx context.Context, payload ExtractPayload) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	file, err := r.Files.GetFile(ctx, payload.FileID)
	if err != nil {
		r.apologize(ctx, payload.ChatID)
		return fmt.Errorf("jobs: resolve file %s: %w", payload.FileID, err)
	}
	data, err := r.Files.DownloadFile(ctx, file.FilePath)
	if err != nil {
		r.apologize(ctx, payload.ChatID)
		return fmt.Errorf("jobs: download %s: %w", file.FilePath, err)
	}
	metadata, err := r.Extractor.Extract(ctx, data, payload.FileName)
	if err != nil {
		r.apologize(ctx, payload.ChatID)
		return fmt.Errorf("jobs: extract metadata: %w", err)
	}
	text := "📂 No metadata found in that file."
	if metadata != "" {
		text = "📂 Extracted metadata:\n" + metadata
	}
	if err := r.Files.SendMessage(ctx, payload.ChatID, text, nil); err != nil {
		return fmt.Errorf("jobs: send result: %w", err)
	}
	logger.Info("metadata extraction finished",
		slog.Int64("principal", payload.Principal), slog.Int64("chat", payload.ChatID))
	return nil
}

func (r *Runner) apologize(ctx context.Context, chatID int64) {
	_ = r.Files.SendMessage(ctx, chatID, "❌ Sorry, I could not extract metadata from that file.", nil)
}
