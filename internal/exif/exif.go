// Package exif shells out to the exiftool binary to extract file metadata.
package exif

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Skipped exiftool keys that describe the temp file rather than the upload.
var skippedKeys = map[string]struct{}{
	"SourceFile":      {},
	"Directory":       {},
	"FileName":        {},
	"FilePermissions": {},
	"ExifToolVersion": {},
}

// Extractor runs exiftool against uploaded file content.
type Extractor struct {
	binPath string
	timeout time.Duration
	logger  *slog.Logger
}

// NewExtractor constructs an Extractor for the given exiftool binary.
func NewExtractor(binPath string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		binPath: binPath,
		timeout: 20 * time.Second,
		logger:  logger,
	}
}

// Extract writes data to a temporary file, runs exiftool on it, and returns
// the metadata as sorted "key: value" lines. The filename only supplies the
// extension so exiftool applies the right parser.
func (e *Extractor) Extract(ctx context.Context, data []byte, filename string) (string, error) {
	tmp, err := os.CreateTemp("", "exif-*"+filepath.Ext(filename))
	if err != nil {
		return "", fmt.Errorf("exif: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("exif: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("exif: close temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, e.binPath, "-json", "-quiet", tmpName)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		e.logger.Error("exiftool failed",
			slog.String("bin", e.binPath), slog.String("stderr", stderr.String()), slog.Any("error", err))
		return "", fmt.Errorf("exif: run exiftool: %w", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &records); err != nil {
		return "", fmt.Errorf("exif: parse exiftool output: %w", err)
	}
	if len(records) == 0 {
		return "", nil
	}
	return formatRecord(records[0]), nil
}

func formatRecord(record map[string]any) string {
	keys := make([]string, 0, len(record))
	for key := range record {
		if _, skip := skippedKeys[key]; skip {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		fmt.Fprintf(&b, "%s: %v\n", key, record[key])
	}
	return strings.TrimRight(b.String(), "\n")
}
