package exif

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatRecordSortsAndSkipsFileKeys(t *testing.T) {
	record := map[string]any{
		"Model":           "PixelCam 9",
		"ISO":             float64(200),
		"Make":            "Pixel",
		"SourceFile":      "/tmp/exif-123.jpg",
		"Directory":       "/tmp",
		"FileName":        "exif-123.jpg",
		"FilePermissions": "-rw-------",
		"ExifToolVersion": 12.4,
	}

	got := formatRecord(record)
	assert.Equal(t, "ISO: 200\nMake: Pixel\nModel: PixelCam 9", got)
}

func TestFormatRecordEmpty(t *testing.T) {
	assert.Equal(t, "", formatRecord(map[string]any{}))
	assert.Equal(t, "", formatRecord(map[string]any{"SourceFile": "/tmp/x"}))
}

// Extract is covered with a stub binary so the test does not depend on a
// real exiftool install.
func TestExtractRunsBinary(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "exiftool-stub")
	script := `#!/bin/sh
echo '[{"SourceFile": "'"$3"'", "MIMEType": "image/jpeg", "ImageWidth": 1280}]'
`
	require.NoError(t, os.WriteFile(stub, []byte(script), 0o755))

	e := NewExtractor(stub, nil)
	got, err := e.Extract(context.Background(), []byte("fake-jpeg"), "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "ImageWidth: 1280\nMIMEType: image/jpeg", got)
}

func TestExtractMissingBinary(t *testing.T) {
	e := NewExtractor(filepath.Join(t.TempDir(), "missing"), nil)
	_, err := e.Extract(context.Background(), []byte("data"), "photo.jpg")
	require.Error(t, err)
}

func TestExtractNoRecords(t *testing.T) {
	dir := t.TempDir()
	stub := filepath.Join(dir, "exiftool-stub")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\necho '[]'\n"), 0o755))

	e := NewExtractor(stub, nil)
	got, err := e.Extract(context.Background(), []byte("data"), "empty.bin")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
