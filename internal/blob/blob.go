// Package blob reads and writes whole objects named by a local path or a
// gs://bucket/object URL.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const gcsScheme = "gs://"

// ErrBadLocation is returned for a gs:// URL without a bucket or object.
var ErrBadLocation = errors.New("blob: malformed gs:// location")

// IsRemote reports whether location names a GCS object.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, gcsScheme)
}

// ParseGCS splits a gs://bucket/object URL.
func ParseGCS(location string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(location, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrBadLocation, location)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("%w: %q", ErrBadLocation, location)
	}
	return bucket, object, nil
}

// Read returns the contents of location.
func Read(ctx context.Context, location string, log *slog.Logger) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("blob: %w", err)
	}
	if !IsRemote(location) {
		data, err := os.ReadFile(location)
		if err != nil {
			return nil, fmt.Errorf("blob: %w", err)
		}
		return data, nil
	}

	bucket, object, err := ParseGCS(location)
	if err != nil {
		return nil, err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: creating GCS storage client: %w", err)
	}
	defer client.Close()

	log.Debug("blob: downloading from GCS", "url", location)
	startedAt := time.Now()
	r, err := client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: opening object from GCS %q: %w", location, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("blob: downloading from GCS %q: %w", location, err)
	}
	log.Debug("blob: downloaded from GCS", "url", location, "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}

// Write replaces the contents of location with data. Local files are
// written to a temporary file first and renamed into place.
func Write(ctx context.Context, location string, data []byte, log *slog.Logger) error {
	if !IsRemote(location) {
		return writeFile(location, data, log)
	}

	bucket, object, err := ParseGCS(location)
	if err != nil {
		return err
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("blob: creating GCS storage client: %w", err)
	}
	defer client.Close()

	startedAt := time.Now()
	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("blob: uploading to GCS %q: %w", location, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("blob: closing GCS writer: %w", err)
	}
	log.Debug("blob: uploaded to GCS", "url", location, "bytes", len(data), "duration", time.Since(startedAt))
	return nil
}

func writeFile(path string, data []byte, log *slog.Logger) error {
	tempFile, err := os.CreateTemp(filepath.Dir(path), ".blob")
	if err != nil {
		return fmt.Errorf("blob: creating temp file: %w", err)
	}

	shouldDeleteTempFile := true
	defer func() {
		if shouldDeleteTempFile {
			if err := os.Remove(tempFile.Name()); err != nil {
				log.Warn("blob: removing temp file", "path", tempFile.Name(), "err", err)
			}
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("blob: writing temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("blob: closing temp file: %w", err)
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return fmt.Errorf("blob: renaming temp file: %w", err)
	}
	shouldDeleteTempFile = false
	return nil
}
