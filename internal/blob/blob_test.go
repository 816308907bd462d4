package blob

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestParseGCS(t *testing.T) {
	tests := []struct {
		location     string
		bucket, path string
		wantErr      bool
	}{
		{"gs://kernels/copy.spv", "kernels", "copy.spv", false},
		{"gs://kernels/a/b/copy.spv", "kernels", "a/b/copy.spv", false},
		{"gs://kernels", "", "", true},
		{"gs:///copy.spv", "", "", true},
		{"gs://kernels/", "", "", true},
		{"/tmp/copy.spv", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.location, func(t *testing.T) {
			bucket, object, err := ParseGCS(tt.location)
			if tt.wantErr {
				if !errors.Is(err, ErrBadLocation) {
					t.Errorf("ParseGCS() error = %v, want ErrBadLocation", err)
				}
				return
			}
			if err != nil || bucket != tt.bucket || object != tt.path {
				t.Errorf("ParseGCS() = %q, %q, %v", bucket, object, err)
			}
		})
	}
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	log := slog.New(slog.DiscardHandler)
	path := filepath.Join(t.TempDir(), "kernel.spv")

	if err := Write(ctx, path, []byte{1, 2, 3, 4, 5}, log); err != nil {
		t.Fatal(err)
	}
	if err := Write(ctx, path, []byte{9, 8, 7}, log); err != nil {
		t.Fatal(err)
	}
	got, err := Read(ctx, path, log)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "\x09\x08\x07" {
		t.Errorf("Read() = %v, want [9 8 7]", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, temp file left behind", len(entries))
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(context.Background(), filepath.Join(t.TempDir(), "missing.spv"), slog.New(slog.DiscardHandler))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Read() error = %v, want os.ErrNotExist", err)
	}
}

func TestReadCanceled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "present.spv")
	if err := os.WriteFile(path, []byte{1, 2, 3, 4}, 0o600); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Read(ctx, path, slog.New(slog.DiscardHandler)); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}
