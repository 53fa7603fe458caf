package imageio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(path, []byte("fake png bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("plain path", func(t *testing.T) {
		data, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if string(data) != "fake png bytes" {
			t.Errorf("Load() = %q", data)
		}
	})

	t.Run("file URI", func(t *testing.T) {
		data, err := Load("file://" + path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if len(data) == 0 {
			t.Error("Load() returned empty bytes")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.png"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Load() error = %v, want ErrNotFound", err)
		}
	})
}

func TestMIMEType(t *testing.T) {
	for _, tc := range []struct {
		ref  string
		want string
	}{
		{"/tmp/shot.png", "image/png"},
		{"/tmp/shot.jpg", "image/jpeg"},
		{"file:///tmp/shot.gif", "image/gif"},
		{"/tmp/shot.webp", "image/webp"},
		{"/tmp/shot.bin", "image/jpeg"},
		{"/tmp/noext", "image/jpeg"},
		{"/tmp/shot.txt", "image/jpeg"},
	} {
		if got := MIMEType(tc.ref); got != tc.want {
			t.Errorf("MIMEType(%q) = %q, want %q", tc.ref, got, tc.want)
		}
	}
}

func TestDataURI(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "frame.png")
	if err := os.WriteFile(path, []byte{0x89, 0x50, 0x4e, 0x47}, 0o644); err != nil {
		t.Fatal(err)
	}

	uri, err := DataURI(path)
	if err != nil {
		t.Fatalf("DataURI() error = %v", err)
	}
	if !strings.HasPrefix(uri, "data:image/png;base64,") {
		t.Errorf("DataURI() = %q, want data:image/png;base64 prefix", uri)
	}

	if _, err := DataURI(filepath.Join(dir, "missing.png")); !errors.Is(err, ErrNotFound) {
		t.Errorf("DataURI() error = %v, want ErrNotFound", err)
	}
}
