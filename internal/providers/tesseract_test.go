package providers

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t640\t480\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t10\t50\t20\t96.5\tHello\n" +
	"5\t1\t1\t1\t1\t2\t70\t10\t60\t20\t91.5\tWorld\n" +
	"5\t1\t1\t1\t1\t3\t140\t10\t10\t20\t-1\t \n"

func TestParseTSV(t *testing.T) {
	t.Run("tokens and mean confidence", func(t *testing.T) {
		got := parseTSV(sampleTSV)
		if got.Text != "Hello World" {
			t.Errorf("Text = %q, want %q", got.Text, "Hello World")
		}
		if got.Confidence == nil {
			t.Fatal("Confidence = nil, want mean")
		}
		if *got.Confidence != 94.0 {
			t.Errorf("Confidence = %v, want 94.0", *got.Confidence)
		}
	})

	t.Run("no tokens", func(t *testing.T) {
		header := "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n"
		got := parseTSV(header)
		if got.Text != "" {
			t.Errorf("Text = %q, want empty", got.Text)
		}
		if got.Confidence != nil {
			t.Errorf("Confidence = %v, want nil", *got.Confidence)
		}
	})

	t.Run("zero confidence counts", func(t *testing.T) {
		tsv := "header\n5\t1\t1\t1\t1\t1\t0\t0\t1\t1\t0\tx\n"
		got := parseTSV(tsv)
		if got.Confidence == nil || *got.Confidence != 0 {
			t.Errorf("Confidence = %v, want 0", got.Confidence)
		}
	})

	t.Run("malformed lines skipped", func(t *testing.T) {
		tsv := sampleTSV + "garbage line\n\t\t\n"
		got := parseTSV(tsv)
		if got.Text != "Hello World" {
			t.Errorf("Text = %q, want %q", got.Text, "Hello World")
		}
	})
}

// writeStubBinary drops an executable script on PATH-free location so the
// adapter's exec paths can be tested without a tesseract install.
func writeStubBinary(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub binaries are POSIX shell scripts")
	}
	path := filepath.Join(t.TempDir(), "tesseract")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTesseractVersion(t *testing.T) {
	t.Run("reports first line", func(t *testing.T) {
		bin := writeStubBinary(t, `echo "tesseract 5.3.0"; echo " leptonica-1.82.0"`)
		engine := NewTesseractEngine(TesseractConfig{Binary: bin})

		version, err := engine.Version(context.Background())
		if err != nil {
			t.Fatalf("Version() error = %v", err)
		}
		if version != "tesseract 5.3.0" {
			t.Errorf("Version() = %q", version)
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		engine := NewTesseractEngine(TesseractConfig{Binary: "/nonexistent/tesseract"})
		if _, err := engine.Version(context.Background()); err == nil {
			t.Error("Version() error = nil, want error")
		}
	})
}

func TestTesseractExtractText(t *testing.T) {
	t.Run("parses tsv output", func(t *testing.T) {
		tsvPath := filepath.Join(t.TempDir(), "out.tsv")
		if err := os.WriteFile(tsvPath, []byte(sampleTSV), 0o644); err != nil {
			t.Fatal(err)
		}
		bin := writeStubBinary(t, "cat >/dev/null; cat "+tsvPath)
		engine := NewTesseractEngine(TesseractConfig{Binary: bin, Lang: "eng"})

		got, err := engine.ExtractText(context.Background(), []byte("image-bytes"))
		if err != nil {
			t.Fatalf("ExtractText() error = %v", err)
		}
		if got.Text != "Hello World" {
			t.Errorf("Text = %q", got.Text)
		}
	})

	t.Run("engine failure surfaces stderr", func(t *testing.T) {
		bin := writeStubBinary(t, `cat >/dev/null; echo "Error: bad image" >&2; exit 1`)
		engine := NewTesseractEngine(TesseractConfig{Binary: bin})

		_, err := engine.ExtractText(context.Background(), []byte("junk"))
		if err == nil {
			t.Fatal("ExtractText() error = nil, want error")
		}
		if !strings.Contains(err.Error(), "bad image") {
			t.Errorf("error %q does not include stderr", err)
		}
	})
}

func TestTesseractDefaults(t *testing.T) {
	engine := NewTesseractEngine(TesseractConfig{})
	if engine.binary != TesseractDefaultBinary {
		t.Errorf("binary = %q", engine.binary)
	}
	if engine.lang != TesseractDefaultLang {
		t.Errorf("lang = %q", engine.lang)
	}

	withOpts := NewTesseractEngine(TesseractConfig{Options: "--psm 6"})
	if len(withOpts.options) != 2 || withOpts.options[0] != "--psm" {
		t.Errorf("options = %v", withOpts.options)
	}
}
