package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	TesseractName          = "tesseract"
	TesseractDefaultBinary = "tesseract"
	TesseractDefaultLang   = "eng"
)

// TesseractConfig holds configuration for the Tesseract engine adapter.
type TesseractConfig struct {
	Binary  string // Path to the tesseract binary (default "tesseract")
	Lang    string // Language code, e.g. "eng" or "eng+spa"
	Options string // Extra CLI options, e.g. "--psm 6"
}

// TesseractEngine implements OCREngine by invoking the tesseract binary.
// Images are fed over stdin and results requested in TSV form, which carries
// a per-token confidence column.
type TesseractEngine struct {
	binary  string
	lang    string
	options []string
}

// NewTesseractEngine creates a Tesseract adapter.
func NewTesseractEngine(cfg TesseractConfig) *TesseractEngine {
	if cfg.Binary == "" {
		cfg.Binary = TesseractDefaultBinary
	}
	if cfg.Lang == "" {
		cfg.Lang = TesseractDefaultLang
	}
	return &TesseractEngine{
		binary:  cfg.Binary,
		lang:    cfg.Lang,
		options: strings.Fields(cfg.Options),
	}
}

// Name returns the engine identifier.
func (e *TesseractEngine) Name() string {
	return TesseractName
}

// Version runs `tesseract --version` and returns the version line.
// Used as the startup capability check.
func (e *TesseractEngine) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, e.binary, "--version").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("tesseract not available (install with: apt install tesseract-ocr): %w", err)
	}
	line, _, _ := strings.Cut(string(out), "\n")
	return strings.TrimSpace(line), nil
}

// ExtractText runs OCR over the image. The TSV output is reduced to the
// space-joined non-empty tokens in reading order, with the mean of the
// non-negative token confidences (tesseract reports -1 for non-word rows).
func (e *TesseractEngine) ExtractText(ctx context.Context, image []byte) (*OCRText, error) {
	args := []string{"stdin", "stdout", "-l", e.lang}
	args = append(args, e.options...)
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdin = bytes.NewReader(image)

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return nil, fmt.Errorf("tesseract failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("tesseract failed: %w", err)
	}

	return parseTSV(string(out)), nil
}

// parseTSV extracts tokens and confidences from tesseract TSV output.
// Columns: level page_num block_num par_num line_num word_num left top
// width height conf text.
func parseTSV(out string) *OCRText {
	var (
		tokens []string
		sum    float64
		count  int
	)

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		if i == 0 {
			// Header row.
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 12 {
			continue
		}
		token := fields[11]
		if strings.TrimSpace(token) == "" {
			continue
		}
		tokens = append(tokens, token)

		conf, err := strconv.ParseFloat(fields[10], 64)
		if err == nil && conf >= 0 {
			sum += conf
			count++
		}
	}

	result := &OCRText{Text: strings.Join(tokens, " ")}
	if count > 0 {
		mean := sum / float64(count)
		result.Confidence = &mean
	}
	return result
}
