// Package providers holds the adapters for the external OCR engine and the
// remote vision model. Workers receive these as interfaces so tests can wire
// mocks in place of the real engines.
package providers

import "context"

// OCREngine extracts text from raw image bytes.
type OCREngine interface {
	// Name returns the engine identifier (e.g. "tesseract").
	Name() string

	// Version probes the engine and returns its version string. Workers
	// call this once at startup and refuse to run if it fails.
	Version(ctx context.Context) (string, error)

	// ExtractText runs OCR over the image and returns the recognized text
	// with an optional mean confidence.
	ExtractText(ctx context.Context, image []byte) (*OCRText, error)
}

// OCRText is the result of one OCR pass.
type OCRText struct {
	// Text is the space-joined sequence of recognized tokens in reading
	// order. Empty when nothing was recognized.
	Text string

	// Confidence is the mean of the non-negative per-token confidences
	// (0-100), or nil when no token carried one.
	Confidence *float64
}

// VisionClient generates a short natural-language summary for a screenshot.
// Failure modes (auth, rate limit, timeout, unknown model) are not
// distinguished; they all surface as errors.
type VisionClient interface {
	// Name returns the client identifier (e.g. "openai").
	Name() string

	// Summarize sends one chat request containing the prompt text and the
	// image as a data URI, and returns the model's summary.
	Summarize(ctx context.Context, prompt, imageDataURI string) (string, error)
}
