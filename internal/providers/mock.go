package providers

import (
	"context"
	"sync/atomic"
)

// MockOCREngine is an OCREngine for tests.
type MockOCREngine struct {
	// Configurable behavior
	VersionString string
	VersionErr    error
	Result        *OCRText
	Err           error

	// ExtractFunc overrides Result/Err when set.
	ExtractFunc func(ctx context.Context, image []byte) (*OCRText, error)

	// State
	extractCalls atomic.Int64
}

// NewMockOCREngine creates a mock engine returning the given text.
func NewMockOCREngine(text string, confidence float64) *MockOCREngine {
	return &MockOCREngine{
		VersionString: "tesseract 5.3.0 (mock)",
		Result:        &OCRText{Text: text, Confidence: &confidence},
	}
}

func (m *MockOCREngine) Name() string { return "mock-ocr" }

func (m *MockOCREngine) Version(ctx context.Context) (string, error) {
	if m.VersionErr != nil {
		return "", m.VersionErr
	}
	if m.VersionString == "" {
		return "mock", nil
	}
	return m.VersionString, nil
}

func (m *MockOCREngine) ExtractText(ctx context.Context, image []byte) (*OCRText, error) {
	m.extractCalls.Add(1)
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, image)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return &OCRText{}, nil
	}
	return m.Result, nil
}

// ExtractCalls returns how many times ExtractText ran.
func (m *MockOCREngine) ExtractCalls() int64 {
	return m.extractCalls.Load()
}

// MockVisionClient is a VisionClient for tests.
type MockVisionClient struct {
	Summary string
	Err     error

	// SummarizeFunc overrides Summary/Err when set.
	SummarizeFunc func(ctx context.Context, prompt, imageDataURI string) (string, error)

	// State
	calls       atomic.Int64
	lastPrompt  atomic.Value
	lastDataURI atomic.Value
}

func (m *MockVisionClient) Name() string { return "mock-vision" }

func (m *MockVisionClient) Summarize(ctx context.Context, prompt, imageDataURI string) (string, error) {
	m.calls.Add(1)
	m.lastPrompt.Store(prompt)
	m.lastDataURI.Store(imageDataURI)
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, prompt, imageDataURI)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Summary, nil
}

// Calls returns how many times Summarize ran.
func (m *MockVisionClient) Calls() int64 {
	return m.calls.Load()
}

// LastPrompt returns the prompt from the most recent call.
func (m *MockVisionClient) LastPrompt() string {
	if v, ok := m.lastPrompt.Load().(string); ok {
		return v
	}
	return ""
}

// LastDataURI returns the image data URI from the most recent call.
func (m *MockVisionClient) LastDataURI() string {
	if v, ok := m.lastDataURI.Load().(string); ok {
		return v
	}
	return ""
}
