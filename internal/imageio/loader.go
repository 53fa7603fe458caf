// Package imageio resolves frame image references to raw bytes.
package imageio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when the referenced image file does not exist.
// Callers distinguish it from read/permission failures.
var ErrNotFound = errors.New("image file not found")

// Resolve normalizes an image_ref to a filesystem path, stripping the
// file:// prefix when present.
func Resolve(imageRef string) string {
	return strings.TrimPrefix(imageRef, "file://")
}

// Load reads the image bytes behind an image_ref (absolute path or file://
// URI). Missing files return ErrNotFound; anything else is a load error.
func Load(imageRef string) ([]byte, error) {
	path := Resolve(imageRef)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat image %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", path, err)
	}
	return data, nil
}

// MIMEType guesses the image MIME type from the file extension, defaulting
// to image/jpeg for unknown or non-image types.
func MIMEType(imageRef string) string {
	ext := filepath.Ext(Resolve(imageRef))
	if mt := mime.TypeByExtension(ext); strings.HasPrefix(mt, "image/") {
		return mt
	}
	return "image/jpeg"
}

// DataURI loads an image and wraps it as a base64 data URI suitable for
// vision model requests.
func DataURI(imageRef string) (string, error) {
	data, err := Load(imageRef)
	if err != nil {
		return "", err
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf("data:%s;base64,%s", MIMEType(imageRef), encoded), nil
}
