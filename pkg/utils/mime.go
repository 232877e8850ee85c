package utils

import (
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DetectMime sniffs the MIME type of data, "application/octet-stream" when unknown.
func DetectMime(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(data)
}

// ReadImageFile loads an image from disk and reports its MIME type.
// Content sniffing wins; the extension is only consulted when sniffing
// cannot tell (e.g. some TIFF or HEIC files).
func ReadImageFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image %s: %w", path, err)
	}

	mimeType := DetectMime(data)
	if !strings.HasPrefix(mimeType, "image/") {
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); strings.HasPrefix(byExt, "image/") {
			mimeType = byExt
		} else {
			return nil, "", fmt.Errorf("%s is not an image (%s)", path, mimeType)
		}
	}
	return data, mimeType, nil
}
