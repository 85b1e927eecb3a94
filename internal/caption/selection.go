package caption

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DefaultMaxBytes mirrors the gateway's upload cap.
const DefaultMaxBytes = 10 << 20

// Selection is the image the user picked, held locally until analysis.
type Selection struct {
	Name        string
	ContentType string
	Data        []byte
	Preview     string // data: URL rendered before any network call
}

// NewSelection sniffs the content type, enforces the image/* and size
// guards and builds the local preview.
func NewSelection(name string, data []byte, maxBytes int64) (Selection, error) {
	if len(data) == 0 {
		return Selection{}, inputError("file is empty", nil)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return Selection{}, inputError(fmt.Sprintf("image too large (max %d MB)", maxBytes>>20), nil)
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		// fall back to the extension for formats the sniffer does not know
		if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); strings.HasPrefix(byExt, "image/") {
			contentType = byExt
		}
	}
	if !strings.HasPrefix(contentType, "image/") {
		return Selection{}, inputError("file must be an image", fmt.Errorf("detected %s", contentType))
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	return Selection{
		Name:        filepath.Base(name),
		ContentType: contentType,
		Data:        data,
		Preview:     EncodeDataURL(contentType, data),
	}, nil
}

// EncodeDataURL builds a base64 data: URL.
func EncodeDataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a "data:<mime>;base64,<payload>" URL. A bare base64
// string is accepted and reported as image/png.
func DecodeDataURL(s string) (contentType string, data []byte, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, errors.New("empty data URL")
	}

	contentType = "image/png"
	payload := s
	if strings.HasPrefix(s, "data:") {
		meta, rest, ok := strings.Cut(s[len("data:"):], ",")
		if !ok {
			return "", nil, errors.New("data URL has no payload")
		}
		if !strings.HasSuffix(meta, ";base64") {
			return "", nil, fmt.Errorf("unsupported data URL encoding %q", meta)
		}
		if mt := strings.TrimSuffix(meta, ";base64"); mt != "" {
			contentType = mt
		}
		payload = rest
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data URL: %w", err)
	}
	return contentType, data, nil
}

// ExtensionFor picks a file extension for an image content type.
func ExtensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
