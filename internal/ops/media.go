package ops

import (
	"mime"
	"path/filepath"
	"strings"
	"unicode"
)

// Feature names the calling product surface; each has its own allowed types.
type Feature string

const (
	FeatureRecording Feature = "recording"
	FeatureArchive   Feature = "archive"
)

var allowedMediaTypes = map[Feature][]string{
	FeatureRecording: {
		"audio/mpeg", "audio/mp4", "audio/wav", "audio/x-wav", "audio/webm",
		"audio/ogg", "audio/x-m4a", "video/mp4", "video/webm", "video/quicktime",
	},
	FeatureArchive: {"application/zip", "application/x-zip-compressed"},
}

// AllowedMediaTypes returns the allowed set for a feature, or nil if unknown.
func AllowedMediaTypes(f Feature) []string {
	types, ok := allowedMediaTypes[f]
	if !ok {
		return nil
	}
	return append([]string(nil), types...)
}

// normalizeContentType lower-cases and strips parameters ("audio/mpeg; codecs=x").
func normalizeContentType(ct string) string {
	ct = strings.TrimSpace(ct)
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return strings.ToLower(ct)
}

// maxFilenameLen bounds the sanitized name kept in object paths.
const maxFilenameLen = 100

// sanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with '_'.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == "/" {
		return "upload"
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "upload"
	}
	if len(out) > maxFilenameLen {
		ext := filepath.Ext(out)
		if len(ext) > 10 {
			ext = ""
		}
		out = out[:maxFilenameLen-len(ext)] + ext
	}
	return out
}
