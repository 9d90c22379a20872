package httpx

import (
	"mime"
	"path"
	"strings"
)

// DefaultMimeType is used for files with no known extension.
const DefaultMimeType = "text/plain"

// StaticMimeType resolves the content type of a static file by extension.
func StaticMimeType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".css":
		return "text/css"
	case ".js", ".mjs":
		return "application/javascript"
	case ".svg":
		return "image/svg+xml"
	case ".json":
		return "application/json"
	case "":
		return DefaultMimeType
	}
	if value := mime.TypeByExtension(ext); value != "" {
		return value
	}
	return DefaultMimeType
}

// IsScriptOrStyle reports whether contentType is JavaScript or CSS. Those
// responses skip long-lived caching so deploys are picked up immediately.
func IsScriptOrStyle(contentType string) bool {
	base, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(base) {
	case "application/javascript", "text/javascript", "text/css":
		return true
	}
	return false
}
