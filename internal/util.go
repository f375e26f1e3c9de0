package internal

import (
	"path/filepath"
	"regexp"
	"strings"
)

var invalidChars = regexp.MustCompile(`[<>:"\\|?*\x00-\x1F]`)

// SanitizePath replaces characters that are invalid in file names in every path
// component. Absolute paths stay absolute.
func SanitizePath(path string) string {
	components := strings.Split(filepath.ToSlash(path), "/")
	for i, component := range components {
		if component == "" || component == "." || component == ".." {
			continue
		}
		safeComponent := invalidChars.ReplaceAllString(component, "_")
		safeComponent = strings.Trim(safeComponent, " .")
		const maxLength = 255
		if len(safeComponent) > maxLength {
			safeComponent = safeComponent[:maxLength]
		}
		if safeComponent == "" {
			safeComponent = "_"
		}
		components[i] = safeComponent
	}
	sanitizedPath := filepath.Join(components...)
	if strings.HasPrefix(path, "/") {
		sanitizedPath = string(filepath.Separator) + sanitizedPath
	}
	return sanitizedPath
}

// NormalizeURLs trims every url, drops blanks and repeated entries, and keeps the first-seen order.
func NormalizeURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
