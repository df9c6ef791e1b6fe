package middleware

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// ParseUserID validates a {userID} path segment.
func ParseUserID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", raw)
	}
	return id, nil
}

var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// ValidateImageContentType accepts the formats the analysis API takes.
// An empty type is allowed; storage guesses it from the file name.
func ValidateImageContentType(ct string) error {
	if ct == "" {
		return nil
	}
	ct = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
	if !allowedImageTypes[ct] {
		return fmt.Errorf("unsupported image type: %s (allowed: image/jpeg, image/png, image/webp)", ct)
	}
	return nil
}

// SanitizeFilename keeps only the base name and drops control and path
// characters.
func SanitizeFilename(name string) string {
	name = SanitizeString(filepath.Base(strings.ReplaceAll(name, "\\", "/")))
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '`', '$', ';', '&':
			return -1
		}
		return r
	}, name)
	if name == "" || name == "." || name == ".." {
		return "image"
	}
	return name
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}
