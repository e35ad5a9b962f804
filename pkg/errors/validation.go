package errors

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

// ValidateSource checks that a diagram source is usable before any render
// work starts. Whitespace-only input counts as empty.
func ValidateSource(src string, maxBytes int) error {
	if strings.TrimSpace(src) == "" {
		return New(ErrCodeInvalidInput, "Mermaid code is required")
	}
	if maxBytes > 0 && len(src) > maxBytes {
		return New(ErrCodeInvalidInput, "diagram source too large (max %d bytes)", maxBytes)
	}
	return nil
}

// folderRegex matches upload folder names: slash-separated segments of
// letters, digits, dash and underscore.
var folderRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+(/[A-Za-z0-9_-]+)*$`)

// ValidateFolder checks the store folder a diagram is uploaded into. At most
// 128 characters matching folderRegex.
func ValidateFolder(folder string) error {
	if folder == "" {
		return New(ErrCodeInvalidInput, "folder cannot be empty")
	}
	if len(folder) > 128 {
		return New(ErrCodeInvalidInput, "folder too long (max 128 characters)")
	}
	if !folderRegex.MatchString(folder) {
		return New(ErrCodeInvalidInput, "invalid folder: %q", folder)
	}
	return nil
}

// maxPathLength bounds artifact names served back from the file store.
const maxPathLength = 500

// ValidatePath checks an artifact name requested from the store. Names are
// relative, slash separated and already clean: no "..", no backslashes and
// no control characters.
func ValidatePath(name string) error {
	switch {
	case name == "":
		return New(ErrCodeInvalidInput, "artifact name is required")
	case len(name) > maxPathLength:
		return New(ErrCodeInvalidInput, "artifact name longer than %d characters", maxPathLength)
	case strings.IndexFunc(name, unicode.IsControl) >= 0 || strings.ContainsRune(name, '\\'):
		return New(ErrCodeInvalidInput, "artifact name contains invalid characters")
	case strings.HasPrefix(name, "/") || strings.Contains(name, ".."):
		return New(ErrCodeInvalidInput, "artifact name must stay inside the store")
	}
	return nil
}

// ValidateURL accepts absolute http and https URLs with a host.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return New(ErrCodeInvalidInput, "%q is not an http(s) URL", raw)
	}
	return nil
}
