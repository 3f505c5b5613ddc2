package content

import (
	"bytes"
	"path/filepath"
	"strings"
	"unicode"
)

// allowedExtensions is the extension allow-set for uploaded meter photos
var allowedExtensions = map[string]struct{}{
	"jpeg": {},
	"jpg":  {},
	"png":  {},
}

var (
	jpegMagic = []byte{0xFF, 0xD8, 0xFF}
	pngMagic  = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
)

// SniffLen is the minimum number of leading bytes SniffSignature needs
const SniffLen = 12

// Ext returns the lower-cased extension of a filename (text after the last
// dot), or "" when the name has no extension.
func Ext(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}

// HasAllowedExtension reports whether the filename carries one of the
// allowed image extensions. A name without an extension is rejected.
func HasAllowedExtension(filename string) bool {
	_, ok := allowedExtensions[Ext(filename)]
	return ok
}

// AllowedExtensions returns the allow-set as a sorted, display-ready list
func AllowedExtensions() []string {
	return []string{"jpeg", "jpg", "png"}
}

// SanitizeFilename strips path components from a client-supplied filename,
// collapses whitespace runs to a single underscore and drops every rune
// that is not alphanumeric, underscore, hyphen or dot. The result may be
// empty for fully hostile input.
func SanitizeFilename(filename string) string {
	// Drop directory components, both separators, regardless of platform.
	base := filepath.Base(filename)
	if idx := strings.LastIndexAny(base, `/\`); idx >= 0 {
		base = base[idx+1:]
	}

	var b strings.Builder
	b.Grow(len(base))
	inSpace := false
	for _, r := range base {
		switch {
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte('_')
				inSpace = true
			}
		case r == '_' || r == '-' || r == '.' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			b.WriteRune(r)
			inSpace = false
		default:
			inSpace = false
		}
	}

	name := b.String()
	if name == "." || name == ".." {
		return ""
	}
	return name
}

// SniffSignature reports whether the leading bytes of a stream look like a
// real JPEG or PNG. Callers must supply at least SniffLen bytes; shorter
// input is rejected outright.
func SniffSignature(firstBytes []byte) bool {
	if len(firstBytes) < SniffLen {
		return false
	}
	return bytes.HasPrefix(firstBytes, jpegMagic) || bytes.HasPrefix(firstBytes, pngMagic)
}
