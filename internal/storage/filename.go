package storage

import (
	"crypto/rand"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

const (
	maxFilenameLength = 100
	suffixLength      = 10
	suffixAlphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
)

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename turns an untrusted client-supplied filename into one
// safe to use as a path segment: basename only, unsafe characters
// collapsed to a single underscore, length-clamped, extension lowercased
// and preserved, and a random suffix appended so two uploads of the same
// name never collide.
func SanitizeFilename(original string) string {
	base := filepath.Base(original)
	ext := strings.ToLower(filepath.Ext(base))
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	stem = unsafeFilenameChars.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "_")
	if stem == "" {
		stem = "file"
	}

	maxStem := maxFilenameLength - len(ext) - suffixLength - 1
	if maxStem < 1 {
		maxStem = 1
	}
	if len(stem) > maxStem {
		stem = stem[:maxStem]
	}

	return fmt.Sprintf("%s_%s%s", stem, randomSuffix(), ext)
}

func randomSuffix() string {
	buf := make([]byte, suffixLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on a supported platform does not fail; if it ever
		// does, degrade to a fixed suffix rather than panic mid-upload.
		for i := range buf {
			buf[i] = suffixAlphabet[0]
		}
	}
	out := make([]byte, suffixLength)
	for i, b := range buf {
		out[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(out)
}

// matchesMimeType reports whether mimeType satisfies pattern, one of
// "*" / "*/*" (anything), "kind/*" (a type prefix), or an exact type.
// The pattern is compiled with gobwas/glob on every call; compiled patterns
// are not cached.
func matchesMimeType(mimeType, pattern string) bool {
	base := mimeType
	if idx := strings.Index(base, ";"); idx != -1 {
		base = strings.TrimSpace(base[:idx])
	}

	if pattern == "*" {
		pattern = "*/*"
	}

	g, err := glob.Compile(pattern)
	if err != nil {
		return base == pattern
	}
	return g.Match(base)
}
