package utils

import (
	"strings"
	"unicode/utf8"
)

const maxFilenameLength = 100

// SanitizeFilename turns a name such as "owner/repo" into a single safe path
// component. Separators and characters rejected by common filesystems become
// '_', runs of '_' collapse, and the result is cut to maxFilenameLength bytes
// on a rune boundary. An empty result becomes "untitled".
func SanitizeFilename(name string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range name {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			r = '_'
		}
		if r == '_' {
			if lastUnderscore {
				continue
			}
			lastUnderscore = true
		} else {
			lastUnderscore = false
		}
		b.WriteRune(r)
	}

	out := strings.Trim(b.String(), "_ ")
	if len(out) > maxFilenameLength {
		cut := maxFilenameLength
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = strings.Trim(out[:cut], "_ ")
	}
	if out == "" {
		return "untitled"
	}
	return out
}
