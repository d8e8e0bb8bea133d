package persistence

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxNameLength bounds the folder and file name prefix derived from a character name.
const MaxNameLength = 64

// ErrInvalidName indicates a character name that has nothing usable in a path.
var ErrInvalidName = errors.New("invalid character name")

var (
	unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9 _.-]+`)
	repeatedSpace   = regexp.MustCompile(`\s+`)
	dotRun          = regexp.MustCompile(`\.{2,}`)
	validFormat     = regexp.MustCompile(`^[a-z0-9]{1,8}$`)
	validFilePath   = regexp.MustCompile(`^[A-Za-z0-9 _.@-]+/[A-Za-z0-9 _.@-]+$`)
)

// CharacterFolder converts a character name into a single path segment.
// Accents are folded to their base letters, anything outside
// [A-Za-z0-9 _.-] becomes "_" and dot runs cannot form "..".
func CharacterFolder(name string) (string, error) {
	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	cleaned := unsafeNameChars.ReplaceAllString(folded, "_")
	cleaned = repeatedSpace.ReplaceAllString(cleaned, " ")
	cleaned = dotRun.ReplaceAllString(cleaned, "_")
	cleaned = strings.TrimSpace(strings.Trim(strings.TrimSpace(cleaned), "."))

	if len(cleaned) > MaxNameLength {
		cleaned = strings.TrimSpace(cleaned[:MaxNameLength])
	}

	if cleaned == "" || strings.Trim(cleaned, "_") == "" {
		return "", ErrInvalidName
	}

	return cleaned, nil
}

// validateRelPath checks a "<folder>/<file>" path returned by Save.
func validateRelPath(rel string) error {
	if strings.Contains(rel, "..") || !validFilePath.MatchString(rel) {
		return ErrInvalidPath
	}
	return nil
}
