// Package sanitize turns free-form language model replies into the flat,
// comma-separated tag lists that image models expect.
package sanitize

import (
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyOutput is returned by Require when sanitizing leaves nothing.
// Callers must abort the current generation when they see it.
var ErrEmptyOutput = errors.New("prompt generation produced no text")

// PossessiveReplacement is substituted for "<name>'s " so the subject's
// name never reaches the image model.
const PossessiveReplacement = "another's "

// ExcludedPhrases are tags the text model emits when it has nothing useful
// to say. Any segment containing one of them is dropped.
var ExcludedPhrases = []string{
	"doing nothing",
	"no relevant sexual act",
}

// punctuationRules run in order, each over the whole string.
var punctuationRules = []struct {
	old, new string
}{
	{`"`, ""},
	{"â€œ", ""}, // mis-encoded left double quote
	{".", ","},
	{"\n", ", "},
	{" - ", " "},
	{"- ", " "},
	{"(", " "},
	{")", " "},
}

// disallowed matches runs of characters that are not allowed in a tag.
var disallowed = regexp.MustCompile(`[^a-zA-Z0-9,:_(){}<>\[\]\-']+`)

// Sanitize normalizes raw into a lowercase, comma-separated tag string.
//
// excludeName is the active subject's name; "<excludeName>'s " becomes
// "another's ". An empty excludeName disables that rule.
//
// Empty input yields an empty string.
func Sanitize(raw, excludeName string) string {
	if raw == "" {
		return ""
	}

	s := raw
	for _, rule := range punctuationRules {
		s = strings.ReplaceAll(s, rule.old, rule.new)
	}

	// Must run before case folding and the character filter.
	if excludeName != "" {
		s = strings.ReplaceAll(s, excludeName+"'s ", PossessiveReplacement)
	}

	s = norm.NFD.String(s)
	s = disallowed.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	s = strings.ToLower(s)

	segments := strings.Split(s, ",")
	tags := make([]string, 0, len(segments))
	for _, segment := range segments {
		tag := stripLabel(strings.TrimSpace(segment))
		if tag == "" || isExcluded(tag) {
			continue
		}
		tags = append(tags, tag)
	}

	return strings.Join(tags, ", ")
}

// Require sanitizes raw and returns ErrEmptyOutput when nothing survives.
func Require(raw, excludeName string) (string, error) {
	out := Sanitize(raw, excludeName)
	if out == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}

// Tags splits a sanitized prompt back into its tags.
func Tags(prompt string) []string {
	if prompt == "" {
		return nil
	}
	return strings.Split(prompt, ", ")
}

// stripLabel drops everything up to and including the first colon.
// "pose: sitting" becomes "sitting".
func stripLabel(tag string) string {
	idx := strings.IndexByte(tag, ':')
	if idx == -1 {
		return tag
	}
	return strings.TrimSpace(tag[idx+1:])
}

func isExcluded(tag string) bool {
	for _, phrase := range ExcludedPhrases {
		if strings.Contains(tag, phrase) {
			return true
		}
	}
	return false
}
