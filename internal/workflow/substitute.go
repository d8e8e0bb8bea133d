// Package workflow fills ComfyUI workflow templates.
//
// A template is a JSON document in which some string positions hold
// placeholder markers of the form "%name%". Substitute replaces each marker
// (quotes included) with the JSON encoding of a caller supplied value, so a
// marker can become a string, a number or an array.
package workflow

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when a template or filled workflow is not
// syntactically valid JSON.
var ErrInvalidJSON = errors.New("workflow is not valid JSON")

// placeholderPattern matches a quoted marker and captures its name.
var placeholderPattern = regexp.MustCompile(`"%([A-Za-z0-9_.\-]+)%"`)

// Value is a JSON-encoded substitution value. The zero Value encodes as null.
type Value struct {
	encoded string
}

// String returns a Value that encodes s as a JSON string literal.
// HTML characters are not escaped.
func String(s string) Value {
	return Value{encoded: encodeJSON(s)}
}

// Int returns a Value that encodes n as a JSON number.
func Int(n int64) Value {
	return Value{encoded: strconv.FormatInt(n, 10)}
}

// Float returns a Value that encodes f as a JSON number.
// NaN and infinities encode as null.
func Float(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{encoded: "null"}
	}
	return Value{encoded: encodeJSON(f)}
}

// List returns a Value that encodes items as a JSON array of strings,
// preserving order.
func List(items []string) Value {
	if items == nil {
		items = []string{}
	}
	return Value{encoded: encodeJSON(items)}
}

// JSON returns the encoded form of v.
func (v Value) JSON() string {
	if v.encoded == "" {
		return "null"
	}
	return v.encoded
}

// String implements fmt.Stringer.
func (v Value) String() string {
	return v.JSON()
}

// Values maps placeholder names (without % and quotes) to their values.
type Values map[string]Value

// Marker returns the quoted placeholder marker for name.
func Marker(name string) string {
	return `"%` + name + `%"`
}

// Substitute replaces every "%key%" marker in template with the encoded
// value for key. Replacement is textual and done in one pass, so a value is
// never rescanned for markers. Keys without a marker are ignored and markers
// without a key are left as they are.
func Substitute(template string, values Values) string {
	if len(values) == 0 {
		return template
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, Marker(k), values[k].JSON())
	}

	return strings.NewReplacer(pairs...).Replace(template)
}

// Placeholders returns the sorted, de-duplicated placeholder names found in
// template.
func Placeholders(template string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	sort.Strings(names)
	return names
}

// Unfilled returns the placeholder names in template that values does not
// cover. Substituting would forward these markers verbatim.
func Unfilled(template string, values Values) []string {
	var missing []string
	for _, name := range Placeholders(template) {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Validate reports whether doc is syntactically valid JSON.
func Validate(doc string) error {
	if !gjson.Valid(doc) {
		return ErrInvalidJSON
	}
	return nil
}

// encodeJSON marshals v without HTML escaping and without the trailing
// newline json.Encoder appends.
func encodeJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "null"
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
