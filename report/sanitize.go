package report

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
	"unicode"

	"mythicwp/inventory"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// maxStripPasses bounds how many layers of entity encoding stripMarkup peels.
const maxStripPasses = 8

// CleanString removes markup and control characters from s, drops invalid
// UTF-8 and returns the NFC form. Tabs and line breaks are kept.
func CleanString(s string) string {
	s = stripMarkup(strings.ToValidUTF8(s, ""))
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return norm.NFC.String(s)
}

// stripMarkup sanitizes and decodes s until it stops changing, so markup
// hidden behind entity encoding is removed rather than decoded into place.
// Input still changing after maxStripPasses is returned sanitized but
// undecoded.
func stripMarkup(s string) string {
	for i := 0; i < maxStripPasses; i++ {
		next := html.UnescapeString(strictPolicy.Sanitize(s))
		if next == s {
			return s
		}
		s = next
	}
	return strictPolicy.Sanitize(s)
}

// Clean applies CleanString to every string in v, map keys included.
// Shapes produced by the inventory decoders are walked directly; anything
// else goes through a JSON round trip first.
func Clean(v any) any {
	switch val := v.(type) {
	case nil, bool, int, int64, float64, json.Number:
		return val
	case string:
		return CleanString(val)
	case []string:
		out := make([]string, len(val))
		for i, s := range val {
			out[i] = CleanString(s)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Clean(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[CleanString(k)] = Clean(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[CleanString(fmt.Sprint(k))] = Clean(item)
		}
		return out
	case map[string]int:
		out := make(map[string]int, len(val))
		for k, n := range val {
			out[CleanString(k)] = n
		}
		return out
	case map[string]map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[CleanString(k)] = Clean(map[string]any(item))
		}
		return out
	case map[string]inventory.Theme:
		out := make(map[string]inventory.Theme, len(val))
		for k, t := range val {
			out[CleanString(k)] = cleanTheme(t)
		}
		return out
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return nil
		}
		return Clean(generic)
	}
}

func cleanTheme(t inventory.Theme) inventory.Theme {
	return inventory.Theme{
		Name:      CleanString(t.Name),
		ThemeURI:  CleanString(t.ThemeURI),
		Author:    CleanString(t.Author),
		AuthorURI: CleanString(t.AuthorURI),
		Version:   CleanString(t.Version),
		Template:  CleanString(t.Template),
		Status:    CleanString(t.Status),
	}
}
