package report

import (
	"encoding/json"
	"testing"

	"mythicwp/inventory"
)

func TestCleanString(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Akismet", "Akismet"},
		{"markup", "<a href=\"x\">Link</a> text", "Link text"},
		{"entities", "Tom &amp; Jerry", "Tom & Jerry"},
		{"encoded markup", "&lt;b&gt;bold&lt;/b&gt;", "bold"},
		{"encoded script", "&lt;script&gt;alert(1)&lt;/script&gt;", ""},
		{"double encoded markup", "&amp;lt;i&amp;gt;x&amp;lt;/i&amp;gt;", "x"},
		{"literal comparison", "a < b", "a < b"},
		{"control", "a\x07b\x1fc", "abc"},
		{"whitespace kept", "line1\nline2\tend", "line1\nline2\tend"},
		{"invalid utf8", "caf\xffe", "cafe"},
		{"nfc", "e\u0301", "\u00e9"},
	}
	for _, tc := range cases {
		if got := CleanString(tc.in); got != tc.want {
			t.Fatalf("%s: CleanString(%q) = %q, want %q", tc.name, tc.in, got, tc.want)
		}
	}
}

func TestCleanNestedValues(t *testing.T) {
	in := map[string]any{
		"<b>key</b>": []any{"<i>x</i>", json.Number("3"), true, nil},
		"nested":     map[any]any{1: "one"},
	}
	out, ok := Clean(in).(map[string]any)
	if !ok {
		t.Fatalf("unexpected type %T", Clean(in))
	}
	list, ok := out["key"].([]any)
	if !ok || list[0] != "x" || list[1] != json.Number("3") || list[2] != true || list[3] != nil {
		t.Fatalf("unexpected cleaned list: %#v", out["key"])
	}
	nested, ok := out["nested"].(map[string]any)
	if !ok || nested["1"] != "one" {
		t.Fatalf("unexpected nested map: %#v", out["nested"])
	}
}

func TestCleanThemesKeepsFieldOrder(t *testing.T) {
	themes := map[string]inventory.Theme{"t": {Name: "<b>T</b>", Status: "publish"}}
	cleaned, ok := Clean(themes).(map[string]inventory.Theme)
	if !ok || cleaned["t"].Name != "T" {
		t.Fatalf("unexpected cleaned themes: %#v", Clean(themes))
	}
}

func TestCleanFallsBackToJSON(t *testing.T) {
	type custom struct {
		Label string `json:"label"`
	}
	out, ok := Clean(custom{Label: "<b>x</b>"}).(map[string]any)
	if !ok || out["label"] != "x" {
		t.Fatalf("unexpected fallback result: %#v", out)
	}
}
