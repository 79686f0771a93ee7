package report

import (
	"errors"
	"strings"
	"testing"
)

func TestParseValidReport(t *testing.T) {
	input := "BEGIN_REPORT\tmythic-wp\t2\n" +
		"SERVER_ADDR\t10.0.0.1\n" +
		"WP_MEMLIMIT\t64M\tunset\n" +
		"PLUGIN_HASH\t{\"a.php\":\"abc\"}\n" +
		"END_REPORT\tmythic-wp\n"
	rep, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if rep.Tool != "mythic-wp" || rep.Version != 2 || len(rep.Fields) != 3 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if vals := rep.Values("WP_MEMLIMIT"); len(vals) != 2 || vals[1] != "unset" {
		t.Fatalf("unexpected values: %v", vals)
	}
	hashes, err := rep.HashMap("PLUGIN_HASH")
	if err != nil || hashes["a.php"] != "abc" {
		t.Fatalf("unexpected hash map: %v %v", hashes, err)
	}
	if _, err := rep.HashMap("THEME_HASH"); err == nil {
		t.Fatal("expected error for absent field")
	}
	if _, err := rep.HashMap("SERVER_ADDR"); err == nil {
		t.Fatal("expected error for non-JSON field")
	}
	if _, ok := rep.Get("NOPE"); ok {
		t.Fatal("unexpected field")
	}
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"bad header":     "HELLO\n",
		"other tool":     "BEGIN_REPORT\tother\t2\nEND_REPORT\tother\n",
		"bad version":    "BEGIN_REPORT\tmythic-wp\tx\nEND_REPORT\tmythic-wp\n",
		"future version": "BEGIN_REPORT\tmythic-wp\t3\nEND_REPORT\tmythic-wp\n",
		"no footer":      "BEGIN_REPORT\tmythic-wp\t2\nSERVER_ADDR\t1.2.3.4\n",
		"no tab":         "BEGIN_REPORT\tmythic-wp\t2\nGARBAGE\nEND_REPORT\tmythic-wp\n",
		"after footer":   "BEGIN_REPORT\tmythic-wp\t2\nEND_REPORT\tmythic-wp\nA\tb\n",
	}
	for name, input := range cases {
		if _, err := Parse(strings.NewReader(input)); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: expected ErrMalformed, got %v", name, err)
		}
	}
}

func TestParseToleratesTrailingBlankLines(t *testing.T) {
	input := "BEGIN_REPORT\tmythic-wp\t2\r\nEND_REPORT\tmythic-wp\r\n\n"
	if _, err := Parse(strings.NewReader(input)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
