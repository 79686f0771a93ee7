// Package drift compares the file hashes carried by two reports.
package drift

import (
	"fmt"
	"sort"

	"mythicwp/report"
)

// Labels lists the report fields holding path to hash maps, in report order.
var Labels = []string{
	"PHP_IN_UPLOADS",
	"WPCONTENT_HASH",
	"PLUGIN_HASH",
	"PLUGIN_MU_HASH",
	"THEME_HASH",
	"WPABS_HASH",
	"WPADM_HASH",
	"WPINC_HASH",
}

// Change is the difference in one hash field.
type Change struct {
	Field   string   `json:"field"`
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
	Changed []string `json:"changed"`
}

func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Compare returns one Change per hash field present in both reports.
// Fields missing from either side, such as deep hashes that were not
// requested, are skipped.
func Compare(old, cur *report.Report) ([]Change, error) {
	var out []Change
	for _, label := range Labels {
		if _, ok := old.Raw(label); !ok {
			continue
		}
		if _, ok := cur.Raw(label); !ok {
			continue
		}
		before, err := old.HashMap(label)
		if err != nil {
			return nil, fmt.Errorf("old report: %w", err)
		}
		after, err := cur.HashMap(label)
		if err != nil {
			return nil, fmt.Errorf("new report: %w", err)
		}
		out = append(out, diff(label, before, after))
	}
	return out, nil
}

func diff(label string, before, after map[string]string) Change {
	c := Change{Field: label, Added: []string{}, Removed: []string{}, Changed: []string{}}
	for path, sum := range after {
		prev, ok := before[path]
		switch {
		case !ok:
			c.Added = append(c.Added, path)
		case prev != sum:
			c.Changed = append(c.Changed, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			c.Removed = append(c.Removed, path)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	return c
}
