package report

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
)

// ErrMalformed is returned by Parse for input that is not a complete report
// of a supported schema version.
var ErrMalformed = errors.New("malformed report")

const maxLineSize = 64 * 1024 * 1024

type Field struct {
	Label string
	// Value is the line content after the first tab, as written.
	Value string
}

type Report struct {
	Tool    string
	Version int
	Fields  []Field
}

// Parse reads a report, validating its framing and schema version.
func Parse(r io.Reader) (*Report, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}
	header := strings.Split(strings.TrimSuffix(sc.Text(), "\r"), "\t")
	if len(header) != 3 || header[0] != "BEGIN_REPORT" || header[1] != ToolID {
		return nil, fmt.Errorf("%w: bad header %q", ErrMalformed, sc.Text())
	}
	v, err := strconv.Atoi(header[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad schema version %q", ErrMalformed, header[2])
	}
	if v != SchemaVersion {
		return nil, fmt.Errorf("%w: unsupported schema version %d", ErrMalformed, v)
	}

	rep := &Report{Tool: header[1], Version: v}
	closed := false
	lineNo := 1
	for sc.Scan() {
		lineNo++
		line := strings.TrimSuffix(sc.Text(), "\r")
		if closed {
			if strings.TrimSpace(line) != "" {
				return nil, fmt.Errorf("%w: content after footer on line %d", ErrMalformed, lineNo)
			}
			continue
		}
		if line == "END_REPORT\t"+ToolID {
			closed = true
			continue
		}
		label, value, ok := strings.Cut(line, "\t")
		if !ok || label == "" {
			return nil, fmt.Errorf("%w: line %d has no label", ErrMalformed, lineNo)
		}
		rep.Fields = append(rep.Fields, Field{Label: label, Value: value})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !closed {
		return nil, fmt.Errorf("%w: missing footer", ErrMalformed)
	}
	return rep, nil
}

// Labels returns the field labels in report order.
func (r *Report) Labels() []string {
	labels := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		labels[i] = f.Label
	}
	return labels
}

// Raw returns the value of label as written.
func (r *Report) Raw(label string) (string, bool) {
	for _, f := range r.Fields {
		if f.Label == label {
			return f.Value, true
		}
	}
	return "", false
}

// Get returns the unescaped value of label.
func (r *Report) Get(label string) (string, bool) {
	v, ok := r.Raw(label)
	if !ok {
		return "", false
	}
	return html.UnescapeString(v), true
}

// Values splits the value of label on tabs.
func (r *Report) Values(label string) []string {
	v, ok := r.Get(label)
	if !ok {
		return nil
	}
	return strings.Split(v, "\t")
}

// HashMap decodes a path to hash field such as PLUGIN_HASH.
func (r *Report) HashMap(label string) (map[string]string, error) {
	v, ok := r.Raw(label)
	if !ok {
		return nil, fmt.Errorf("field %s not present", label)
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return nil, fmt.Errorf("field %s: %w", label, err)
	}
	return out, nil
}
