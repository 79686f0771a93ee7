package output

import (
	"bufio"
	"io"
	"os"
	"strings"
	"sync"
)

// Line is one report line as handed to the sink.
type Line struct {
	Label string
	Value string
	// JSON marks values that are already encoded and must not be escaped.
	JSON bool
}

// LineWriter serializes report lines as LABEL<TAB>VALUE terminated by \n.
// Text lines are HTML-escaped as a whole; JSON lines escape only the label.
// The first write error is kept and later writes become no-ops.
type LineWriter struct {
	mu    sync.Mutex
	buf   *bufio.Writer
	err   error
	count int

	// Observe, when set, receives every line after it is written.
	Observe func(Line)
}

func NewLineWriter(w io.Writer) *LineWriter {
	return &LineWriter{buf: bufio.NewWriterSize(w, 64*1024)}
}

// Text writes label followed by the tab-joined parts. Line breaks inside a
// part become spaces.
func (lw *LineWriter) Text(label string, parts ...string) {
	flat := make([]string, len(parts))
	for i, p := range parts {
		flat[i] = singleLine(p)
	}
	value := strings.Join(flat, "\t")
	lw.write(Line{Label: label, Value: value}, EscapeHTML(label+"\t"+value))
}

// JSON writes label followed by raw, which must be encoded JSON.
func (lw *LineWriter) JSON(label string, raw []byte) {
	lw.write(Line{Label: label, Value: string(raw), JSON: true}, EscapeHTML(label+"\t")+string(raw))
}

func (lw *LineWriter) write(line Line, encoded string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.err != nil {
		return
	}
	if _, err := lw.buf.WriteString(encoded); err != nil {
		lw.err = err
		return
	}
	if err := lw.buf.WriteByte('\n'); err != nil {
		lw.err = err
		return
	}
	lw.count++
	if lw.Observe != nil {
		lw.Observe(line)
	}
}

// Flush pushes buffered lines to the underlying writer.
func (lw *LineWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if lw.err != nil {
		return lw.err
	}
	lw.err = lw.buf.Flush()
	return lw.err
}

func (lw *LineWriter) Err() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.err
}

// Count returns the number of lines written.
func (lw *LineWriter) Count() int {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.count
}

// Open returns the destination for a report: stdout for "-" or an empty name,
// otherwise the named file, truncated.
func Open(name string) (io.WriteCloser, error) {
	if name == "" || name == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// MarshalJSON encodes value with HTML-sensitive characters escaped and map
// keys sorted.
func MarshalJSON(value any) ([]byte, error) {
	return jsonMarshal(value)
}
