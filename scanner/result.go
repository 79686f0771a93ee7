package scanner

import (
	"bytes"
	"encoding/json"
)

// FileEntry is one hashed file, keyed by its path relative to the scan root.
type FileEntry struct {
	Path string `json:"path"`
	Hash string `json:"hash"`
}

type Result struct {
	Root       string
	Entries    []FileEntry
	Unreadable int
}

func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Entries)
}

// Map returns the entries keyed by relative path.
func (r *Result) Map() map[string]string {
	out := make(map[string]string, r.Len())
	if r == nil {
		return out
	}
	for _, e := range r.Entries {
		out[e.Path] = e.Hash
	}
	return out
}

func (r *Result) Lookup(path string) (string, bool) {
	if r == nil {
		return "", false
	}
	for _, e := range r.Entries {
		if e.Path == path {
			return e.Hash, true
		}
	}
	return "", false
}

// MarshalJSON encodes the result as a JSON object mapping relative path to
// hash, preserving entry order. A nil or empty result encodes as {}.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r != nil {
		for i, e := range r.Entries {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(e.Path)
			if err != nil {
				return nil, err
			}
			val, err := json.Marshal(e.Hash)
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
