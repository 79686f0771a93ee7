//go:build !jsonv2

package output

import "encoding/json"

// encoding/json sorts map keys and escapes <, > and & by default.
func jsonMarshal(value any) ([]byte, error) {
	return json.Marshal(value)
}
