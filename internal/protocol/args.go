package protocol

import (
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// Args are function-call arguments. Upstream sends them either as an object
// or as a JSON-encoded string; anything unparseable becomes an empty object.
type Args map[string]any

// UnmarshalJSON implements json.Unmarshaler.
func (a *Args) UnmarshalJSON(b []byte) error {
	var raw any
	if err := sonic.Unmarshal(b, &raw); err != nil {
		*a = Args{}
		return nil
	}
	*a = ParseArgs(raw)
	return nil
}

// ParseArgs normalizes a decoded args value.
func ParseArgs(raw any) Args {
	switch t := raw.(type) {
	case map[string]any:
		return Args(t)
	case Args:
		return t
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return Args{}
		}
		var m map[string]any
		if err := sonic.UnmarshalString(s, &m); err != nil || m == nil {
			return Args{}
		}
		return Args(m)
	default:
		return Args{}
	}
}

// String returns the named argument as text.
func (a Args) String(key string) (string, bool) {
	switch v := a[key].(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// Number returns the named argument as a float, accepting numeric strings.
func (a Args) Number(key string) (float64, bool) {
	switch v := a[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
