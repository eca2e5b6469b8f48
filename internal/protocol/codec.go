package protocol

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/bytedance/sonic"
)

var (
	// ErrMalformed is returned for frames that are not a JSON object.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownMessage is returned for objects matching no variant.
	ErrUnknownMessage = errors.New("unknown message")
)

// opaqueKeys hold caller-defined objects whose field names must be left
// exactly as sent.
var opaqueKeys = map[string]bool{
	"args":     true,
	"response": true,
}

// Decode parses a frame written in either naming convention. When a key is
// present in both forms the camelCase value wins.
func Decode(data []byte) (*Message, error) {
	var raw any
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	canonical, err := sonic.Marshal(camelize(obj))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var msg Message
	if err := sonic.Unmarshal(canonical, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Empty() {
		return nil, ErrUnknownMessage
	}
	return &msg, nil
}

// Encode writes m with every field present under both its camelCase and its
// snake_case name.
func Encode(m *Message) ([]byte, error) {
	canonical, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var raw map[string]any
	if err := sonic.Unmarshal(canonical, &raw); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	out, err := sonic.Marshal(withSnakeAliases(raw))
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

// EncodeCanonical writes m in camelCase only.
func EncodeCanonical(m *Message) ([]byte, error) {
	out, err := sonic.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return out, nil
}

func camelize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			ck := CamelCase(k)
			if _, exists := out[ck]; exists && ck != k {
				continue
			}
			if opaqueKeys[ck] {
				out[ck] = val
			} else {
				out[ck] = camelize(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = camelize(e)
		}
		return out
	default:
		return v
	}
}

func withSnakeAliases(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t)*2)
		for k, val := range t {
			if !opaqueKeys[k] {
				val = withSnakeAliases(val)
			}
			out[k] = val
			if sk := SnakeCase(k); sk != k {
				out[sk] = val
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = withSnakeAliases(e)
		}
		return out
	default:
		return v
	}
}

// SnakeCase converts mimeType to mime_type.
func SnakeCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CamelCase converts mime_type to mimeType.
func CamelCase(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	upper := false
	for i, r := range s {
		if r == '_' && i > 0 {
			upper = true
			continue
		}
		if upper {
			sb.WriteRune(unicode.ToUpper(r))
			upper = false
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
