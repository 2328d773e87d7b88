package crypto

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StableStringify renders v as a deterministic JSON-like byte string: object
// keys are sorted ascending, array order is preserved, and nil/absent values
// render as the literal "null". It exists only to give the HMAC confirmation
// token a byte string that doesn't vary with map iteration or key ordering at
// the call site — it is not meant to be parsed back.
func StableStringify(v any) string {
	var sb strings.Builder
	writeStable(&sb, v)
	return sb.String()
}

func writeStable(sb *strings.Builder, v any) {
	switch val := v.(type) {
	case nil:
		sb.WriteString("null")
	case map[string]any:
		writeStableObject(sb, val)
	case map[string]string:
		obj := make(map[string]any, len(val))
		for k, s := range val {
			obj[k] = s
		}
		writeStableObject(sb, obj)
	case []any:
		sb.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeStable(sb, item)
		}
		sb.WriteByte(']')
	case string:
		sb.WriteString(strconv.Quote(val))
	case bool:
		if val {
			sb.WriteString("true")
		} else {
			sb.WriteString("false")
		}
	case float64:
		sb.WriteString(strconv.FormatFloat(val, 'g', -1, 64))
	case int:
		sb.WriteString(strconv.Itoa(val))
	default:
		sb.WriteString(fmt.Sprintf("%v", val))
	}
}

func writeStableObject(sb *strings.Builder, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.Quote(k))
		sb.WriteByte(':')
		writeStable(sb, obj[k])
	}
	sb.WriteByte('}')
}
