package dtype

import (
	"fmt"
	"strings"
)

// Format renders a decoded value of t for display.
func Format(t *Type, v any) string {
	var sb strings.Builder
	format(&sb, t, v)
	return sb.String()
}

func format(sb *strings.Builder, t *Type, v any) {
	switch t.kind {
	case KindChar:
		if c, ok := v.(byte); ok && c >= 0x20 && c < 0x7f {
			fmt.Fprintf(sb, "%q", rune(c))
			return
		}
	case KindWideChar:
		if r, ok := v.(rune); ok {
			fmt.Fprintf(sb, "%q", r)
			return
		}
	case KindPointer:
		fmt.Fprintf(sb, "%v", v)
		return
	case KindArray:
		items, _ := v.([]any)
		sb.WriteByte('[')
		for i, item := range items {
			if i > 0 {
				sb.WriteByte(' ')
			}
			format(sb, t.elem, item)
		}
		sb.WriteByte(']')
		return
	case KindStruct:
		m, _ := v.(map[string]any)
		sb.WriteByte('{')
		for i, f := range t.fields {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name)
			sb.WriteString(": ")
			format(sb, f.Type, m[f.Name])
		}
		sb.WriteByte('}')
		return
	}
	fmt.Fprint(sb, v)
}
