// Package args parses connector and os construction argument strings of the
// form "default,key=value,key2=value2".
package args

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"gomemflow/memory"
)

// Args holds a parsed argument string.
type Args struct {
	def    string
	values map[string]string
}

// Parse splits s into an optional leading default value and key=value pairs.
// Keys are case-insensitive. Empty elements are ignored.
func Parse(s string) (Args, error) {
	a := Args{values: map[string]string{}}
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			if i != 0 {
				return Args{}, fmt.Errorf("argument %q: only the first element may omit a key: %w", part, memory.ErrArgument)
			}
			a.def = part
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return Args{}, fmt.Errorf("argument %q: empty key: %w", part, memory.ErrArgument)
		}
		a.values[key] = strings.TrimSpace(value)
	}
	return a, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(s string) Args {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Merge returns a copy of base with every value of override applied on top.
func Merge(base, override Args) Args {
	out := Args{def: base.def, values: map[string]string{}}
	for k, v := range base.values {
		out.values[k] = v
	}
	if override.def != "" {
		out.def = override.def
	}
	for k, v := range override.values {
		out.values[k] = v
	}
	return out
}

// Default returns the leading value without a key.
func (a Args) Default() string {
	return a.def
}

// Get returns the value of key.
func (a Args) Get(key string) (string, bool) {
	v, ok := a.values[strings.ToLower(key)]
	return v, ok
}

// GetOr returns the value of key, or def when the key is absent.
func (a Args) GetOr(key, def string) string {
	if v, ok := a.Get(key); ok {
		return v
	}
	return def
}

// DefaultOr returns the value of key, falling back on the default value and
// then on def.
func (a Args) DefaultOr(key, def string) string {
	if v, ok := a.Get(key); ok {
		return v
	}
	if a.def != "" {
		return a.def
	}
	return def
}

// GetBool parses key as a boolean.
func (a Args) GetBool(key string, def bool) (bool, error) {
	v, ok := a.Get(key)
	if !ok {
		return def, nil
	}
	if v == "" {
		return true, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("argument %s=%q: %w", key, v, memory.ErrArgument)
	}
	return b, nil
}

// GetUint parses key as an unsigned integer; 0x and 0o prefixes are honored.
func (a Args) GetUint(key string, def uint64) (uint64, error) {
	v, ok := a.Get(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		return def, fmt.Errorf("argument %s=%q: %w", key, v, memory.ErrArgument)
	}
	return n, nil
}

// GetSize parses key as a byte size such as "4096", "0x1000", "16MiB" or "2GB".
func (a Args) GetSize(key string, def memory.Size) (memory.Size, error) {
	v, ok := a.Get(key)
	if !ok {
		return def, nil
	}
	if n, err := strconv.ParseUint(v, 0, 64); err == nil {
		return memory.Size(n), nil
	}
	n, err := humanize.ParseBytes(v)
	if err != nil {
		return def, fmt.Errorf("argument %s=%q: %w", key, v, memory.ErrArgument)
	}
	return memory.Size(n), nil
}

// Only fails when a key outside allowed is present.
func (a Args) Only(allowed ...string) error {
	for k := range a.values {
		found := false
		for _, name := range allowed {
			if k == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown argument %q: %w", k, memory.ErrArgument)
		}
	}
	return nil
}

// Keys returns the present keys in sorted order.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a.values))
	for k := range a.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the arguments back in canonical form.
func (a Args) String() string {
	var parts []string
	if a.def != "" {
		parts = append(parts, a.def)
	}
	for _, k := range a.Keys() {
		parts = append(parts, k+"="+a.values[k])
	}
	return strings.Join(parts, ",")
}
