package dtype

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"

	"gomemflow/memory"
)

// Decode interprets exactly Size bytes.
func (t *Type) Decode(b []byte) (any, error) {
	if len(b) != t.size {
		return nil, fmt.Errorf("decode %s from %d bytes, want %d: %w", t, len(b), t.size, memory.ErrSizeMismatch)
	}

	le := binary.LittleEndian
	switch t.kind {
	case KindByte:
		return int8(b[0]), nil
	case KindUByte:
		return b[0], nil
	case KindChar:
		return b[0], nil
	case KindWideChar:
		return rune(le.Uint16(b)), nil
	case KindShort:
		return int16(le.Uint16(b)), nil
	case KindUShort:
		return le.Uint16(b), nil
	case KindInt:
		return int32(le.Uint32(b)), nil
	case KindUInt:
		return le.Uint32(b), nil
	case KindLong, KindLongLong:
		return int64(le.Uint64(b)), nil
	case KindULong, KindULongLong:
		return le.Uint64(b), nil
	case KindFloat:
		return math.Float32frombits(le.Uint32(b)), nil
	case KindDouble:
		return math.Float64frombits(le.Uint64(b)), nil
	case KindLongDouble:
		return nil, fmt.Errorf("decode %s: %w", t, memory.ErrUnsupported)
	case KindPointer:
		var buf [8]byte
		copy(buf[:], b)
		return memory.Address(le.Uint64(buf[:])), nil
	case KindArray:
		out := make([]any, t.length)
		step := t.elem.size
		for i := range out {
			v, err := t.elem.Decode(b[i*step : (i+1)*step])
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = v
		}
		return out, nil
	case KindStruct:
		out := make(map[string]any, len(t.fields))
		for _, f := range t.fields {
			v, err := f.Type.Decode(b[f.Offset : f.Offset+f.Type.size])
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", f.Name, err)
			}
			out[f.Name] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("decode %s: %w", t, memory.ErrUnsupported)
}

// Encode renders val as Size bytes. Integers of any Go width are accepted
// for integer kinds, truncated to the descriptor's width. Arrays take any
// slice or array of the exact length; structures take a map[string]any
// holding every field.
func (t *Type) Encode(val any) ([]byte, error) {
	b := make([]byte, t.size)
	if err := t.encode(b, val); err != nil {
		return nil, err
	}
	return b, nil
}

func (t *Type) encode(b []byte, val any) error {
	le := binary.LittleEndian
	switch t.kind {
	case KindFloat, KindDouble:
		f, err := toFloat(val)
		if err != nil {
			return fmt.Errorf("encode %s: %w", t, err)
		}
		if t.kind == KindFloat {
			le.PutUint32(b, math.Float32bits(float32(f)))
		} else {
			le.PutUint64(b, math.Float64bits(f))
		}
		return nil
	case KindLongDouble:
		return fmt.Errorf("encode %s: %w", t, memory.ErrUnsupported)
	case KindArray:
		rv := reflect.ValueOf(val)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return fmt.Errorf("encode %s from %T: %w", t, val, memory.ErrArgument)
		}
		if rv.Len() != t.length {
			return fmt.Errorf("encode %s from %d elements: %w", t, rv.Len(), memory.ErrSizeMismatch)
		}
		step := t.elem.size
		for i := 0; i < t.length; i++ {
			if err := t.elem.encode(b[i*step:(i+1)*step], rv.Index(i).Interface()); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	case KindStruct:
		m, ok := val.(map[string]any)
		if !ok {
			return fmt.Errorf("encode %s from %T: %w", t, val, memory.ErrArgument)
		}
		for _, f := range t.fields {
			fv, ok := m[f.Name]
			if !ok {
				return fmt.Errorf("encode %s: %q: %w", t, f.Name, ErrMissingField)
			}
			if err := f.Type.encode(b[f.Offset:f.Offset+f.Type.size], fv); err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}
		}
		return nil
	}

	// integer kinds, pointers and characters
	u, err := toUint(val)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t, err)
	}
	var buf [8]byte
	le.PutUint64(buf[:], u)
	copy(b, buf[:t.size])
	return nil
}

func toUint(val any) (uint64, error) {
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return uint64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), nil
	case reflect.Bool:
		if rv.Bool() {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%T is not an integer: %w", val, memory.ErrArgument)
}

func toFloat(val any) (float64, error) {
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("%T is not a number: %w", val, memory.ErrArgument)
}
