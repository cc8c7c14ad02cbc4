package pod

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strings"

	"gomemflow/memory"
)

type podTag struct {
	kind       string
	required   bool
	errFailure bool
}

// parsePodTags splits a pod tag into its kind and options.
func parsePodTags(tag string) podTag {
	parts := strings.Split(tag, ",")
	t := podTag{kind: parts[0]}
	for _, opt := range parts[1:] {
		switch opt {
		case "required", "required=true":
			t.required = true
		case "err_failure":
			t.errFailure = true
		}
	}
	return t
}

// ReadStruct reads the struct dst points to from addr. Unlike ReadT it
// accepts Go pointer fields: a pointer tagged valid_pointer is followed and
// the pointee read recursively; other pointers, strings, slices and maps stay
// zero.
func ReadStruct(v memory.View, addr memory.Address, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("ReadStruct: %T is not a pointer to a struct: %w", dst, memory.ErrArgument)
	}
	elem := rv.Elem()
	size := memory.Size(elem.Type().Size())
	data, err := v.ReadMemory(addr, size)
	if err != nil {
		return fmt.Errorf("ReadStruct: struct at %s: %w", addr, err)
	}
	if memory.Size(len(data)) != size {
		return fmt.Errorf("ReadStruct: %d bytes at %s: %w", len(data), addr, memory.ErrSizeMismatch)
	}
	if err := decode(elem, data, v); err != nil {
		return err
	}
	cleanStruct(elem, v)
	return nil
}

// decode fills rv from little endian data of exactly rv's size.
func decode(rv reflect.Value, data []byte, v memory.View) error {
	le := binary.LittleEndian
	switch rv.Kind() {
	case reflect.Bool:
		rv.SetBool(data[0] != 0)
	case reflect.Uint8:
		rv.SetUint(uint64(data[0]))
	case reflect.Uint16:
		rv.SetUint(uint64(le.Uint16(data)))
	case reflect.Uint32:
		rv.SetUint(uint64(le.Uint32(data)))
	case reflect.Uint64, reflect.Uint, reflect.Uintptr:
		rv.SetUint(le.Uint64(data))
	case reflect.Int8:
		rv.SetInt(int64(int8(data[0])))
	case reflect.Int16:
		rv.SetInt(int64(int16(le.Uint16(data))))
	case reflect.Int32:
		rv.SetInt(int64(int32(le.Uint32(data))))
	case reflect.Int64, reflect.Int:
		rv.SetInt(int64(le.Uint64(data)))
	case reflect.Float32:
		rv.SetFloat(float64(math.Float32frombits(le.Uint32(data))))
	case reflect.Float64:
		rv.SetFloat(math.Float64frombits(le.Uint64(data)))
	case reflect.Array:
		step := int(rv.Type().Elem().Size())
		for i := 0; i < rv.Len(); i++ {
			if err := decode(rv.Index(i), data[i*step:(i+1)*step], v); err != nil {
				return err
			}
		}
	case reflect.Struct:
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			sf := rt.Field(i)
			field := rv.Field(i)
			if !field.CanSet() {
				continue
			}
			tag := parsePodTags(sf.Tag.Get("pod"))
			if tag.kind == "skip" {
				continue
			}
			raw := data[sf.Offset : sf.Offset+sf.Type.Size()]
			if field.Kind() == reflect.Ptr {
				if err := follow(field, sf, tag, raw, v); err != nil {
					return err
				}
				continue
			}
			if err := decode(field, raw, v); err != nil {
				return fmt.Errorf("field %s: %w", sf.Name, err)
			}
		}
	}
	// pointers outside structs, strings, slices and maps have no target form
	return nil
}

func follow(field reflect.Value, sf reflect.StructField, tag podTag, raw []byte, v memory.View) error {
	if tag.kind != "valid_pointer" || sf.Type.Elem().Kind() != reflect.Struct {
		return nil
	}
	var ptr memory.Address
	switch len(raw) {
	case 4:
		ptr = memory.Address(binary.LittleEndian.Uint32(raw))
	case 8:
		ptr = memory.Address(binary.LittleEndian.Uint64(raw))
	default:
		return nil
	}
	if ptr == 0 {
		return nil
	}
	if !Valid(v, ptr) {
		if tag.errFailure {
			return fmt.Errorf("field %s: pointer %s: %w", sf.Name, ptr, memory.ErrUnmappedPage)
		}
		return nil
	}
	obj := reflect.New(sf.Type.Elem())
	if err := ReadStruct(v, ptr, obj.Interface()); err != nil {
		if tag.errFailure {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}
		return nil
	}
	field.Set(obj)
	return nil
}

// cleanStruct applies tags in lenient mode: invalid pointers become null and
// char arrays are zeroed past their terminator.
func cleanStruct(rv reflect.Value, v memory.View) {
	if rv.Kind() != reflect.Struct {
		return
	}
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		if !field.CanSet() {
			continue
		}
		tag := parsePodTags(rt.Field(i).Tag.Get("pod"))
		switch tag.kind {
		case "valid_pointer":
			if isAddress(field) && !Valid(v, memory.Address(field.Uint())) {
				field.SetUint(0)
			}
		case "char_array":
			cleanCharArray(field)
		case "":
			if field.Kind() == reflect.Struct {
				cleanStruct(field, v)
			}
		}
	}
}

// Validate checks the tags of the struct ptr points to without changing it:
// a required pointer that is null or a valid_pointer that does not point at
// readable memory is an error.
func Validate(v memory.View, ptr any) error {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("Validate: %T is not a pointer to a struct: %w", ptr, memory.ErrArgument)
	}
	elem := rv.Elem()
	rt := elem.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := elem.Field(i)
		sf := rt.Field(i)
		tag := parsePodTags(sf.Tag.Get("pod"))
		if tag.kind != "valid_pointer" || !isAddress(field) {
			continue
		}
		addr := memory.Address(field.Uint())
		if addr == 0 {
			if tag.required {
				return fmt.Errorf("field %s: required pointer is null: %w", sf.Name, memory.ErrArgument)
			}
			continue
		}
		if !Valid(v, addr) {
			return fmt.Errorf("field %s: pointer %s: %w", sf.Name, addr, memory.ErrUnmappedPage)
		}
	}
	return nil
}

func isAddress(field reflect.Value) bool {
	switch field.Kind() {
	case reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	}
	return false
}

// cleanCharArray ensures proper null termination
func cleanCharArray(field reflect.Value) {
	if field.Kind() != reflect.Array || field.Type().Elem().Kind() != reflect.Uint8 {
		return
	}
	foundNull := false
	for i := 0; i < field.Len(); i++ {
		if foundNull {
			field.Index(i).SetUint(0)
		} else if field.Index(i).Uint() == 0 {
			foundNull = true
		}
	}
}
