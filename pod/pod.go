// Package pod reads and writes plain old data Go structs laid out the way
// the target stores them. Fields may carry a `pod` tag:
//
//	pod:"valid_pointer"               null it when it does not point at readable memory
//	pod:"valid_pointer,required"      Validate fails when it is null
//	pod:"valid_pointer,err_failure"   ReadStruct fails instead of nulling it
//	pod:"char_array"                  zero everything after the first NUL
//	pod:"skip"                        ReadStruct leaves it zero
package pod

import (
	"fmt"
	"reflect"
	"unsafe"

	"gomemflow/memory"
)

// ReadT reads a T at addr and applies its pod tags, nulling pointers that do
// not point at readable memory. T must not contain Go pointers.
func ReadT[T any](v memory.View, addr memory.Address) (T, error) {
	var zero T
	if memory.SizeOf[T]() == 0 {
		return zero, fmt.Errorf("ReadT: size of %T is zero: %w", zero, memory.ErrArgument)
	}
	if hasPointers[T]() {
		return zero, fmt.Errorf("ReadT: %T contains pointers: %w", zero, memory.ErrArgument)
	}
	t, err := memory.Read[T](v, addr)
	if err != nil {
		return zero, err
	}
	cleanStruct(reflect.ValueOf(&t).Elem(), v)
	return t, nil
}

// ReadSliceT reads count consecutive elements with one read.
func ReadSliceT[T any](v memory.View, addr memory.Address, count int) ([]T, error) {
	var zero T
	if count < 0 {
		return nil, fmt.Errorf("ReadSliceT: count %d: %w", count, memory.ErrArgument)
	}
	if hasPointers[T]() {
		return nil, fmt.Errorf("ReadSliceT: %T contains pointers: %w", zero, memory.ErrArgument)
	}
	size := memory.SizeOf[T]()
	if size == 0 || count == 0 {
		return []T{}, nil
	}

	data, err := v.ReadMemory(addr, size*memory.Size(count))
	if err != nil {
		return nil, err
	}
	if memory.Size(len(data)) != size*memory.Size(count) {
		return nil, fmt.Errorf("ReadSliceT: %d bytes for %d elements: %w", len(data), count, memory.ErrSizeMismatch)
	}

	out := make([]T, count)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&out[0])), len(data)), data)
	for i := range out {
		cleanStruct(reflect.ValueOf(&out[i]).Elem(), v)
	}
	return out, nil
}

// WriteT stores val at addr using its in-memory layout.
func WriteT[T any](v memory.View, addr memory.Address, val T) error {
	if hasPointers[T]() {
		return fmt.Errorf("WriteT: %T contains pointers: %w", val, memory.ErrArgument)
	}
	return memory.Write(v, addr, val)
}

// ReadPointerList reads count pointers of width bytes at addr and keeps the
// ones that point at readable memory.
func ReadPointerList(v memory.View, addr memory.Address, count, width int) ([]memory.Address, error) {
	var results []memory.Address
	for i := range count {
		ptr, err := memory.ReadPointer(v, addr.Add(memory.Size(i*width)), width)
		if err != nil {
			return nil, fmt.Errorf("ReadPointerList: at %s: %w", addr, err)
		}
		if Valid(v, ptr) {
			results = append(results, ptr)
		}
	}
	return results, nil
}

// Valid reports whether addr is non-null and readable through v.
func Valid(v memory.View, addr memory.Address) bool {
	if addr == 0 {
		return false
	}
	_, err := v.ReadMemory(addr, 1)
	return err == nil
}

// hasPointers reports whether T (recursively) contains any pointer-like fields.
func hasPointers[T any]() bool {
	return typeHasPointers(reflect.TypeFor[T]())
}

func typeHasPointers(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Ptr, reflect.UnsafePointer, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.String, reflect.Chan:
		return true
	case reflect.Array:
		return typeHasPointers(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			if typeHasPointers(rt.Field(i).Type) {
				return true
			}
		}
	}
	return false
}
