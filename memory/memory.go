// Package memory provides the address types, error taxonomy and typed access
// helpers shared by connectors, operating systems and processes.
package memory

import "errors"

var (
	// ErrNotFound is returned when a name, pid or address lookup has no match.
	ErrNotFound = errors.New("not found")

	// ErrOutOfBounds is returned when a physical access falls outside the
	// range a connector declares, or outside any backed range.
	ErrOutOfBounds = errors.New("address out of bounds")

	// ErrUnmappedPage is returned when a virtual address has no backing page.
	ErrUnmappedPage = errors.New("unmapped page")

	// ErrTranslationFault is returned when a page-table entry is malformed.
	ErrTranslationFault = errors.New("translation fault")

	// ErrReadOnly is returned on writes to a read-only connector or region.
	ErrReadOnly = errors.New("read only")

	// ErrSizeMismatch is returned when the bytes read do not match the size
	// of the requested type.
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrArgument is returned when construction arguments fail validation.
	ErrArgument = errors.New("invalid argument")

	// ErrDetachedProcess is returned when a handle is used after its parent
	// os or connector has been closed.
	ErrDetachedProcess = errors.New("detached process")

	// ErrAmbiguous is returned by strict lookups that match more than once.
	ErrAmbiguous = errors.New("ambiguous match")

	// ErrCorruptList is returned when a kernel list walk loops or runs past
	// its element cap.
	ErrCorruptList = errors.New("corrupt list")

	ErrUnsupported = errors.New("unsupported operation")
)

// Kinds lists the taxonomy errors in the order KindOf checks them.
var Kinds = []error{
	ErrDetachedProcess,
	ErrNotFound,
	ErrOutOfBounds,
	ErrUnmappedPage,
	ErrTranslationFault,
	ErrReadOnly,
	ErrSizeMismatch,
	ErrArgument,
	ErrAmbiguous,
	ErrCorruptList,
	ErrUnsupported,
}

// KindOf returns the taxonomy error that err wraps, or nil if it wraps none.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range Kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
