//go:build !linux

package os_native

import (
	"fmt"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/guestos"
	"gomemflow/memory"
)

// Open fails everywhere but Linux.
func Open(_ connector.Connector, a args.Args) (guestos.OS, error) {
	return nil, fmt.Errorf("native os: %w", memory.ErrUnsupported)
}
