//go:build !linux

package connector_qemu

import (
	"fmt"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/memory"
)

// Open fails everywhere but Linux.
func Open(a args.Args) (connector.Connector, error) {
	return nil, fmt.Errorf("qemu connector: %w", memory.ErrUnsupported)
}
