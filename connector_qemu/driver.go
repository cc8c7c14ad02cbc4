// Package connector_qemu exposes the guest RAM of a running QEMU process as
// physical memory.
package connector_qemu

// DriverName is the inventory driver name of this connector.
const DriverName = "qemu"

// DefaultProcessName is the process looked up when neither pid nor name is
// given.
const DefaultProcessName = "qemu-system-x86_64"
