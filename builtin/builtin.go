// Package builtin lists every connector and os compiled into gomemflow.
package builtin

import (
	"gomemflow/connector_blob"
	"gomemflow/connector_dump"
	"gomemflow/connector_file"
	"gomemflow/connector_qemu"
	"gomemflow/inventory"
	"gomemflow/os_kernel"
	"gomemflow/os_native"
)

// Drivers returns the compiled in factories.
func Drivers() []inventory.Driver {
	return []inventory.Driver{
		inventory.ConnectorDriver(connector_blob.DriverName, connector_blob.Open),
		inventory.ConnectorDriver(connector_file.DriverName, connector_file.Open),
		inventory.ConnectorDriver(connector_dump.DriverName, connector_dump.Open),
		inventory.ConnectorDriver(connector_qemu.DriverName, connector_qemu.Open),
		inventory.OSDriver(os_kernel.DriverName, os_kernel.Open),
		inventory.OSDriver(os_native.DriverName, os_native.Open),
	}
}

// Manifests binds every driver under its own name.
func Manifests() []inventory.Manifest {
	descriptions := map[string]string{
		connector_blob.DriverName: "zero filled in-memory buffer",
		connector_file.DriverName: "raw physical memory image",
		connector_dump.DriverName: "snapshot directory",
		connector_qemu.DriverName: "guest RAM of a local qemu process",
		os_kernel.DriverName:      "profile driven guest kernel",
		os_native.DriverName:      "host processes through procfs",
	}
	var out []inventory.Manifest
	for _, d := range Drivers() {
		out = append(out, inventory.Manifest{
			Name:        d.Name,
			Kind:        d.Kind,
			Driver:      d.Name,
			Description: descriptions[d.Name],
		})
	}
	return out
}

// NewInventory knows every compiled in driver but binds no names.
func NewInventory() *inventory.Inventory {
	return inventory.New(Drivers()...)
}

// NewDefaultInventory also binds each driver under its own name, so plugin
// directories only need manifests for extra names or default arguments.
func NewDefaultInventory() *inventory.Inventory {
	inv := NewInventory()
	for _, m := range Manifests() {
		// every manifest names a driver registered above
		_ = inv.Register(m)
	}
	return inv
}
