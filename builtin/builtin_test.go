package builtin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gomemflow/inventory"
)

func TestNewInventory(t *testing.T) {
	inv := NewInventory()
	if got := inv.AvailableConnectors(); len(got) != 0 {
		t.Errorf("connectors = %v", got)
	}
	if diff := cmp.Diff([]string{"blob", "dump", "file", "qemu"}, inv.DriverNames(inventory.KindConnector)); diff != "" {
		t.Errorf("connector drivers (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"kernel", "native"}, inv.DriverNames(inventory.KindOS)); diff != "" {
		t.Errorf("os drivers (-want +got):\n%s", diff)
	}
}

func TestDefaultInventory(t *testing.T) {
	inv := NewDefaultInventory()
	if diff := cmp.Diff([]string{"blob", "dump", "file", "qemu"}, inv.AvailableConnectors()); diff != "" {
		t.Errorf("connectors (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"kernel", "native"}, inv.AvailableOS()); diff != "" {
		t.Errorf("os (-want +got):\n%s", diff)
	}

	image := filepath.Join(t.TempDir(), "mem.raw")
	if err := os.WriteFile(image, make([]byte, 8192), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := inv.Connector("file", image)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if md := c.Metadata(); md.MaxAddress != 8192 || !md.ReadOnly {
		t.Errorf("metadata = %+v", md)
	}
}
