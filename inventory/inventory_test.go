package inventory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/connector_blob"
	"gomemflow/guestos"
	"gomemflow/memory"
)

func testInventory() *Inventory {
	return New(
		ConnectorDriver(connector_blob.DriverName, connector_blob.Open),
		OSDriver("never", func(c connector.Connector, a args.Args) (guestos.OS, error) {
			return nil, errors.New("no os here")
		}),
	)
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

const plistDummy = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>name</key><string>dummy</string>
	<key>kind</key><string>connector</string>
	<key>driver</key><string>blob</string>
	<key>args</key><string>size=8192</string>
</dict>
</plist>
`

func TestEmptyInventory(t *testing.T) {
	inv := testInventory()
	if got := inv.AvailableConnectors(); len(got) != 0 {
		t.Errorf("connectors = %v", got)
	}
	if got := inv.AvailableOS(); len(got) != 0 {
		t.Errorf("os = %v", got)
	}
	// drivers are not reachable by their own name until bound
	if _, err := inv.Connector("blob", ""); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("unbound driver: %v", err)
	}
	if diff := cmp.Diff([]string{"blob"}, inv.DriverNames(KindConnector)); diff != "" {
		t.Errorf("drivers (-want +got):\n%s", diff)
	}
}

func TestAddDirDummy(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"dummy.json": `{"name": "dummy", "kind": "connector", "driver": "blob", "args": "size=4096"}`,
		"notes.txt":  "not a manifest",
	})
	inv := testInventory()
	n, err := inv.AddDir(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("registered %d", n)
	}
	if diff := cmp.Diff([]string{"dummy"}, inv.AvailableConnectors()); diff != "" {
		t.Errorf("connectors (-want +got):\n%s", diff)
	}

	c, err := inv.Connector("dummy", "")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	md := c.Metadata()
	if md.ReadOnly || md.MaxAddress != 4096 {
		t.Errorf("metadata = %+v", md)
	}
	if err := c.WritePhys(0x10, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadPhys(0x10, 3)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3}, got); diff != "" {
		t.Errorf("read back (-want +got):\n%s", diff)
	}

	// call arguments override the manifest
	ro, err := inv.Connector("dummy", "readonly=true")
	if err != nil {
		t.Fatal(err)
	}
	if md := ro.Metadata(); !md.ReadOnly || md.MaxAddress != 4096 {
		t.Errorf("merged metadata = %+v", md)
	}
}

func TestLastRegistrationWins(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"a.json":  `{"name": "dummy", "kind": "connector", "driver": "blob", "args": "size=4096"}`,
		"b.plist": plistDummy,
	})
	inv := testInventory()
	if _, err := inv.AddDir(dir, ""); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"dummy"}, inv.AvailableConnectors()); diff != "" {
		t.Errorf("connectors (-want +got):\n%s", diff)
	}
	c, err := inv.Connector("dummy", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Metadata().MaxAddress; got != 8192 {
		t.Errorf("max address = %d, want the plist binding", got)
	}

	if err := inv.Register(Manifest{Name: "dummy", Kind: KindConnector, Driver: "blob", Args: "size=1k"}); err != nil {
		t.Fatal(err)
	}
	c, err = inv.Connector("dummy", "")
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Metadata().MaxAddress; got != 1000 {
		t.Errorf("max address = %d after Register", got)
	}
	if n := len(inv.AvailableConnectors()); n != 1 {
		t.Errorf("%d entries", n)
	}
}

func TestAddDirSkips(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"bad.json":     `{"name":`,
		"driver.json":  `{"name": "x", "kind": "connector", "driver": "nope"}`,
		"kind.json":    `{"name": "y", "kind": "gadget", "driver": "blob"}`,
		"noname.json":  `{"kind": "connector", "driver": "blob"}`,
		"keep.json":    `{"name": "keep", "kind": "connector", "driver": "blob"}`,
		"os.json":      `{"name": "win", "kind": "os", "driver": "never"}`,
		"badargs.json": `{"name": "z", "kind": "connector", "driver": "blob", "args": "a,b"}`,
	})
	inv := testInventory()
	n, err := inv.AddDir(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("registered %d, want 2", n)
	}
	if diff := cmp.Diff([]string{"keep"}, inv.AvailableConnectors()); diff != "" {
		t.Errorf("connectors (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"win"}, inv.AvailableOS()); diff != "" {
		t.Errorf("os (-want +got):\n%s", diff)
	}
}

func TestAddDirPattern(t *testing.T) {
	dir := writeFiles(t, map[string]string{
		"qemu-one.json": `{"name": "one", "kind": "connector", "driver": "blob"}`,
		"other.json":    `{"name": "two", "kind": "connector", "driver": "blob"}`,
	})
	inv := testInventory()
	if _, err := inv.AddDir(dir, "qemu-*"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"one"}, inv.AvailableConnectors()); diff != "" {
		t.Errorf("connectors (-want +got):\n%s", diff)
	}
	if _, err := inv.AddDir(dir, "["); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("bad pattern: %v", err)
	}
	if _, err := inv.AddDir(filepath.Join(dir, "missing"), ""); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing dir: %v", err)
	}
}

func TestErrors(t *testing.T) {
	inv := testInventory()
	for _, m := range []Manifest{
		{Name: "dummy", Kind: KindConnector, Driver: "blob", Args: "size=4096"},
		{Name: "win", Kind: KindOS, Driver: "never"},
	} {
		if err := inv.Register(m); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		call func() error
		want Error
	}{
		{
			name: "unknown connector",
			call: func() error { _, err := inv.Connector("nope", "x=1"); return err },
			want: Error{Kind: memory.ErrNotFound, Op: "connector", Name: "nope", Args: "x=1"},
		},
		{
			name: "driver rejects arguments",
			call: func() error { _, err := inv.Connector("dummy", "size=0"); return err },
			want: Error{Kind: memory.ErrArgument, Op: "connector", Name: "dummy", Args: "size=0"},
		},
		{
			name: "unparsable arguments",
			call: func() error { _, err := inv.Connector("dummy", "a,b"); return err },
			want: Error{Kind: memory.ErrArgument, Op: "connector", Name: "dummy", Args: "a,b"},
		},
		{
			name: "os driver failure without a kind",
			call: func() error { _, err := inv.OS("win", nil, ""); return err },
			want: Error{Kind: memory.ErrArgument, Op: "os", Name: "win"},
		},
		{
			name: "unknown os",
			call: func() error { _, err := inv.OS("dummy", nil, ""); return err },
			want: Error{Kind: memory.ErrNotFound, Op: "os", Name: "dummy"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			var ie *Error
			if !errors.As(err, &ie) {
				t.Fatalf("error %v is not an *Error", err)
			}
			if !errors.Is(err, tt.want.Kind) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.want.Kind)
			}
			if ie.Op != tt.want.Op || ie.Name != tt.want.Name || ie.Args != tt.want.Args {
				t.Errorf("error = %+v, want %+v", *ie, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, memory.ErrNotFound},
		{errors.Join(errors.New("wrapped"), memory.ErrUnsupported), memory.ErrUnsupported},
		{errors.New("plain"), memory.ErrArgument},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
