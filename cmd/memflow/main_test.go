package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gomemflow/dtype"
	"gomemflow/memory"
)

func run(t *testing.T, argv ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &errOut
	if err := app.Run(append([]string{"memflow", "--no-color"}, argv...)); err != nil {
		t.Fatalf("memflow %s: %v\n%s", strings.Join(argv, " "), err, errOut.String())
	}
	return out.String()
}

// machine writes a synthetic image and returns the global flags that open it.
func machine(t *testing.T) []string {
	t.Helper()
	t.Setenv("MEMFLOW_PLUGIN_PATH", t.TempDir())
	t.Setenv("MEMFLOW_AUDIT_LOG", "")
	dir := t.TempDir()
	run(t, "synth", "--out", dir)
	return []string{
		"-c", "file",
		"--connector-args", "path=" + filepath.Join(dir, "mem.raw") + ",rw=true",
		"--os-args", "profile=" + filepath.Join(dir, "profile.json"),
	}
}

func TestPlugins(t *testing.T) {
	t.Setenv("MEMFLOW_PLUGIN_PATH", t.TempDir())
	out := run(t, "plugins")
	for _, want := range []string{"file", "qemu", "kernel", "native", "drivers: connector=blob,dump,file,qemu os=kernel,native"} {
		if !strings.Contains(out, want) {
			t.Errorf("plugins output lacks %q:\n%s", want, out)
		}
	}
}

func TestProcessesAndModules(t *testing.T) {
	global := machine(t)

	out := run(t, append(global, "ps")...)
	for _, want := range []string{"System", "smss.exe", "notepad.exe", "1337"} {
		if !strings.Contains(out, want) {
			t.Errorf("ps output lacks %q:\n%s", want, out)
		}
	}

	out = run(t, append(global, "modules", "--name", "NOTEPAD.EXE")...)
	for _, want := range []string{"KERNEL32.DLL", "0x7FFA0F000000", "776 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("modules output lacks %q:\n%s", want, out)
		}
	}

	out = run(t, append(global, "kmods")...)
	if !strings.Contains(out, "hal.dll") {
		t.Errorf("kmods output lacks hal.dll:\n%s", out)
	}
}

func TestWriteRead(t *testing.T) {
	global := machine(t)
	logPath := filepath.Join(t.TempDir(), "audit.log")

	out := run(t, append([]string{"--audit-log", logPath}, append(global, "write", "--phys", "--addr", "0xffff00", "--hex", "ef be ad de")...)...)
	if !strings.Contains(out, "wrote 4 bytes") {
		t.Errorf("write output = %q", out)
	}
	out = run(t, append(global, "read", "--phys", "--addr", "0xffff00", "--type", "uint")...)
	if !strings.Contains(out, "= 3735928559") {
		t.Errorf("read output = %q", out)
	}
	out = run(t, append(global, "read", "--phys", "--addr", "0xffff00", "--size", "16")...)
	if !strings.Contains(out, "ef be ad de") {
		t.Errorf("hexdump output = %q", out)
	}

	logged, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(logged), "WRITE") || !strings.Contains(string(logged), `addr="0xFFFF00"`) {
		t.Errorf("audit log = %q", logged)
	}
}

func TestExport(t *testing.T) {
	global := machine(t)
	db := filepath.Join(t.TempDir(), "report.db")

	out := run(t, append(global, "export", "--db", db)...)
	if !strings.Contains(out, "3 processes, 7 modules") {
		t.Errorf("export output = %q", out)
	}
	out = run(t, "export", "--db", db, "--list")
	if !strings.Contains(out, "file") || !strings.Contains(out, "kernel") {
		t.Errorf("session list = %q", out)
	}
}

func TestParseAddress(t *testing.T) {
	for in, want := range map[string]memory.Address{
		"0x1000":         0x1000,
		"1000":           0x1000,
		"ffff_8000_0000": 0xffff80000000,
	} {
		got, err := parseAddress(in)
		if err != nil || got != want {
			t.Errorf("parseAddress(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, in := range []string{"", "zz", "0x"} {
		if _, err := parseAddress(in); !errors.Is(err, memory.ErrArgument) {
			t.Errorf("parseAddress(%q) err = %v", in, err)
		}
	}
}

func TestParseRange(t *testing.T) {
	got, err := parseRange("0x2000:4k")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(memory.Range{Start: 0x2000, Size: 4000}, got); diff != "" {
		t.Errorf("range (-want +got):\n%s", diff)
	}
	got, err = parseRange("2000:0x100")
	if err != nil || got.Size != 0x100 {
		t.Errorf("parseRange = %v, %v", got, err)
	}
	if _, err := parseRange("0x2000"); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("missing size err = %v", err)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		typ  string
		in   string
		want []byte
	}{
		{"uint", "0x11223344", []byte{0x44, 0x33, 0x22, 0x11}},
		{"short", "-2", []byte{0xfe, 0xff}},
		{"char", "A", []byte{'A'}},
		{"[4]char", "hi", []byte{'h', 'i', 0, 0}},
		{"float", "1", []byte{0, 0, 0x80, 0x3f}},
	}
	for _, tt := range tests {
		typ := dtype.MustParse(tt.typ)
		val, err := parseValue(typ, tt.in)
		if err != nil {
			t.Errorf("parseValue(%s, %q): %v", tt.typ, tt.in, err)
			continue
		}
		got, err := typ.Encode(val)
		if err != nil {
			t.Errorf("Encode(%s, %v): %v", tt.typ, val, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s %q (-want +got):\n%s", tt.typ, tt.in, diff)
		}
	}

	if _, err := parseValue(dtype.MustParse("[2]char"), "abc"); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("overlong string err = %v", err)
	}
	if _, err := parseValue(dtype.MustParse("{a: int}"), "1"); !errors.Is(err, memory.ErrUnsupported) {
		t.Errorf("struct err = %v", err)
	}
}

func TestParseHex(t *testing.T) {
	got, err := parseHex("de ad,be ef")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{0xde, 0xad, 0xbe, 0xef}, got); diff != "" {
		t.Errorf("bytes (-want +got):\n%s", diff)
	}
	if _, err := parseHex("abc"); !errors.Is(err, memory.ErrArgument) {
		t.Errorf("odd length err = %v", err)
	}
}
