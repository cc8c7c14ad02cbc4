package hexdump

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gomemflow/coloransi"
	"gomemflow/memory"
)

func TestDump(t *testing.T) {
	coloransi.SetEnabled(false)
	defer coloransi.SetEnabled(true)

	data := []byte("GoMem\x00\x01\x02hello, world!\n")
	got := Dump(data, Options{BytesPerLine: 8, GroupSize: 4, ShowASCII: true, Base: 0x1000})
	want := strings.Join([]string{
		"00001000  47 6f 4d 65  6d 00 01 02  |GoMem...|",
		"00001008  68 65 6c 6c  6f 2c 20 77  |hello, w|",
		"00001010  6f 72 6c 64  21 0a        |orld!.|",
		"",
	}, "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("dump (-want +got):\n%s", diff)
	}

	got = Dump(data, Options{BytesPerLine: 8, MaxLines: 1})
	if !strings.HasSuffix(got, "... 14 more bytes\n") {
		t.Errorf("truncated dump = %q", got)
	}
}

func TestDumpHighlight(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	got := Dump(data, Options{BytesPerLine: 4, Base: 0x10, Highlight: []memory.Range{{Start: 0x11, Size: 2}}})
	marked := coloransi.Highlight(coloransi.Black, coloransi.Yellow, "ad")
	if !strings.Contains(got, marked) {
		t.Errorf("dump %q lacks highlighted ad", got)
	}
	if strings.Contains(got, coloransi.Highlight(coloransi.Black, coloransi.Yellow, "de")) {
		t.Errorf("dump %q highlights outside the range", got)
	}
}
