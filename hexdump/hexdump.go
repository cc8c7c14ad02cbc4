// Package hexdump renders memory as offset, hex and ASCII columns.
package hexdump

import (
	"fmt"
	"io"
	"strings"

	"gomemflow/coloransi"
	"gomemflow/memory"
)

// Options control the layout.
type Options struct {
	// BytesPerLine defines the number of bytes to display per line
	BytesPerLine int

	// GroupSize inserts an extra space after every GroupSize bytes
	GroupSize int

	ShowASCII bool

	// Base is the address of data[0]
	Base memory.Address

	// Highlight marks address ranges, such as scan matches
	Highlight []memory.Range

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() Options {
	return Options{
		BytesPerLine: 16,
		GroupSize:    8,
		ShowASCII:    true,
	}
}

// Dump creates a hex dump of the given data with specified options
func Dump(data []byte, opts Options) string {
	var sb strings.Builder
	DumpToWriter(&sb, data, opts)
	return sb.String()
}

// DumpToWriter writes a hex dump of the given data to the specified writer
func DumpToWriter(w io.Writer, data []byte, opts Options) {
	if opts.BytesPerLine <= 0 {
		opts.BytesPerLine = 16
	}
	if opts.GroupSize <= 0 {
		opts.GroupSize = opts.BytesPerLine
	}
	width := len(fmt.Sprintf("%x", uint64(opts.Base)+uint64(len(data))))
	width = max(width, 8)

	lines := 0
	for off := 0; off < len(data); off += opts.BytesPerLine {
		if opts.MaxLines > 0 && lines >= opts.MaxLines {
			fmt.Fprintf(w, "... %d more bytes\n", len(data)-off)
			return
		}
		end := min(off+opts.BytesPerLine, len(data))
		line(w, data[off:end], opts.Base.Add(memory.Size(off)), width, opts)
		lines++
	}
}

func highlighted(addr memory.Address, ranges []memory.Range) bool {
	for _, r := range ranges {
		if r.Contains(addr) {
			return true
		}
	}
	return false
}

func line(w io.Writer, row []byte, addr memory.Address, width int, opts Options) {
	var sb strings.Builder
	sb.WriteString(coloransi.Paint(coloransi.Cyan, fmt.Sprintf("%0*x", width, uint64(addr))))
	sb.WriteString("  ")

	for i := 0; i < opts.BytesPerLine; i++ {
		if i > 0 && i%opts.GroupSize == 0 {
			sb.WriteByte(' ')
		}
		if i >= len(row) {
			sb.WriteString("   ")
			continue
		}
		cell := fmt.Sprintf("%02x", row[i])
		switch {
		case highlighted(addr.Add(memory.Size(i)), opts.Highlight):
			cell = coloransi.Highlight(coloransi.Black, coloransi.Yellow, cell)
		case row[i] == 0:
			cell = coloransi.Paint(coloransi.BrightBlack, cell)
		default:
			cell = coloransi.Paint(coloransi.Green, cell)
		}
		sb.WriteString(cell)
		sb.WriteByte(' ')
	}

	if opts.ShowASCII {
		sb.WriteString(" |")
		for i, b := range row {
			ch := "."
			if b >= 0x20 && b < 0x7f {
				ch = string(rune(b))
			}
			if highlighted(addr.Add(memory.Size(i)), opts.Highlight) {
				ch = coloransi.Highlight(coloransi.Black, coloransi.Yellow, ch)
			}
			sb.WriteString(ch)
		}
		sb.WriteByte('|')
	}
	sb.WriteByte('\n')
	io.WriteString(w, sb.String())
}
