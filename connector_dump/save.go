package connector_dump

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gomemflow/arch"
	"gomemflow/connector"
	"gomemflow/memory"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// saveChunk bounds the bytes buffered per range file write during Save.
const saveChunk = 1 << 20

const savePage = 4096

// Save writes a snapshot of ranges read from c into dirname. An empty ranges
// list saves the whole [0, MaxAddress) range. a may be empty when the
// architecture is unknown.
func Save(dirname string, c connector.Connector, ranges []Range, a arch.Ident) (Metadata, error) {
	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "dump-save"))

	md := c.Metadata()
	if len(ranges) == 0 {
		ranges = []Range{{Address: 0, Size: memory.Size(md.MaxAddress)}}
	}
	ranges, err := sortRanges(ranges)
	if err != nil {
		return Metadata{}, err
	}
	for _, r := range ranges {
		if err := connector.CheckBounds(md, r.Address, r.Size); err != nil {
			return Metadata{}, err
		}
	}

	if err := os.MkdirAll(dirname, 0755); err != nil {
		return Metadata{}, fmt.Errorf("failed to create directory: %w", err)
	}

	meta := Metadata{
		ID:         uuid.New().String(),
		Created:    time.Now().UTC().Format(time.RFC3339),
		MaxAddress: md.MaxAddress,
		Arch:       a,
		Ranges:     ranges,
	}

	var total uint64
	for _, r := range ranges {
		if err := saveRange(filepath.Join(dirname, r.filename()), c, r); err != nil {
			return Metadata{}, err
		}
		total += uint64(r.Size)
		log.Debugln("Saved range", r.Address, humanize.IBytes(uint64(r.Size)))
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, metadataFile), raw, 0644); err != nil {
		return Metadata{}, fmt.Errorf("failed to write metadata file: %w", err)
	}

	log.Infoln("Snapshot saved", meta.ID, "to", dirname, humanize.IBytes(total))
	return meta, nil
}

func saveRange(filename string, c connector.Connector, r Range) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create range file: %w", err)
	}
	defer f.Close()

	// pages are queued one by one, the batcher groups them into
	// transactions of the connector's ideal size
	buf := make([]byte, min(r.Size, saveChunk))
	b := connector.NewBatcher(c)
	for off := memory.Size(0); off < r.Size; {
		chunk := buf[:min(r.Size-off, saveChunk)]
		for p := 0; p < len(chunk); p += savePage {
			b.Read(r.Address+memory.PhysicalAddress(off)+memory.PhysicalAddress(p), chunk[p:min(p+savePage, len(chunk))])
		}
		if err := b.Commit(); err != nil {
			return fmt.Errorf("failed to read range %s: %w", r.Address, err)
		}
		if _, err := f.Write(chunk); err != nil {
			return fmt.Errorf("failed to write range file: %w", err)
		}
		off += memory.Size(len(chunk))
	}
	return f.Close()
}
