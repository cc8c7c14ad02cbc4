package scan

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"gomemflow/memory"
)

// DefaultChunkSize is how much memory one read covers.
const DefaultChunkSize memory.Size = 1 << 20

type options struct {
	chunkSize memory.Size
	workers   int
	limit     int
}

// Option configures Scan.
type Option func(*options)

// WithChunkSize sets the bytes read per chunk.
func WithChunkSize(size memory.Size) Option {
	return func(o *options) {
		o.chunkSize = size
	}
}

// WithWorkers sets how many chunks are scanned at once, capped to the CPU
// count.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithLimit stops dispatching chunks once n matches are found and keeps the
// n lowest. Ranges are visited in the order given. Zero means no limit.
func WithLimit(n int) Option {
	return func(o *options) {
		o.limit = n
	}
}

type chunk struct {
	start memory.Address
	// size bytes are read, matches only start in the first span bytes
	size memory.Size
	span memory.Size
}

// chunks splits r so every match inside r starts in exactly one chunk and
// lies wholly within that chunk's read.
func chunks(r memory.Range, chunkSize memory.Size, patLen int) []chunk {
	if r.Size < memory.Size(patLen) {
		return nil
	}
	var out []chunk
	overlap := memory.Size(patLen - 1)
	for off := memory.Size(0); off < r.Size; off += chunkSize {
		span := min(chunkSize, r.Size-off)
		size := min(span+overlap, r.Size-off)
		if size < memory.Size(patLen) {
			break
		}
		out = append(out, chunk{start: r.Start.Add(off), size: size, span: span})
	}
	return out
}

// Scan returns the sorted addresses inside ranges where p matches. Chunks
// that cannot be read are skipped. Cancelling ctx stops the scan and
// returns ctx.Err().
func Scan(ctx context.Context, v memory.View, ranges []memory.Range, p Pattern, opts ...Option) ([]memory.Address, error) {
	o := options{chunkSize: DefaultChunkSize, workers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if p.Len() == 0 || len(p.Mask) != p.Len() {
		return nil, fmt.Errorf("empty or mismatched pattern: %w", memory.ErrArgument)
	}
	if o.chunkSize == 0 {
		o.chunkSize = DefaultChunkSize
	}
	o.workers = max(1, min(o.workers, runtime.NumCPU()))

	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "scan"))
	log.Debugln("Scanning", len(ranges), "ranges for", p.String(), "with", o.workers, "workers")

	var (
		mu      sync.Mutex
		results []memory.Address
		found   atomic.Int64
		wg      sync.WaitGroup
		skipped atomic.Int64
	)
	sem := make(chan struct{}, o.workers)

dispatch:
	for _, r := range ranges {
		for _, c := range chunks(r, o.chunkSize, p.Len()) {
			if ctx.Err() != nil || (o.limit > 0 && found.Load() >= int64(o.limit)) {
				break dispatch
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(c chunk) {
				defer func() {
					<-sem
					wg.Done()
				}()
				if ctx.Err() != nil {
					return
				}
				data, err := v.ReadMemory(c.start, c.size)
				if err != nil {
					skipped.Add(1)
					return
				}
				var local []memory.Address
				for _, off := range p.FindAll(data) {
					if memory.Size(off) < c.span {
						local = append(local, c.start.Add(memory.Size(off)))
					}
				}
				if len(local) == 0 {
					return
				}
				found.Add(int64(len(local)))
				mu.Lock()
				results = append(results, local...)
				mu.Unlock()
			}(c)
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	if o.limit > 0 && len(results) > o.limit {
		results = results[:o.limit]
	}
	log.Debugln("Scan complete, found", len(results), "matches,", skipped.Load(), "chunks unreadable")
	return results, nil
}
