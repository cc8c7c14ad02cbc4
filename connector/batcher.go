package connector

import (
	"gomemflow/memory"
)

// defaultBatchSize applies when a connector reports no IdealBatchSize.
const defaultBatchSize = memory.Size(64 * 1024)

// Batcher coalesces many small reads into ReadPhysList calls of roughly the
// connector's ideal batch size. Buffers passed to Read are filled on Commit.
type Batcher struct {
	conn    Connector
	limit   memory.Size
	ops     []PhysReadOp
	pending memory.Size
	err     error
}

// NewBatcher returns a Batcher for c.
func NewBatcher(c Connector) *Batcher {
	limit := c.Metadata().IdealBatchSize
	if limit == 0 {
		limit = defaultBatchSize
	}
	return &Batcher{conn: c, limit: limit}
}

// Read queues a read of len(buf) bytes at addr. It may flush earlier queued
// reads when the batch is full.
func (b *Batcher) Read(addr memory.PhysicalAddress, buf []byte) *Batcher {
	if len(b.ops) > 0 && b.pending+memory.Size(len(buf)) > b.limit {
		b.flush()
	}
	b.ops = append(b.ops, PhysReadOp{Addr: addr, Buf: buf})
	b.pending += memory.Size(len(buf))
	return b
}

// Commit flushes pending reads and returns the first error seen since the
// last Commit.
func (b *Batcher) Commit() error {
	b.flush()
	err := b.err
	b.err = nil
	return err
}

func (b *Batcher) flush() {
	if len(b.ops) == 0 {
		return
	}
	if err := b.conn.ReadPhysList(b.ops); err != nil && b.err == nil {
		b.err = err
	}
	b.ops = b.ops[:0]
	b.pending = 0
}
