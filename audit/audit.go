// Package audit records every physical write made through a connector as an
// RFC 5424 syslog message.
package audit

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/crewjam/rfc5424"

	"gomemflow/connector"
	"gomemflow/memory"
)

// AppName is the APP-NAME of every message.
const AppName = "memflow"

// sdID names the structured data element carrying the write.
const sdID = "write@32473"

// Connector forwards to an inner connector and logs writes.
type Connector struct {
	connector.Connector

	mu       sync.Mutex
	w        io.Writer
	hostname string
	pid      string
	now      func() time.Time
}

// Wrap returns c with writes logged to w, one message per line.
func Wrap(c connector.Connector, w io.Writer) *Connector {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return &Connector{
		Connector: c,
		w:         w,
		hostname:  hostname,
		pid:       strconv.Itoa(os.Getpid()),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WritePhys writes through and then records the outcome. A failure to
// record is returned only when the write itself succeeded.
func (a *Connector) WritePhys(addr memory.PhysicalAddress, data []byte) error {
	err := a.Connector.WritePhys(addr, data)
	if logErr := a.record(addr, len(data), err); logErr != nil && err == nil {
		return fmt.Errorf("audit write at %s: %w", addr, logErr)
	}
	return err
}

func (a *Connector) record(addr memory.PhysicalAddress, n int, writeErr error) error {
	severity, result := rfc5424.Info, "ok"
	if writeErr != nil {
		severity, result = rfc5424.Warning, writeErr.Error()
	}
	msg := &rfc5424.Message{
		Priority:  rfc5424.User | severity,
		Timestamp: a.now(),
		Hostname:  a.hostname,
		AppName:   AppName,
		ProcessID: a.pid,
		MessageID: "WRITE",
		Message:   []byte(fmt.Sprintf("wrote %d bytes at %s", n, addr)),
	}
	msg.AddDatum(sdID, "addr", addr.String())
	msg.AddDatum(sdID, "len", strconv.Itoa(n))
	msg.AddDatum(sdID, "result", result)

	b, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err = a.w.Write(append(b, '\n'))
	return err
}

// OpenLog opens path for appending audit messages.
func OpenLog(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600)
}
