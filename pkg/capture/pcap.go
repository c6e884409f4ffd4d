// Package capture records emitted IPv4 packets as a pcap stream with raw
// IP framing (LINKTYPE_RAW), readable by tcpdump and wireshark.
package capture

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const snapLen = 65535

// Writer appends packets to a pcap stream. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	now     func() time.Time
	packets int
}

// NewWriter writes the pcap file header to w.
func NewWriter(w io.Writer) (*Writer, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeRaw); err != nil {
		return nil, fmt.Errorf("pcap header: %w", err)
	}
	return &Writer{w: pw, now: time.Now}, nil
}

// Create opens path for writing and returns a Writer on it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// WriteIPv4 records one IPv4 packet.
func (w *Writer) WriteIPv4(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(b),
		Length:        len(b),
	}
	if ci.CaptureLength > snapLen {
		ci.CaptureLength = snapLen
		b = b[:snapLen]
	}
	if err := w.w.WritePacket(ci, b); err != nil {
		return fmt.Errorf("pcap write: %w", err)
	}
	w.packets++
	return nil
}

// Packets returns the number of packets written.
func (w *Writer) Packets() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packets
}

// Close closes the underlying file when the Writer was made by Create.
func (w *Writer) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}
