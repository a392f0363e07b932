package fpga

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/topmetal/tmsctl/comm"
)

var (
	// ErrTransport marks a failure of the underlying connection.  It is fatal
	// to the operation in progress, nothing reconnects.
	ErrTransport = errors.New("fpga: transport failure")

	// ErrProtocolFraming is returned when the bridge answers with fewer bytes
	// than the reads issued require
	ErrProtocolFraming = errors.New("fpga: short reply")
)

// Transport is what the bridge word protocols need from a link
type Transport interface {
	// Send writes one burst of commands
	Send(burst []byte) error

	// Query writes one burst containing nReads read commands and returns
	// exactly nReads*ReplySize reply bytes
	Query(burst []byte, nReads int) ([]byte, error)
}

// Link is a Transport over one byte stream.  It assumes exclusive use of the
// stream; concurrent callers must serialize externally.
type Link struct {
	rw      io.ReadWriter
	timeout time.Duration
	closer  io.Closer
}

var _ Transport = (*Link)(nil)

// NewLink wraps an already connected stream
func NewLink(rw io.ReadWriter) *Link {
	l := &Link{rw: rw}
	if c, ok := rw.(io.Closer); ok {
		l.closer = c
	}
	return l
}

// Dial connects to the bridge at addr (host:port).  timeout bounds the dial
// and every subsequent read and write.
func Dial(addr string, timeout time.Duration) (*Link, error) {
	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	rd.Timeout = timeout
	if err := rd.Open(); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrTransport, addr, err)
	}
	l := NewLink(rd.Conn)
	l.timeout = timeout
	return l, nil
}

// Close closes the underlying stream, if it can be closed
func (l *Link) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

func (l *Link) deadline() {
	if l.timeout == 0 {
		return
	}
	if c, ok := l.rw.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(l.timeout))
	}
}

// Send writes burst in full
func (l *Link) Send(burst []byte) error {
	l.deadline()
	if _, err := l.rw.Write(burst); err != nil {
		return fmt.Errorf("%w: send: %v", ErrTransport, err)
	}
	return nil
}

// Query writes burst and reads the nReads fixed-size replies it provokes
func (l *Link) Query(burst []byte, nReads int) ([]byte, error) {
	if err := l.Send(burst); err != nil {
		return nil, err
	}
	want := nReads * ReplySize
	buf := make([]byte, want)
	n, err := io.ReadFull(l.rw, buf)
	if err != nil {
		if n > 0 && errors.Is(err, io.ErrUnexpectedEOF) {
			return buf[:n], fmt.Errorf("%w: want %d bytes, got %d", ErrProtocolFraming, want, n)
		}
		return buf[:n], fmt.Errorf("%w: receive: %v", ErrTransport, err)
	}
	return buf, nil
}
