/*Package comm provides interfaces and embeddable types for communication with lab hardware.

Most usages of this package will boil down to:
	1.  embed RemoteDevice in a type that represents your hardware.
	2.  pass the terminators your hardware uses to NewRemoteDevice, or nil
		for binary protocols that frame their own messages.
	3.  Write any methods you see fit based on this low-level communication implementation,

A minimal example is provided below for a multimeter that responds to
"*IDN?" with its identity string over RS-232

	type Meter struct {
		comm.RemoteDevice
	}

	func (m *Meter) Identify() (string, error) {
		err := m.Open()
		if err != nil {
			return "", err
		}
		defer m.Close()
		resp, err := m.SendRecv([]byte("*IDN?"))
		return string(resp), err
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when a serial device has no serial.Config
	ErrNoSerialConf = errors.New("device has IsSerial=true but no serial config")

	// ErrNotConnected is generated when .Conn is nil and Send or Recv is called.
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")

	// ErrNoTerminators is generated when Recv is used on a device without terminators
	ErrNoTerminators = errors.New("device is binary framed, it has no Rx terminator")
)

// Terminators holds the transmit and receive termination bytes
type Terminators struct {
	Tx, Rx byte
}

/*RemoteDevice has an address and can open a TCP or serial connection to it.

A nil Terminators means the device speaks a binary protocol; Send writes the
buffer as is and Recv is unavailable.  Callers then use Conn directly.

RemoteDevice is not safe for concurrent use.
*/
type RemoteDevice struct {
	Addr     string
	IsSerial bool
	Conn     io.ReadWriteCloser

	// Timeout is used for the dial and as the read/write deadline of TCP
	// connections.  Zero means three seconds.
	Timeout time.Duration

	term   *Terminators
	serCfg *serial.Config
	rdr    *bufio.Reader
}

// NewRemoteDevice creates a new RemoteDevice instance
func NewRemoteDevice(addr string, serial bool, term *Terminators, serCfg *serial.Config) RemoteDevice {
	return RemoteDevice{
		Addr:     addr,
		IsSerial: serial,
		term:     term,
		serCfg:   serCfg}
}

// Open the connection, setting the Conn variable
func (rd *RemoteDevice) Open() error {
	if rd.Conn != nil {
		return nil
	}
	// an exponential backoff on the connect only; the FPGA bridge and some
	// instruments refuse a connection while a previous one is being torn down
	err := backoff.Retry(rd.open, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return fmt.Errorf("connection timeout to %s: %w", rd.Addr, err)
		}
		return err
	}
	return nil
}

func (rd *RemoteDevice) open() error {
	var err error
	var conn io.ReadWriteCloser
	if rd.IsSerial {
		if rd.serCfg == nil {
			return backoff.Permanent(ErrNoSerialConf)
		}
		conn, err = serial.OpenPort(rd.serCfg)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.timeout())
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	rd.rdr = bufio.NewReader(conn)
	return nil
}

func (rd *RemoteDevice) timeout() time.Duration {
	if rd.Timeout == 0 {
		return 3 * time.Second
	}
	return rd.Timeout
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	rd.Conn = nil
	rd.rdr = nil
	return err
}

// Send writes data to the remote, appending the Tx terminator if there is one
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	if rd.term != nil {
		b = append(b, rd.term.Tx)
	}
	rd.refreshDeadline()
	_, err := rd.Conn.Write(b)
	return err
}

// Recv recieves data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	if rd.term == nil {
		return nil, ErrNoTerminators
	}
	if rd.rdr == nil {
		rd.rdr = bufio.NewReader(rd.Conn)
	}
	rd.refreshDeadline()
	buf, err := rd.rdr.ReadBytes(rd.term.Rx)
	if err != nil {
		return buf, err
	}
	if bytes.HasSuffix(buf, []byte{rd.term.Rx}) {
		buf = buf[:len(buf)-1]
		// instruments that send CRLF leave a stray CR
		return bytes.TrimSuffix(buf, []byte{'\r'}), nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	err := rd.Send(b)
	if err != nil {
		return nil, err
	}
	return rd.Recv()
}

func (rd *RemoteDevice) refreshDeadline() {
	if c, ok := rd.Conn.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(rd.timeout()))
	}
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write.
// Nagle is disabled and keep-alive enabled, the register protocols here
// are made of many tiny bursts.
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
		tc.SetKeepAlive(true)
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
