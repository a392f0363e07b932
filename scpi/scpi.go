// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/topmetal/tmsctl/comm"
)

const (
	// DefaultTimeout bounds one exchange when SCPI.Timeout is zero
	DefaultTimeout = 5 * time.Second

	term = '\n'
)

// ErrInstrument wraps an error reported by the instrument's error queue
var ErrInstrument = errors.New("instrument error")

// SCPI is a type for encapsulating SCPI communication.  Messages are
// newline terminated in both directions.
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool

	// Timeout is applied as a deadline to connections that support one
	Timeout time.Duration
}

// NewTCP returns an SCPI over TCP connections to addr, closed after idle
// has passed with none in use
func NewTCP(addr string, idle time.Duration) *SCPI {
	s := &SCPI{}
	s.Pool = comm.NewPool(1, idle, func() (io.ReadWriteCloser, error) {
		return comm.TCPSetup(addr, s.timeout())
	})
	return s
}

// Close closes the idle connections of the pool
func (s *SCPI) Close() error {
	s.Pool.Close()
	return nil
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout == 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

func (s *SCPI) deadline(rw io.ReadWriter) {
	if c, ok := rw.(net.Conn); ok {
		c.SetDeadline(time.Now().Add(s.timeout()))
	}
}

func (s *SCPI) frame(cmds []string) string {
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	return strings.Join(cmds, " ") + string(term)
}

// readLine reads one response, stripping the terminator and any CR
func readLine(r io.Reader) (string, error) {
	str, err := bufio.NewReader(r).ReadString(term)
	if err != nil {
		return str, err
	}
	return strings.TrimRight(str, "\r\n"), nil
}

func checkErrorReply(str string) error {
	if strings.HasPrefix(str, "+0") || strings.HasPrefix(str, "0,") {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInstrument, str)
}

// Write sends a command to the device.  if f.Handshaking == true,
// it also requests an error response and checks that it is OK
// it is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) (err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, transportErr(err)) }()
	s.deadline(conn)
	if _, err = io.WriteString(conn, s.frame(cmds)); err != nil {
		return err
	}
	if !s.Handshaking {
		return nil
	}
	str, err := readLine(conn)
	if err != nil {
		return err
	}
	return checkErrorReply(str)
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) (resp string, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { s.Pool.ReturnWithError(conn, transportErr(err)) }()
	s.deadline(conn)
	if _, err = io.WriteString(conn, s.frame(cmds)); err != nil {
		return "", err
	}
	resp, err = readLine(conn)
	if err != nil {
		return resp, err
	}
	if s.Handshaking {
		i := strings.LastIndexByte(resp, ';')
		if i < 0 {
			return resp, fmt.Errorf("no error query in reply %q", resp)
		}
		if err = checkErrorReply(resp[i+1:]); err != nil {
			return resp, err
		}
		resp = resp[:i]
	}
	return resp, nil
}

// transportErr filters out instrument errors, which leave the connection usable
func transportErr(err error) error {
	if errors.Is(err, ErrInstrument) {
		return nil
	}
	return err
}

// ReadString sends a command to the device, the reads the response
// and returns it as a string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	return s.WriteRead(cmds...)
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean.  ON and OFF are understood.
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(strings.TrimSpace(resp)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(resp))
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return checkErrorReply(str)
}
