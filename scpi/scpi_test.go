package scpi_test

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/topmetal/tmsctl/scpi"
)

// instrument is a line oriented fake that records every message and
// answers queries from a table
type instrument struct {
	mu      sync.Mutex
	got     []string
	answers map[string]string
}

func (in *instrument) messages() []string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]string(nil), in.got...)
}

func (in *instrument) serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				rdr := bufio.NewReader(c)
				for {
					line, err := rdr.ReadString('\n')
					if err != nil {
						return
					}
					line = strings.TrimSuffix(line, "\n")
					in.mu.Lock()
					in.got = append(in.got, line)
					in.mu.Unlock()
					if strings.Contains(line, "?") {
						c.Write([]byte(in.answers[line] + "\r\n"))
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestWriteIsNewlineTerminated(t *testing.T) {
	in := &instrument{}
	s := scpi.NewTCP(in.serve(t), time.Second)
	if err := s.Write(":OUTP", "ON"); err != nil {
		t.Fatal(err)
	}
	if err := s.Write(":INIT"); err != nil {
		t.Fatal(err)
	}
	// the query forces the writes to have landed
	s.ReadString("*IDN?")
	got := in.messages()
	if len(got) < 2 || got[0] != ":OUTP ON" || got[1] != ":INIT" {
		t.Errorf("unexpected messages %q", got)
	}
}

func TestReadTypes(t *testing.T) {
	in := &instrument{answers: map[string]string{
		"FREQ?":         "1.000000e+02",
		"OUTP?":         "ON",
		"DATA:POIN?":    "12",
		"SYSTem:ERRor?": `-113,"Undefined header"`,
	}}
	s := scpi.NewTCP(in.serve(t), time.Second)
	f, err := s.ReadFloat("FREQ?")
	if err != nil || f != 100 {
		t.Errorf("ReadFloat: %g, %v", f, err)
	}
	b, err := s.ReadBool("OUTP?")
	if err != nil || !b {
		t.Errorf("ReadBool: %v, %v", b, err)
	}
	n, err := s.ReadInt("DATA:POIN?")
	if err != nil || n != 12 {
		t.Errorf("ReadInt: %d, %v", n, err)
	}
	if err := s.PopError(); !errors.Is(err, scpi.ErrInstrument) {
		t.Errorf("expected ErrInstrument, got %v", err)
	}
	if s.Pool.Size() != 1 {
		t.Errorf("an instrument error must not cost the connection, pool has %d", s.Pool.Size())
	}
}

func TestRawQueryAndCommand(t *testing.T) {
	in := &instrument{answers: map[string]string{"*IDN?": "RIGOL TECHNOLOGIES,DG1022"}}
	s := scpi.NewTCP(in.serve(t), time.Second)
	s.Handshaking = true
	resp, err := s.Raw("*IDN?")
	if err != nil || resp != "RIGOL TECHNOLOGIES,DG1022" {
		t.Errorf("Raw query: %q, %v", resp, err)
	}
	if !s.Handshaking {
		t.Error("Raw must restore handshaking")
	}
}

func TestRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	s := scpi.NewTCP(addr, time.Second)
	s.Timeout = 100 * time.Millisecond
	if err := s.Write("*RST"); err == nil {
		t.Error("expected an error writing to a closed port")
	}
	if s.Pool.Active() != 0 {
		t.Error("a failed Get must not lease a connection")
	}
}
