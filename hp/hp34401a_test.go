package hp

import (
	"bufio"
	"errors"
	"net"
	"strings"
	"testing"
)

// fakeMeter answers the queries of a scan over one end of a pipe
func fakeMeter(t *testing.T, conn net.Conn, sent *[]string, done chan struct{}) {
	t.Helper()
	go func() {
		defer close(done)
		rdr := bufio.NewReader(conn)
		for {
			l, err := rdr.ReadString('\n')
			if err != nil {
				return
			}
			l = strings.TrimSuffix(l, "\n")
			*sent = append(*sent, l)
			switch l {
			case "*IDN?":
				conn.Write([]byte("HEWLETT-PACKARD,34401A,0,11-5-2\r\n"))
			case "DATA:POIN?":
				conn.Write([]byte("+3\r\n"))
			case "FETC?":
				conn.Write([]byte("+1.20000000E+00,+1.25000000E+00,-3.00000000E-03\r\n"))
			}
		}
	}()
}

func newPiped(t *testing.T) (*HP34401A, *[]string, func()) {
	client, server := net.Pipe()
	sent := &[]string{}
	done := make(chan struct{})
	fakeMeter(t, server, sent, done)
	m := NewHP34401A("/dev/null")
	m.Conn = client
	m.Wait = 0
	return m, sent, func() {
		client.Close()
		<-done
		server.Close()
	}
}

func TestScanExchange(t *testing.T) {
	m, sent, stop := newPiped(t)
	id, err := m.Identify()
	if err != nil || id != "HEWLETT-PACKARD,34401A,0,11-5-2" {
		t.Fatalf("Identify: %q, %v", id, err)
	}
	if err := m.SetTriggerThenArm(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := m.MeasureOnePoint(); err != nil {
			t.Fatal(err)
		}
	}
	n, err := m.PointsTaken()
	if err != nil || n != 3 {
		t.Errorf("PointsTaken: %d, %v", n, err)
	}
	data, err := m.Data()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 3 || data[0] != 1.2 || data[2] != -0.003 {
		t.Errorf("unexpected readings %v", data)
	}
	stop()
	if (*sent)[4] != "TRIG:COUN 512" {
		t.Errorf("expected the trigger count after the arm preamble, got %q", *sent)
	}
}

func TestMeasureRefusesPastMemory(t *testing.T) {
	m, _, stop := newPiped(t)
	defer stop()
	m.taken = MaxPoints
	if err := m.MeasureOnePoint(); !errors.Is(err, ErrMemoryFull) {
		t.Errorf("expected ErrMemoryFull, got %v", err)
	}
}
