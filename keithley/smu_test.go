package keithley

import (
	"bufio"
	"net"
	"strings"
	"testing"
)

func TestVoltOnScript(t *testing.T) {
	s := VoltOnScript(DefaultVolts, DefaultILimit)
	if s[6] != ":SOUR:VOLT 7.000000" || s[7] != ":SOUR:VOLT:ILIM 0.200000" {
		t.Errorf("unexpected source lines %q", s[6:8])
	}
	if s[0] != ":ABORT" || s[len(s)-1] != ":INIT" {
		t.Errorf("script must abort first and init last: %q", s)
	}
}

func TestVoltOffReachesInstrument(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	lines := make(chan string, 16)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		rdr := bufio.NewReader(c)
		for {
			l, err := rdr.ReadString('\n')
			if err != nil {
				close(lines)
				return
			}
			lines <- strings.TrimSuffix(l, "\n")
		}
	}()
	smu := NewSMU2450(ln.Addr().String())
	if err := smu.VoltOff(); err != nil {
		t.Fatal(err)
	}
	want := VoltOffScript()
	for i, w := range want {
		if got := <-lines; got != w {
			t.Errorf("line %d: expected %q, got %q", i, w, got)
		}
	}
}
