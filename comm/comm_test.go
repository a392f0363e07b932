package comm_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/topmetal/tmsctl/comm"
)

func tcpEchoServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func TestRemoteDeviceSendRecvStripsTerminator(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, &comm.Terminators{Tx: '\n', Rx: '\n'}, nil)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("*IDN?"))
	if err != nil {
		t.Fatal(err)
	}
	if string(resp) != "*IDN?" {
		t.Errorf("expected echo of *IDN?, got %q", resp)
	}
}

func TestRemoteDeviceBinaryHasNoRecv(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, nil, nil)
	if err := rd.Open(); err != nil {
		t.Fatal(err)
	}
	defer rd.Close()
	if err := rd.Send([]byte{0x00, 0x20}); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 2)
	if _, err := io.ReadFull(rd.Conn, buf); err != nil {
		t.Fatal(err)
	}
	if buf[1] != 0x20 {
		t.Errorf("binary send altered payload: %x", buf)
	}
	if _, err := rd.Recv(); err != comm.ErrNoTerminators {
		t.Errorf("expected ErrNoTerminators, got %v", err)
	}
}

func TestSendWithoutOpen(t *testing.T) {
	rd := comm.NewRemoteDevice("127.0.0.1:1", false, nil, nil)
	if err := rd.Send([]byte{1}); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestSerialWithoutConfig(t *testing.T) {
	rd := comm.NewRemoteDevice("/dev/null", true, nil, nil)
	if err := rd.Open(); err != comm.ErrNoSerialConf {
		t.Errorf("expected ErrNoSerialConf, got %v", err)
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	addr := tcpEchoServer(t)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(3, time.Second, maker)
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		pool.Put(conn)
	}
	if made != 1 {
		t.Errorf("expected one connection to be made and reused, made %d", made)
	}
	if pool.Size() != 1 || pool.Active() != 0 {
		t.Errorf("expected size 1 active 0, got size %d active %d", pool.Size(), pool.Active())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(2, time.Second, maker)
	for i := 0; i < 2; i++ {
		if _, err := pool.Get(); err != nil {
			t.Fatal("could not get connection:", err)
		}
	}
	newConn := make(chan io.ReadWriter, 1)
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestPoolDestroyOnError(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Second, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Errorf("expected destroyed connection to leave the pool, size %d", pool.Size())
	}
}

func TestPoolClose(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(2, time.Minute, maker)
	idle, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	leased, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(idle)
	pool.Close()
	if pool.Size() != 1 || pool.Active() != 1 {
		t.Errorf("expected only the leased connection left, size %d active %d", pool.Size(), pool.Active())
	}
	if _, err = idle.Write([]byte{0}); err == nil {
		t.Error("expected the idle connection closed")
	}
	if _, err = leased.Write([]byte{0}); err != nil {
		t.Errorf("the leased connection must stay open: %v", err)
	}
}
