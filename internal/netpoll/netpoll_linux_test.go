//go:build linux

package netpoll

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"code.hybscloud.com/iox"
)

func TestListenAcceptReadWrite(t *testing.T) {
	lfd, addr, err := Listen("127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer CloseFD(lfd)
	if addr.Port == 0 {
		t.Fatal("Listen() did not report the bound port")
	}

	if _, _, err := Accept(lfd); !iox.IsWouldBlock(err) {
		t.Fatalf("Accept() with no pending connection error = %v, want would block", err)
	}

	p, err := NewPoller(16)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	defer p.Close()
	if err := p.Add(lfd, Read); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	client, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer client.Close()

	var got []int
	if _, err := p.Wait(5*time.Second, func(fd int, ev Event) {
		if ev.Readable() {
			got = append(got, fd)
		}
	}); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(got) != 1 || got[0] != lfd {
		t.Fatalf("ready fds = %v, want [%d]", got, lfd)
	}

	cfd, _, err := Accept(lfd)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	sock := NewSocket(cfd)
	defer sock.Close()

	buf := make([]byte, 16)
	if _, err := sock.Read(buf); !errors.Is(err, iox.ErrWouldBlock) {
		t.Fatalf("Read() on empty socket error = %v, want ErrWouldBlock", err)
	}

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("client Write() error = %v", err)
	}
	if err := p.Add(cfd, Read); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if _, err := p.Wait(5*time.Second, func(int, Event) {}); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	n, err := sock.Read(buf)
	if err != nil || string(buf[:n]) != "ping" {
		t.Fatalf("Read() = %q, %v", buf[:n], err)
	}

	if n, err := sock.Write([]byte("pong")); err != nil || n != 4 {
		t.Fatalf("Write() = %d, %v", n, err)
	}
	reply := make([]byte, 4)
	if _, err := io.ReadFull(client, reply); err != nil || string(reply) != "pong" {
		t.Fatalf("client read = %q, %v", reply, err)
	}

	client.Close()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, err := sock.Read(buf)
		if errors.Is(err, io.EOF) {
			break
		}
		if !iox.IsWouldBlock(err) || time.Now().After(deadline) {
			t.Fatalf("Read() after peer close error = %v, want io.EOF", err)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPollerWake(t *testing.T) {
	p, err := NewPoller(4)
	if err != nil {
		t.Fatalf("NewPoller() error = %v", err)
	}
	defer p.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		p.Wake()
	}()

	start := time.Now()
	n, err := p.Wait(-1, func(int, Event) {
		t.Error("wake-up reported as a descriptor event")
	})
	if err != nil || n != 0 {
		t.Fatalf("Wait() = %d, %v", n, err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Wake() did not interrupt Wait()")
	}

	// The wake-up was drained: a zero timeout wait reports nothing
	if n, err := p.Wait(0, func(int, Event) {}); err != nil || n != 0 {
		t.Errorf("Wait(0) = %d, %v", n, err)
	}

	p.Close()
	if _, err := p.Wait(0, func(int, Event) {}); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait() after Close error = %v, want ErrClosed", err)
	}
}
