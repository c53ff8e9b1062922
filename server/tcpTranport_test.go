package server

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"
)

func TestNewTCPTransport(t *testing.T) {
	addr := "localhost:0"
	transport := NewTCPTransport(addr)

	if transport.Addr != addr {
		t.Errorf("Expected addr %s, got %s", addr, transport.Addr)
	}

	if transport.maxClients != 16 {
		t.Errorf("Expected maxClients 16, got %d", transport.maxClients)
	}
}

func TestTCPTransport_SetMethods(t *testing.T) {
	transport := NewTCPTransport("localhost:0")

	transport.SetName("test-transport")
	transport.SetMaxClients(10)
	transport.SetDescription("Test transport")

	meta := transport.Meta()

	if meta.Name != "test-transport" {
		t.Errorf("Expected name 'test-transport', got %s", meta.Name)
	}

	if meta.MaxClients != 10 {
		t.Errorf("Expected maxClients 10, got %d", meta.MaxClients)
	}

	if meta.Description != "Test transport" {
		t.Errorf("Expected description 'Test transport', got %s", meta.Description)
	}
}

func TestTCPTransport_StartWithoutCallbacks(t *testing.T) {
	transport := NewTCPTransport("localhost:0")

	err := transport.Start()
	if err == nil {
		t.Error("Expected error when starting without callbacks")
	}
}

func TestTCPTransport_StartAndShutdown(t *testing.T) {
	transport := NewTCPTransport("localhost:0")
	transport.OnConnect(func(conn Conn) {})

	done := make(chan error, 1)
	go func() {
		done <- transport.Start()
	}()

	waitFor(t, "listener", func() bool { return transport.Meta().Connected })

	if err := transport.Shutdown(); err != nil {
		t.Errorf("Error during shutdown: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, net.ErrClosed) {
			t.Errorf("Unexpected error from start: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Start() did not return after shutdown")
	}
}

func TestTCPTransport_LineFraming(t *testing.T) {
	transport := NewTCPTransport("localhost:0")
	if err := transport.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	lines := make(chan string, 2)
	transport.OnConnect(func(conn Conn) {
		defer conn.Close()
		for {
			line, err := conn.ReadLine()
			if err != nil {
				return
			}
			lines <- string(line)
			conn.WriteLine([]byte("ack\r\n"))
		}
	})
	go transport.Start()
	defer transport.Shutdown()

	conn, err := net.Dial("tcp", transport.ListenAddr())
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("{\"key\":\"rf\"}\r\n{\"key\":\"mesh\"}\n"))

	for _, want := range []string{`{"key":"rf"}`, `{"key":"mesh"}`} {
		select {
		case got := <-lines:
			if got != want {
				t.Errorf("Expected line %s, got %s", want, got)
			}
		case <-time.After(time.Second):
			t.Fatal("Line was not delivered")
		}
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || reply != "ack\r\n" {
		t.Errorf("Expected ack, got %q (%v)", reply, err)
	}
}

func TestTCPTransport_MaxClients(t *testing.T) {
	transport := NewTCPTransport("localhost:0")
	transport.SetMaxClients(1)
	if err := transport.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	release := make(chan struct{})
	transport.OnConnect(func(conn Conn) {
		<-release
		conn.Close()
	})
	go transport.Start()
	defer transport.Shutdown()

	conn1, err := net.Dial("tcp", transport.ListenAddr())
	if err != nil {
		t.Fatalf("Failed to connect first client: %v", err)
	}
	defer conn1.Close()
	waitFor(t, "first client", func() bool { return transport.Meta().Clients == 1 })

	// Try to connect second client - should be rejected
	conn2, err := net.Dial("tcp", transport.ListenAddr())
	if err != nil {
		t.Fatalf("Failed to connect second client: %v", err)
	}
	defer conn2.Close()

	conn2.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	if _, err := bufio.NewReader(conn2).ReadByte(); err == nil {
		t.Error("Expected second connection to be closed due to max clients limit")
	}

	close(release)
	waitFor(t, "slot release", func() bool { return transport.Meta().Clients == 0 })
}

func TestTCPTransport_Meta(t *testing.T) {
	transport := NewTCPTransport("localhost:8080")
	transport.SetName("test-transport")
	transport.SetDescription("Test TCP transport")
	transport.SetMaxClients(5)

	meta := transport.Meta()

	if meta.Protocol != "tcp" {
		t.Errorf("Expected protocol 'tcp', got %s", meta.Protocol)
	}

	if meta.Address != "localhost:8080" {
		t.Errorf("Expected address 'localhost:8080', got %s", meta.Address)
	}

	if meta.Connected != false {
		t.Errorf("Expected connected false, got %t", meta.Connected)
	}

	expectedID := "tcp-localhost:8080"
	if meta.ID != expectedID {
		t.Errorf("Expected ID '%s', got %s", expectedID, meta.ID)
	}
}
