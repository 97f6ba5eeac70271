package afedri

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

func dialEmulator(t *testing.T, server *Server) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", server.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial emulator: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func TestServerNaksUnknownCommand(t *testing.T) {
	server := startEmulator(t)
	conn := dialEmulator(t, server)

	if _, err := conn.Write([]byte{0x05, 0x00, 0x99, 0x00, 0x00}); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := make([]byte, len(NakFrame))
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(reply, NakFrame) {
		t.Errorf("reply % X, want NAK % X", reply, NakFrame)
	}

	cmd, ok := server.NextCommand()
	if !ok || cmd.Opcode != Opcode(0x0099) {
		t.Errorf("journal has %+v (%t)", cmd, ok)
	}
	if _, ok := server.NextCommand(); ok {
		t.Errorf("journal should be empty")
	}
}

func TestServerKeepsSessionAfterNak(t *testing.T) {
	server := startEmulator(t)
	conn := dialEmulator(t, server)

	frames := append([]byte{0x05, 0x00, 0x99, 0x00, 0x00}, EncodeGetName()...)
	if _, err := conn.Write(frames); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := make([]byte, len(NakFrame)+nameReplySize)
	if _, err := io.ReadFull(conn, reply); err != nil {
		t.Fatalf("read: %v", err)
	}
	name, err := DecodeName(reply[len(NakFrame):])
	if err != nil {
		t.Fatalf("DecodeName failed: %v", err)
	}
	if name != "AFEDRI-NET" {
		t.Errorf("name = %q", name)
	}
}

func TestServerDropsInvalidFrameLength(t *testing.T) {
	server := startEmulator(t)
	conn := dialEmulator(t, server)

	if _, err := conn.Write([]byte{0x40, 0x00}); err != nil {
		t.Fatalf("write: %v", err)
	}
	buffer := make([]byte, 1)
	if _, err := conn.Read(buffer); err == nil {
		t.Errorf("expected the emulator to close the connection")
	}
}

func TestServerOnCommandCanRejectSession(t *testing.T) {
	server := MakeServer("127.0.0.1:0")

	var lock sync.Mutex
	seen := make([]Opcode, 0)
	server.SetOnCommand(func(sessionId string, cmd Command) bool {
		lock.Lock()
		defer lock.Unlock()
		seen = append(seen, cmd.Opcode)
		return cmd.Opcode != OpSampleRate
	})

	connected := make(chan string, 1)
	server.SetOnConnect(func(sessionId string, address string) {
		connected <- sessionId
	})

	if err := server.Start(); err != nil {
		t.Fatalf("start emulator: %v", err)
	}
	t.Cleanup(server.Stop)

	client := connectClient(t, server)
	select {
	case id := <-connected:
		if id == "" {
			t.Errorf("empty session id")
		}
	case <-time.After(time.Second):
		t.Fatalf("OnConnect was not called")
	}

	if _, err := client.SetCenterFrequency(1000000); err != nil {
		t.Fatalf("SetCenterFrequency failed: %v", err)
	}
	if _, err := client.SetSampleRate(192000); !errors.Is(err, ErrTransport) {
		t.Fatalf("rejected command: got %v, want Transport", err)
	}
	if client.State() != StateClosed {
		t.Errorf("state = %s, want Closed", client.State())
	}

	lock.Lock()
	defer lock.Unlock()
	if len(seen) != 2 || seen[0] != OpFrequency || seen[1] != OpSampleRate {
		t.Errorf("OnCommand saw %v", seen)
	}
}

func TestServerStartStop(t *testing.T) {
	server := MakeServer("127.0.0.1:0")
	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := server.Start(); err == nil {
		t.Errorf("second Start should fail")
	}

	client := connectClient(t, server)
	if _, err := client.Name(); err != nil {
		t.Fatalf("Name failed: %v", err)
	}

	server.Stop()
	server.Stop()

	if _, err := client.Name(); !errors.Is(err, ErrTransport) {
		t.Errorf("after Stop: got %v, want Transport", err)
	}
}
