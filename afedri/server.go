package afedri

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/quan-to/slog"
	"github.com/racerxdl/go.fifo"
	"github.com/racerxdl/qo100-dedrift/metrics"
)

const (
	DefaultFrontEndClock = 80000000
	DefaultDeviceName    = "AFEDRI-SDR-NET"
	DefaultDeviceSerial  = "SN00000"
)

var log = slog.Scope("AFEDRI Server")

type OnCommand func(sessionId string, cmd Command) bool
type OnConnect func(sessionId string, address string)

// Server emulates an AFEDRI SDR-NET control endpoint and its discovery responder.
type Server struct {
	address          string
	discoveryAddress string
	replyPort        int
	info             DeviceInfo
	clock            uint32
	quantize         bool

	radioLock  sync.Mutex
	frequency  uint64
	sampleRate uint64
	gain       byte
	streaming  bool

	connectionLock sync.Mutex
	connections    []*Session
	running        bool
	stop           chan struct{}
	loops          sync.WaitGroup
	serverListener net.Listener
	discoveryConn  *net.UDPConn

	onCommandCb OnCommand
	onConnectCb OnConnect
	commandLog  *fifo.Queue
}

func MakeServer(address string) *Server {
	return &Server{
		address:     address,
		replyPort:   DiscoveryClientPort,
		connections: make([]*Session, 0),
		info: DeviceInfo{
			Name:   DefaultDeviceName,
			Serial: DefaultDeviceSerial,
		},
		clock:      DefaultFrontEndClock,
		gain:       1,
		commandLog: fifo.NewQueue(),
	}
}

func (server *Server) SetDeviceInfo(info DeviceInfo) {
	server.radioLock.Lock()
	server.info = info
	server.radioLock.Unlock()
}

func (server *Server) SetFrontEndClock(clock uint32) {
	server.radioLock.Lock()
	server.clock = clock
	server.radioLock.Unlock()
}

// SetQuantize makes the emulator adopt the nearest rate the front-end clock can divide to.
func (server *Server) SetQuantize(quantize bool) {
	server.radioLock.Lock()
	server.quantize = quantize
	server.radioLock.Unlock()
}

// SetDiscovery enables the discovery responder on listenAddress; replies go to replyPort.
func (server *Server) SetDiscovery(listenAddress string, replyPort int) {
	server.discoveryAddress = listenAddress
	server.replyPort = replyPort
}

func (server *Server) SetOnConnect(cb OnConnect) {
	server.onConnectCb = cb
}

func (server *Server) SetOnCommand(cb OnCommand) {
	server.onCommandCb = cb
}

func (server *Server) Start() error {
	server.connectionLock.Lock()
	defer server.connectionLock.Unlock()

	if server.running {
		return fmt.Errorf("already running")
	}

	l, err := net.Listen("tcp", server.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", server.address, err)
	}
	server.serverListener = l
	log.Info("Listening on %s", l.Addr())

	server.radioLock.Lock()
	if tcpAddr, ok := l.Addr().(*net.TCPAddr); ok {
		if server.info.Port == 0 {
			server.info.Port = uint16(tcpAddr.Port)
		}
		if server.info.IP == nil {
			server.info.IP = tcpAddr.IP.To4()
			if server.info.IP == nil || server.info.IP.IsUnspecified() {
				server.info.IP = net.IPv4(127, 0, 0, 1).To4()
			}
		}
	}
	server.radioLock.Unlock()

	if server.discoveryAddress != "" {
		udpAddr, err := net.ResolveUDPAddr("udp4", server.discoveryAddress)
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("resolve discovery address %s: %w", server.discoveryAddress, err)
		}
		conn, err := net.ListenUDP("udp4", udpAddr)
		if err != nil {
			_ = l.Close()
			return fmt.Errorf("listen discovery on %s: %w", server.discoveryAddress, err)
		}
		server.discoveryConn = conn
		log.Info("Answering discovery probes on %s", conn.LocalAddr())
	}

	server.stop = make(chan struct{})
	server.running = true

	server.loops.Add(1)
	go server.loop()
	if server.discoveryConn != nil {
		server.loops.Add(1)
		go server.discoveryLoop()
	}
	return nil
}

func (server *Server) Stop() {
	server.connectionLock.Lock()
	if !server.running {
		server.connectionLock.Unlock()
		return
	}
	server.running = false
	close(server.stop)
	log.Info("Sent close signal to server. Waiting it to finish")
	_ = server.serverListener.Close()
	if server.discoveryConn != nil {
		_ = server.discoveryConn.Close()
	}
	for _, v := range server.connections {
		_ = v.conn.Close()
	}
	server.connectionLock.Unlock()

	server.loops.Wait()
}

// Addr is the control listener address, valid after Start.
func (server *Server) Addr() net.Addr {
	if server.serverListener == nil {
		return nil
	}
	return server.serverListener.Addr()
}

// DiscoveryAddr is the discovery responder address, or nil when disabled.
func (server *Server) DiscoveryAddr() net.Addr {
	if server.discoveryConn == nil {
		return nil
	}
	return server.discoveryConn.LocalAddr()
}

// NextCommand pops the oldest command frame received by the emulator.
func (server *Server) NextCommand() (Command, bool) {
	if server.commandLog.Len() == 0 {
		return Command{}, false
	}
	v := server.commandLog.Next()
	if v == nil {
		return Command{}, false
	}
	return v.(Command), true
}

func (server *Server) Frequency() uint64 {
	server.radioLock.Lock()
	defer server.radioLock.Unlock()
	return server.frequency
}

func (server *Server) SampleRate() uint64 {
	server.radioLock.Lock()
	defer server.radioLock.Unlock()
	return server.sampleRate
}

func (server *Server) GainIndex() int {
	server.radioLock.Lock()
	defer server.radioLock.Unlock()
	return GainIndexFromByte(server.gain)
}

func (server *Server) Streaming() bool {
	server.radioLock.Lock()
	defer server.radioLock.Unlock()
	return server.streaming
}

func (server *Server) stopping() bool {
	select {
	case <-server.stop:
		return true
	default:
		return false
	}
}

func (server *Server) loop() {
	defer server.loops.Done()

	for {
		// Listen for an incoming connection.
		conn, err := server.serverListener.Accept()
		if err != nil {
			if server.stopping() {
				break
			}
			log.Error("Error accepting: %s", err)
			continue
		}
		// Handle connections in a new goroutine.
		server.loops.Add(1)
		go server.handleRequest(conn)
	}
	log.Info("Server finished listening")
}

func (server *Server) discoveryLoop() {
	defer server.loops.Done()

	buffer := make([]byte, 1024)
	for {
		n, from, err := server.discoveryConn.ReadFromUDP(buffer)
		if err != nil {
			if !server.stopping() {
				log.Error("Error receiving probe: %s", err)
			}
			break
		}
		metrics.BytesIn.Add(float64(n))

		if !IsProbe(buffer[:n]) {
			log.Debug("Ignoring %d byte datagram from %s", n, from)
			continue
		}

		server.radioLock.Lock()
		reply := BuildReply(server.info)
		server.radioLock.Unlock()

		target := &net.UDPAddr{IP: from.IP, Port: server.replyPort}
		log.Debug("Probe from %s, replying to %s", from, target)
		n, err = server.discoveryConn.WriteToUDP(reply, target)
		if err != nil {
			log.Error("Error sending discovery reply: %s", err)
			continue
		}
		metrics.BytesOut.Add(float64(n))
	}
}

func (server *Server) handleRequest(conn net.Conn) {
	defer server.loops.Done()

	session := newSession(conn)
	clog := session.log

	clog.Info("Received connection")

	// Adding to connection pool
	server.connectionLock.Lock()
	if !server.running {
		server.connectionLock.Unlock()
		_ = conn.Close()
		return
	}
	server.connections = append(server.connections, session)
	server.connectionLock.Unlock()

	if server.onConnectCb != nil {
		server.onConnectCb(session.id, session.conn.RemoteAddr().String())
	}

	metrics.TotalConnections.Inc()
	metrics.Connections.Inc()

	for {
		frame, err := session.readFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !server.stopping() {
				clog.Error("Error receiving data: %s", err)
			}
			break
		}

		reply, keep := server.handlePacket(session, frame)
		if len(reply) > 0 {
			if err := session.send(reply); err != nil {
				clog.Error("Error sending reply: %s", err)
				break
			}
		}
		if !keep {
			break
		}
	}

	server.connectionLock.Lock()
	for i, v := range server.connections {
		if v.id == session.id {
			server.connections = append(server.connections[:i], server.connections[i+1:]...)
			break
		}
	}
	server.connectionLock.Unlock()
	session.close()

	metrics.Connections.Dec()
}

func (server *Server) handlePacket(session *Session, frame []byte) ([]byte, bool) {
	cmd, err := ParseCommand(frame)
	if err != nil {
		session.log.Error("Error parsing packet: %s", err)
		return NakFrame, true
	}
	cmd.Payload = append([]byte(nil), cmd.Payload...)
	session.log.Debug("Received %s (0x%04X) class 0x%02X with args % X", cmd.Opcode, uint16(cmd.Opcode), uint8(cmd.Class), cmd.Payload)

	server.commandLog.Add(cmd)

	if server.onCommandCb != nil {
		if ok := server.onCommandCb(session.id, cmd); !ok {
			return nil, false
		}
	}

	reply := server.reply(frame, cmd)
	if reply == nil {
		session.log.Debug("Command %s not handled!", cmd.Opcode)
		return NakFrame, true
	}
	return reply, true
}

func (server *Server) reply(frame []byte, cmd Command) []byte {
	server.radioLock.Lock()
	defer server.radioLock.Unlock()

	switch {
	case cmd.Opcode == OpFrequency && len(frame) == frequencyFrameSize:
		buff := make([]byte, 8)
		copy(buff, frame[5:10])
		server.frequency = binary.LittleEndian.Uint64(buff)
		log.Info("Setting frequency to %d", server.frequency)
		return echo(frame)

	case cmd.Opcode == OpSampleRate && len(frame) == sampleRateFrameSize:
		rate := uint64(binary.LittleEndian.Uint32(frame[5:9]))
		if server.quantize {
			rate = QuantizeSampleRate(server.clock, rate)
		}
		server.sampleRate = rate
		log.Info("Setting sample rate to %d", rate)
		reply := echo(frame)
		binary.LittleEndian.PutUint32(reply[5:9], uint32(rate))
		return reply

	case cmd.Opcode == OpRFGain && len(frame) == gainFrameSize:
		server.gain = frame[5]
		log.Info("Setting gain to %d dB (idx %d)", GainDBFromByte(server.gain), GainIndexFromByte(server.gain))
		return echo(frame)

	case cmd.Opcode == OpTargetName && cmd.Class == ClassGet && len(frame) == getNameFrameSize:
		reply := Command{
			Class:   ClassSet,
			Opcode:  OpTargetName,
			Payload: make([]byte, nameReplySize-headerSize),
		}
		copy(reply.Payload, server.info.Name)
		return reply.Bytes()

	case cmd.Opcode == OpReceiverState && len(frame) == stateFrameSize:
		server.streaming = frame[4] == startCaptureBody[0]
		log.Info("Receiver streaming: %t", server.streaming)
		return echo(frame)

	case cmd.Opcode == OpInternalRead && cmd.Class == ClassInternal && len(frame) == clockFrameSize:
		reply := make([]byte, clockFrameSize)
		copy(reply[:headerSize], frame[:headerSize])
		half := uint16(server.clock)
		if ClockHalf(frame[4]) == ClockHigh {
			half = uint16(server.clock >> 16)
		}
		binary.LittleEndian.PutUint16(reply[4:6], half)
		return reply
	}

	return nil
}

func echo(frame []byte) []byte {
	return append([]byte(nil), frame...)
}
