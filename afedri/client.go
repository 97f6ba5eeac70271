package afedri

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quan-to/slog"
	"github.com/racerxdl/qo100-dedrift/metrics"
)

const (
	DefaultPort           = 50000
	DefaultConnectTimeout = time.Second * 2
	DefaultReadTimeout    = time.Second * 2

	// DiscoverAddress asks OpenClient to locate the receiver by broadcast first.
	DiscoverAddress = "0.0.0.0"
)

type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Discovery      Discoverer
}

func DefaultOptions() Options {
	return Options{
		ConnectTimeout: DefaultConnectTimeout,
		ReadTimeout:    DefaultReadTimeout,
		Discovery:      DefaultDiscoverer(),
	}
}

// Client is a control session over one TCP connection.
// Requests are serialized; every call waits for its reply before returning.
type Client struct {
	id   string
	opts Options
	log  slog.Instance

	dial func(network, address string, timeout time.Duration) (net.Conn, error)

	requestLock sync.Mutex

	stateLock sync.Mutex
	state     SessionState
	conn      net.Conn
	err       error
	info      DeviceInfo
}

func MakeClient(opts Options) *Client {
	uid, _ := uuid.NewRandom()
	id := uid.String()
	return &Client{
		id:    id,
		opts:  opts,
		log:   slog.Scope("AFEDRI Client " + id[:8]),
		dial:  net.DialTimeout,
		state: StateUnconnected,
	}
}

// OpenClient builds a session and connects it. It never fails: when discovery or the
// connection does not succeed the client is returned Closed and Err reports why.
func OpenClient(ip string, port int, opts Options) *Client {
	client := MakeClient(opts)

	if ip == DiscoverAddress {
		info, err := opts.Discovery.Discover()
		if err != nil {
			client.log.Error("Discovery failed: %s", err)
			_ = client.fail(err)
			return client
		}
		client.info = info
		ip = info.IP.String()
		port = int(info.Port)
	}

	_ = client.Connect(net.JoinHostPort(ip, strconv.Itoa(port)))
	return client
}

func (client *Client) ID() string {
	return client.id
}

// Info returns the identity found by discovery, if discovery was used.
func (client *Client) Info() DeviceInfo {
	return client.info
}

func (client *Client) State() SessionState {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	return client.state
}

// Err returns the error that closed the session, if any.
func (client *Client) Err() error {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	return client.err
}

func (client *Client) Connect(address string) error {
	client.stateLock.Lock()
	if client.state != StateUnconnected {
		state := client.state
		client.stateLock.Unlock()
		if state == StateClosed {
			return NewError(ErrKindNotConnected, "session is closed")
		}
		return NewError(ErrKindInvalidState, "already %s", state)
	}
	client.stateLock.Unlock()

	client.log.Debug("Connecting to %s", address)
	conn, err := client.dial("tcp", address, client.opts.ConnectTimeout)
	if err != nil {
		client.log.Error("Error connecting to %s: %s", address, err)
		return client.fail(wrapError(ErrKindTransport, err, "connect to %s", address))
	}

	if err := client.Attach(conn); err != nil {
		_ = conn.Close()
		return err
	}
	return nil
}

// Attach adopts an already established connection. The client must be Unconnected.
func (client *Client) Attach(conn net.Conn) error {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()

	if client.state != StateUnconnected {
		return NewError(ErrKindInvalidState, "cannot attach in state %s", client.state)
	}
	client.conn = conn
	client.state = StateConnected
	client.log.Debug("Connected to %s", conn.RemoteAddr())
	return nil
}

// Close releases the connection. It is idempotent.
func (client *Client) Close() error {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	client.closeLocked()
	return nil
}

// Release is the teardown path: a best effort stop when streaming, then Close.
// Errors are swallowed.
func (client *Client) Release() {
	if client.State() == StateStreaming {
		if err := client.StopCapture(); err != nil {
			client.log.Debug("Stop on release failed: %s", err)
		}
	}
	_ = client.Close()
}

func (client *Client) closeLocked() {
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
	if client.state != StateClosed {
		client.log.Debug("Session closed")
	}
	client.state = StateClosed
}

// fail records err, closes the session and returns err.
func (client *Client) fail(err error) error {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	if client.err == nil {
		client.err = err
	}
	client.closeLocked()
	return err
}

func (client *Client) activeConn() (net.Conn, error) {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()

	switch client.state {
	case StateConnected, StateStreaming:
		return client.conn, nil
	default:
		return nil, NewError(ErrKindNotConnected, "session is %s", client.state)
	}
}

// roundTrip sends req in full and reads exactly replySize bytes back. A reply
// declaring another length is malformed.
func (client *Client) roundTrip(op Opcode, req []byte, replySize int) ([]byte, error) {
	client.requestLock.Lock()
	defer client.requestLock.Unlock()

	conn, err := client.activeConn()
	if err != nil {
		return nil, err
	}

	client.log.Debug("-> %s % X", op, req)

	err = conn.SetWriteDeadline(time.Now().Add(client.opts.ReadTimeout))
	if err != nil {
		return nil, client.fail(wrapError(ErrKindTransport, err, "set write deadline"))
	}

	for b := req; len(b) > 0; {
		n, err := conn.Write(b)
		metrics.BytesOut.Add(float64(n))
		if err != nil {
			return nil, client.fail(wrapError(ErrKindTransport, err, "send %s", op))
		}
		b = b[n:]
	}

	err = conn.SetReadDeadline(time.Now().Add(client.opts.ReadTimeout))
	if err != nil {
		return nil, client.fail(wrapError(ErrKindTransport, err, "set read deadline"))
	}

	reply := make([]byte, replySize)
	n, err := io.ReadFull(conn, reply[:minFrameSize])
	metrics.BytesIn.Add(float64(n))
	if err != nil {
		return nil, client.fail(wrapError(ErrKindTransport, err, "read %s reply header (%d of %d bytes)", op, n, minFrameSize))
	}

	if declared := int(reply[0]); declared != replySize {
		// Drain the declared frame, NAK included.
		if declared > minFrameSize {
			n, _ = io.ReadFull(conn, make([]byte, declared-minFrameSize))
			metrics.BytesIn.Add(float64(n))
		}
		client.log.Debug("<- %s % X (declared %d bytes)", op, reply[:minFrameSize], declared)
		return nil, client.fail(NewError(ErrKindMalformedResponse, "%s reply declares %d bytes, expected %d", op, declared, replySize))
	}

	n, err = io.ReadFull(conn, reply[minFrameSize:])
	metrics.BytesIn.Add(float64(n))
	if err != nil {
		return nil, client.fail(wrapError(ErrKindTransport, err, "read %s reply (%d of %d bytes)", op, n+minFrameSize, replySize))
	}

	client.log.Debug("<- %s % X", op, reply)
	return reply, nil
}

// SetCenterFrequency tunes to hz and returns the frequency the receiver adopted.
func (client *Client) SetCenterFrequency(hz uint64) (uint64, error) {
	req, err := EncodeSetFrequency(hz)
	if err != nil {
		return 0, err
	}
	reply, err := client.roundTrip(OpFrequency, req, frequencyFrameSize)
	if err != nil {
		return 0, err
	}
	adopted, err := DecodeFrequency(reply)
	if err != nil {
		return 0, client.fail(err)
	}
	return adopted, nil
}

// SetSampleRate returns the rate the receiver adopted, which may be quantized.
func (client *Client) SetSampleRate(sps uint64) (uint64, error) {
	req, err := EncodeSetSampleRate(sps)
	if err != nil {
		return 0, err
	}
	reply, err := client.roundTrip(OpSampleRate, req, sampleRateFrameSize)
	if err != nil {
		return 0, err
	}
	adopted, err := DecodeSampleRate(reply)
	if err != nil {
		return 0, client.fail(err)
	}
	return adopted, nil
}

// SetGain sets the RF gain in dB. Values off the 3 dB grid round down.
func (client *Client) SetGain(db int) (int, error) {
	index, err := GainIndexFromDB(db)
	if err != nil {
		return 0, err
	}
	return client.SetGainIndex(index)
}

// SetGainIndex sets the RF gain by step index and returns the adopted gain in dB.
func (client *Client) SetGainIndex(index int) (int, error) {
	req, err := EncodeSetGain(index)
	if err != nil {
		return 0, err
	}
	reply, err := client.roundTrip(OpRFGain, req, gainFrameSize)
	if err != nil {
		return 0, err
	}
	adopted, err := DecodeGain(reply)
	if err != nil {
		return 0, client.fail(err)
	}
	return adopted, nil
}

// FrontEndClock reads the ADC clock in Hz, low half first.
func (client *Client) FrontEndClock() (uint32, error) {
	low, err := client.readClockHalf(ClockLow)
	if err != nil {
		return 0, err
	}
	high, err := client.readClockHalf(ClockHigh)
	if err != nil {
		return 0, err
	}
	return uint32(low) | uint32(high)<<16, nil
}

func (client *Client) readClockHalf(half ClockHalf) (uint16, error) {
	req, err := EncodeReadClock(half)
	if err != nil {
		return 0, err
	}
	reply, err := client.roundTrip(OpInternalRead, req, clockFrameSize)
	if err != nil {
		return 0, err
	}
	v, err := DecodeClockHalf(reply)
	if err != nil {
		return 0, client.fail(err)
	}
	return v, nil
}

func (client *Client) Name() (string, error) {
	reply, err := client.roundTrip(OpTargetName, EncodeGetName(), nameReplySize)
	if err != nil {
		return "", err
	}
	name, err := DecodeName(reply)
	if err != nil {
		return "", client.fail(err)
	}
	return name, nil
}

func (client *Client) StartCapture() error {
	if err := client.expectState(StateConnected); err != nil {
		return err
	}
	if err := client.receiverState(EncodeStartCapture()); err != nil {
		return err
	}
	client.transition(StateConnected, StateStreaming)
	client.log.Debug("Capture started")
	return nil
}

func (client *Client) StopCapture() error {
	if err := client.expectState(StateStreaming); err != nil {
		return err
	}
	if err := client.receiverState(EncodeStopCapture()); err != nil {
		return err
	}
	client.transition(StateStreaming, StateConnected)
	client.log.Debug("Capture stopped")
	return nil
}

func (client *Client) receiverState(req []byte) error {
	reply, err := client.roundTrip(OpReceiverState, req, stateFrameSize)
	if err != nil {
		return err
	}
	if err := DecodeAck(reply); err != nil {
		return client.fail(err)
	}
	return nil
}

func (client *Client) expectState(want SessionState) error {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()

	switch client.state {
	case want:
		return nil
	case StateUnconnected, StateClosed:
		return NewError(ErrKindNotConnected, "session is %s", client.state)
	default:
		return NewError(ErrKindInvalidState, "session is %s, expected %s", client.state, want)
	}
}

func (client *Client) transition(from, to SessionState) {
	client.stateLock.Lock()
	defer client.stateLock.Unlock()
	if client.state == from {
		client.state = to
	}
}

func (client *Client) String() string {
	return fmt.Sprintf("AFEDRI session %s (%s)", client.id, client.State())
}
