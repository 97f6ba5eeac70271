package afedri

import (
	"encoding/binary"
	"errors"
	"net"
	"time"

	"github.com/quan-to/slog"
	"github.com/racerxdl/qo100-dedrift/metrics"
)

const (
	DiscoveryServerPort = 48321
	DiscoveryClientPort = 48322
	DiscoveryTimeout    = time.Second

	ProbeSize    = 56
	MinReplySize = 55

	replyNameStart   = 5
	replyNameEnd     = 20
	replySerialStart = 20
	replySerialEnd   = 35
	replyIPStart     = 37 // bytes 37..40 hold the address, least significant octet first
	replyPortStart   = 53
)

var probeMagic = []byte{0x38, 0x00, 0x5A, 0xA5}

var dlog = slog.Scope("AFEDRI Discovery")

// Discoverer finds one receiver on the local broadcast domain.
type Discoverer struct {
	BroadcastAddress string
	ServerPort       int
	ClientPort       int
	Timeout          time.Duration
}

func DefaultDiscoverer() Discoverer {
	return Discoverer{
		BroadcastAddress: net.IPv4bcast.String(),
		ServerPort:       DiscoveryServerPort,
		ClientPort:       DiscoveryClientPort,
		Timeout:          DiscoveryTimeout,
	}
}

// Discover uses the default broadcast address, ports and timeout.
func Discover() (DeviceInfo, error) {
	return DefaultDiscoverer().Discover()
}

// BuildProbe returns the broadcast magic packet.
func BuildProbe() []byte {
	probe := make([]byte, ProbeSize)
	copy(probe, probeMagic)
	return probe
}

// IsProbe reports whether b starts with the discovery magic.
func IsProbe(b []byte) bool {
	if len(b) < len(probeMagic) {
		return false
	}
	for i, v := range probeMagic {
		if b[i] != v {
			return false
		}
	}
	return true
}

// ParseReply decodes a discovery reply. The IPv4 address is stored reversed.
func ParseReply(b []byte) (DeviceInfo, error) {
	if len(b) < MinReplySize {
		return DeviceInfo{}, NewError(ErrKindMalformedResponse, "discovery reply has %d bytes, expected at least %d", len(b), MinReplySize)
	}
	ip := net.IPv4(b[replyIPStart+3], b[replyIPStart+2], b[replyIPStart+1], b[replyIPStart])
	return DeviceInfo{
		Name:   trimASCII(b[replyNameStart:replyNameEnd]),
		Serial: trimASCII(b[replySerialStart:replySerialEnd]),
		IP:     ip.To4(),
		Port:   binary.LittleEndian.Uint16(b[replyPortStart : replyPortStart+2]),
	}, nil
}

// BuildReply is the inverse of ParseReply, used by the emulator.
func BuildReply(info DeviceInfo) []byte {
	reply := make([]byte, ProbeSize)
	copy(reply, probeMagic)
	copy(reply[replyNameStart:replyNameEnd], info.Name)
	copy(reply[replySerialStart:replySerialEnd], info.Serial)
	if ip := info.IP.To4(); ip != nil {
		reply[replyIPStart] = ip[3]
		reply[replyIPStart+1] = ip[2]
		reply[replyIPStart+2] = ip[1]
		reply[replyIPStart+3] = ip[0]
	}
	binary.LittleEndian.PutUint16(reply[replyPortStart:replyPortStart+2], info.Port)
	return reply
}

func (d Discoverer) Discover() (DeviceInfo, error) {
	broadcast := net.ParseIP(d.BroadcastAddress)
	if broadcast == nil || broadcast.To4() == nil {
		return DeviceInfo{}, NewError(ErrKindInvalidArgument, "invalid broadcast address %q", d.BroadcastAddress)
	}

	// Go enables SO_BROADCAST on every datagram socket it creates.
	tx, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return DeviceInfo{}, wrapError(ErrKindTransport, err, "open probe socket")
	}
	defer func() { _ = tx.Close() }()

	rx, err := net.ListenUDP("udp4", &net.UDPAddr{Port: d.ClientPort})
	if err != nil {
		return DeviceInfo{}, wrapError(ErrKindTransport, err, "bind client port %d", d.ClientPort)
	}
	defer func() { _ = rx.Close() }()

	target := &net.UDPAddr{IP: broadcast, Port: d.ServerPort}
	dlog.Debug("Sending probe to %s", target)
	n, err := tx.WriteToUDP(BuildProbe(), target)
	if err != nil {
		return DeviceInfo{}, wrapError(ErrKindTransport, err, "send probe to %s", target)
	}
	metrics.BytesOut.Add(float64(n))

	err = rx.SetReadDeadline(time.Now().Add(d.Timeout))
	if err != nil {
		return DeviceInfo{}, wrapError(ErrKindTransport, err, "set discovery deadline")
	}

	buffer := make([]byte, 1024)
	for {
		n, from, err := rx.ReadFromUDP(buffer)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return DeviceInfo{}, NewError(ErrKindDiscoveryTimeout, "no reply within %s", d.Timeout)
			}
			return DeviceInfo{}, wrapError(ErrKindTransport, err, "read discovery reply")
		}
		metrics.BytesIn.Add(float64(n))

		if n < MinReplySize {
			dlog.Debug("Ignoring %d byte datagram from %s", n, from)
			continue
		}

		info, err := ParseReply(buffer[:n])
		if err != nil {
			return DeviceInfo{}, err
		}
		dlog.Info("Found %s", info)
		return info, nil
	}
}
