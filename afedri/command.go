package afedri

import "encoding/binary"

// MessageClass is the second header byte: the message type bits of the length word.
type MessageClass uint8

const (
	ClassSet      MessageClass = 0x00
	ClassGet      MessageClass = 0x20
	ClassInternal MessageClass = 0xE0
)

// Opcode is the little-endian control item identifier at header bytes 2..3.
type Opcode uint16

const (
	OpTargetName    Opcode = 0x0001
	OpReceiverState Opcode = 0x0018
	OpFrequency     Opcode = 0x0020
	OpRFGain        Opcode = 0x0038
	OpSampleRate    Opcode = 0x00B8
	OpInternalRead  Opcode = 0x5502
	OpInvalid       Opcode = 0xFFFF
)

func (o Opcode) String() string {
	if name, ok := OpcodeToName[o]; ok {
		return name
	}
	return "Unknown"
}

var OpcodeToName = map[Opcode]string{
	OpTargetName:    "TargetName",
	OpReceiverState: "ReceiverState",
	OpFrequency:     "Frequency",
	OpRFGain:        "RFGain",
	OpSampleRate:    "SampleRate",
	OpInternalRead:  "InternalRead",
}

const (
	headerSize   = 4
	minFrameSize = 2
	maxFrameSize = 16

	frequencyFrameSize  = 10
	sampleRateFrameSize = 9
	gainFrameSize       = 6
	getNameFrameSize    = 4
	nameReplySize       = 16
	stateFrameSize      = 8
	clockFrameSize      = 9
)

// NakFrame is what the device sends for a control item it does not support.
var NakFrame = []byte{0x02, 0x00}

// Command is one length-prefixed control frame.
type Command struct {
	Class   MessageClass
	Opcode  Opcode
	Payload []byte
}

// Len is the value of the length prefix: header plus payload.
func (c Command) Len() int {
	return headerSize + len(c.Payload)
}

func (c Command) Bytes() []byte {
	buff := make([]byte, c.Len())
	buff[0] = uint8(c.Len())
	buff[1] = uint8(c.Class)
	binary.LittleEndian.PutUint16(buff[2:4], uint16(c.Opcode))
	copy(buff[headerSize:], c.Payload)
	return buff
}

// ParseCommand splits a raw frame into its header fields. The payload aliases b.
func ParseCommand(b []byte) (Command, error) {
	if len(b) < headerSize {
		return Command{}, NewError(ErrKindMalformedResponse, "frame too short (%d bytes)", len(b))
	}
	if int(b[0]) != len(b) {
		return Command{}, NewError(ErrKindMalformedResponse, "length prefix %d does not match frame size %d", b[0], len(b))
	}
	return Command{
		Class:   MessageClass(b[1]),
		Opcode:  Opcode(binary.LittleEndian.Uint16(b[2:4])),
		Payload: b[headerSize:],
	}, nil
}
