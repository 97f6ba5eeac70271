package afedri

import (
	"bytes"
	"encoding/binary"
	"strings"
)

const (
	// MaxFrequency is exclusive: frequencies travel in a 5 byte field.
	MaxFrequency uint64 = 1 << 40
	// MaxSampleRate is exclusive: sample rates travel in a 4 byte field.
	MaxSampleRate uint64 = 1 << 32

	channelAll uint8 = 0x00
)

// ClockHalf selects which 16 bit half of the front-end clock register to read.
type ClockHalf uint8

const (
	ClockLow  ClockHalf = 0x00
	ClockHigh ClockHalf = 0x01
)

var (
	startCaptureBody = []byte{0x80, 0x02, 0x00, 0x00} // run, 16 bit contiguous complex
	stopCaptureBody  = []byte{0x00, 0x01, 0x00, 0x00} // idle
)

// region Encoders

func EncodeSetFrequency(hz uint64) ([]byte, error) {
	if hz >= MaxFrequency {
		return nil, NewError(ErrKindInvalidArgument, "frequency %d Hz does not fit in 40 bits", hz)
	}
	buff := make([]byte, 8)
	binary.LittleEndian.PutUint64(buff, hz)

	cmd := Command{
		Class:   ClassSet,
		Opcode:  OpFrequency,
		Payload: append([]byte{channelAll}, buff[:5]...),
	}
	return cmd.Bytes(), nil
}

func EncodeSetSampleRate(sps uint64) ([]byte, error) {
	if sps >= MaxSampleRate {
		return nil, NewError(ErrKindInvalidArgument, "sample rate %d does not fit in 32 bits", sps)
	}
	buff := make([]byte, 4)
	binary.LittleEndian.PutUint32(buff, uint32(sps))

	cmd := Command{
		Class:   ClassSet,
		Opcode:  OpSampleRate,
		Payload: append([]byte{channelAll}, buff...),
	}
	return cmd.Bytes(), nil
}

func EncodeSetGain(index int) ([]byte, error) {
	g, err := EncodeGainIndex(index)
	if err != nil {
		return nil, err
	}

	cmd := Command{
		Class:   ClassSet,
		Opcode:  OpRFGain,
		Payload: []byte{channelAll, g},
	}
	return cmd.Bytes(), nil
}

func EncodeGetName() []byte {
	return Command{Class: ClassGet, Opcode: OpTargetName}.Bytes()
}

func EncodeStartCapture() []byte {
	return Command{Class: ClassSet, Opcode: OpReceiverState, Payload: startCaptureBody}.Bytes()
}

func EncodeStopCapture() []byte {
	return Command{Class: ClassSet, Opcode: OpReceiverState, Payload: stopCaptureBody}.Bytes()
}

func EncodeReadClock(half ClockHalf) ([]byte, error) {
	if half != ClockLow && half != ClockHigh {
		return nil, NewError(ErrKindInvalidArgument, "invalid clock half %d", half)
	}
	cmd := Command{
		Class:   ClassInternal,
		Opcode:  OpInternalRead,
		Payload: []byte{uint8(half), 0x00, 0x00, 0x00, 0x00},
	}
	return cmd.Bytes(), nil
}

// endregion
// region Decoders

// checkReply validates the frame size, the length prefix and the echoed opcode.
func checkReply(resp []byte, size int, op Opcode) error {
	if len(resp) != size {
		return NewError(ErrKindMalformedResponse, "%s reply has %d bytes, expected %d", op, len(resp), size)
	}
	if int(resp[0]) != size {
		return NewError(ErrKindMalformedResponse, "%s reply length prefix is %d, expected %d", op, resp[0], size)
	}
	got := Opcode(binary.LittleEndian.Uint16(resp[2:4]))
	if got != op {
		return NewError(ErrKindMalformedResponse, "reply echoes opcode 0x%04X (%s), expected 0x%04X (%s)", uint16(got), got, uint16(op), op)
	}
	return nil
}

func DecodeFrequency(resp []byte) (uint64, error) {
	if err := checkReply(resp, frequencyFrameSize, OpFrequency); err != nil {
		return 0, err
	}
	buff := make([]byte, 8)
	copy(buff, resp[5:10])
	return binary.LittleEndian.Uint64(buff), nil
}

func DecodeSampleRate(resp []byte) (uint64, error) {
	if err := checkReply(resp, sampleRateFrameSize, OpSampleRate); err != nil {
		return 0, err
	}
	buff := make([]byte, 8)
	copy(buff, resp[5:9])
	return binary.LittleEndian.Uint64(buff), nil
}

// DecodeGain returns the adopted gain in dB.
func DecodeGain(resp []byte) (int, error) {
	if err := checkReply(resp, gainFrameSize, OpRFGain); err != nil {
		return 0, err
	}
	index := GainIndexFromByte(resp[5])
	if index > GainIndexMax {
		return 0, NewError(ErrKindMalformedResponse, "gain index %d outside [%d, %d]", index, GainIndexMin, GainIndexMax)
	}
	return GainDBFromIndex(index), nil
}

func DecodeName(resp []byte) (string, error) {
	if err := checkReply(resp, nameReplySize, OpTargetName); err != nil {
		return "", err
	}
	return trimASCII(resp[headerSize:]), nil
}

func DecodeClockHalf(resp []byte) (uint16, error) {
	if err := checkReply(resp, clockFrameSize, OpInternalRead); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(resp[4:6]), nil
}

// DecodeAck checks a start or stop capture reply. Its body carries nothing the client uses.
func DecodeAck(resp []byte) error {
	return checkReply(resp, stateFrameSize, OpReceiverState)
}

// endregion

// trimASCII strips the NUL padding of a fixed width field and surrounding whitespace.
func trimASCII(b []byte) string {
	return strings.TrimSpace(string(bytes.TrimRight(b, "\x00")))
}

// QuantizeSampleRate returns the rate the front end can actually produce for sps:
// clock / (4 * N) with N clamped to [15, 625].
func QuantizeSampleRate(clock uint32, sps uint64) uint64 {
	const minDivider, maxDivider = 15, 625
	if sps == 0 {
		return uint64(clock) / (4 * maxDivider)
	}
	n := (uint64(clock) + 2*sps) / (4 * sps)
	if n < minDivider {
		n = minDivider
	}
	if n > maxDivider {
		n = maxDivider
	}
	return uint64(clock) / (4 * n)
}
