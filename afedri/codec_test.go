package afedri

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func mustEncode(b []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return b
}

func TestEncoders(t *testing.T) {
	readLow, err := EncodeReadClock(ClockLow)
	if err != nil {
		t.Fatalf("EncodeReadClock(low) failed: %v", err)
	}
	readHigh, err := EncodeReadClock(ClockHigh)
	if err != nil {
		t.Fatalf("EncodeReadClock(high) failed: %v", err)
	}
	freq, err := EncodeSetFrequency(7056000)
	if err != nil {
		t.Fatalf("EncodeSetFrequency failed: %v", err)
	}
	rate, err := EncodeSetSampleRate(740740)
	if err != nil {
		t.Fatalf("EncodeSetSampleRate failed: %v", err)
	}
	gain, err := EncodeSetGain(7)
	if err != nil {
		t.Fatalf("EncodeSetGain failed: %v", err)
	}

	tests := []struct {
		name string
		got  []byte
		want []byte
	}{
		{"set frequency 7056000", freq, []byte{0x0A, 0x00, 0x20, 0x00, 0x00, 0x80, 0xAA, 0x6B, 0x00, 0x00}},
		{"set sample rate 740740", rate, []byte{0x09, 0x00, 0xB8, 0x00, 0x00, 0x84, 0x4D, 0x0B, 0x00}},
		{"set gain +11 dB", gain, []byte{0x06, 0x00, 0x38, 0x00, 0x00, 0x39}},
		{"get name", EncodeGetName(), []byte{0x04, 0x20, 0x01, 0x00}},
		{"start capture", EncodeStartCapture(), []byte{0x08, 0x00, 0x18, 0x00, 0x80, 0x02, 0x00, 0x00}},
		{"stop capture", EncodeStopCapture(), []byte{0x08, 0x00, 0x18, 0x00, 0x00, 0x01, 0x00, 0x00}},
		{"read clock low", readLow, []byte{0x09, 0xE0, 0x02, 0x55, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"read clock high", readHigh, []byte{0x09, 0xE0, 0x02, 0x55, 0x01, 0x00, 0x00, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !bytes.Equal(tt.got, tt.want) {
				t.Errorf("got % X, want % X", tt.got, tt.want)
			}
			if int(tt.got[0]) != len(tt.got) {
				t.Errorf("length prefix %d does not match %d bytes", tt.got[0], len(tt.got))
			}
		})
	}
}

func TestEncodersRejectOutOfRange(t *testing.T) {
	if _, err := EncodeSetFrequency(MaxFrequency); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("frequency 2^40: got %v, want InvalidArgument", err)
	}
	if _, err := EncodeSetSampleRate(MaxSampleRate); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("sample rate 2^32: got %v, want InvalidArgument", err)
	}
	if _, err := EncodeSetGain(16); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("gain index 16: got %v, want InvalidArgument", err)
	}
	if _, err := EncodeReadClock(ClockHalf(2)); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("clock half 2: got %v, want InvalidArgument", err)
	}
}

func TestFrequencyFieldIsReversible(t *testing.T) {
	for _, f := range []uint64{0, 1, 255, 7056000, 1<<32 + 17, MaxFrequency - 1} {
		frame := mustEncode(EncodeSetFrequency(f))

		field := make([]byte, 8)
		copy(field, frame[5:10])
		if got := binary.LittleEndian.Uint64(field); got != f {
			t.Errorf("frequency %d: field decodes to %d", f, got)
		}

		got, err := DecodeFrequency(frame)
		if err != nil {
			t.Fatalf("DecodeFrequency(%d) failed: %v", f, err)
		}
		if got != f {
			t.Errorf("DecodeFrequency = %d, want %d", got, f)
		}
	}
}

func TestSampleRateFieldIsReversible(t *testing.T) {
	for _, r := range []uint64{0, 53333, 740740, 1333333, MaxSampleRate - 1} {
		frame := mustEncode(EncodeSetSampleRate(r))
		got, err := DecodeSampleRate(frame)
		if err != nil {
			t.Fatalf("DecodeSampleRate(%d) failed: %v", r, err)
		}
		if got != r {
			t.Errorf("DecodeSampleRate = %d, want %d", got, r)
		}
	}
}

func TestDecodersFollowTheByteRules(t *testing.T) {
	// Hand-assembled replies.
	freq, err := DecodeFrequency([]byte{0x0A, 0x00, 0x20, 0x00, 0x00, 0x40, 0x9C, 0x6B, 0x00, 0x00})
	if err != nil {
		t.Fatalf("DecodeFrequency failed: %v", err)
	}
	if freq != 7052352 {
		t.Errorf("40 9C 6B 00 00 decodes to %d, want 7052352", freq)
	}

	rate, err := DecodeSampleRate([]byte{0x09, 0x00, 0xB8, 0x00, 0x00, 0x04, 0x4F, 0x0B, 0x00})
	if err != nil {
		t.Fatalf("DecodeSampleRate failed: %v", err)
	}
	if rate != 741124 {
		t.Errorf("04 4F 0B 00 decodes to %d, want 741124", rate)
	}

	db, err := DecodeGain([]byte{0x06, 0x00, 0x38, 0x00, 0x00, 0x39})
	if err != nil {
		t.Fatalf("DecodeGain failed: %v", err)
	}
	if db != 11 {
		t.Errorf("gain byte 0x39 decodes to %d dB, want 11", db)
	}

	half, err := DecodeClockHalf([]byte{0x09, 0xE0, 0x02, 0x55, 0xEE, 0xD6, 0x00, 0x00, 0x00})
	if err != nil {
		t.Fatalf("DecodeClockHalf failed: %v", err)
	}
	if half != 0xD6EE {
		t.Errorf("clock half = 0x%04X, want 0xD6EE", half)
	}
}

func TestDecodeName(t *testing.T) {
	reply := []byte{0x10, 0x00, 0x01, 0x00}
	reply = append(reply, []byte("AFEDRI-NET\x00\x00")...)

	name, err := DecodeName(reply)
	if err != nil {
		t.Fatalf("DecodeName failed: %v", err)
	}
	if name != "AFEDRI-NET" {
		t.Errorf("name = %q, want %q", name, "AFEDRI-NET")
	}
}

func TestDecodeNameKeepsEmbeddedBytes(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"AFEDRI-NET\x00\x00", "AFEDRI-NET"},
		{"AB\x00CD\x00\x00\x00\x00\x00\x00\x00", "AB\x00CD"},
		{"  NET-2  \x00\x00\x00", "NET-2"},
		{"\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00", ""},
	}

	for _, tt := range tests {
		reply := append([]byte{0x10, 0x00, 0x01, 0x00}, []byte(tt.field)...)
		name, err := DecodeName(reply)
		if err != nil {
			t.Fatalf("DecodeName(%q) failed: %v", tt.field, err)
		}
		if name != tt.want {
			t.Errorf("DecodeName(%q) = %q, want %q", tt.field, name, tt.want)
		}
	}
}

func TestDecodersRejectMalformedReplies(t *testing.T) {
	goodFreq := mustEncode(EncodeSetFrequency(1000))

	wrongOpcode := append([]byte(nil), goodFreq...)
	wrongOpcode[2] = 0x38

	wrongPrefix := append([]byte(nil), goodFreq...)
	wrongPrefix[0] = 0x09

	badGain := []byte{0x06, 0x00, 0x38, 0x00, 0x00, 0x81} // index 16

	tests := []struct {
		name   string
		decode func() error
	}{
		{"short frequency reply", func() error { _, err := DecodeFrequency(goodFreq[:9]); return err }},
		{"long frequency reply", func() error { _, err := DecodeFrequency(append(goodFreq, 0)); return err }},
		{"wrong opcode", func() error { _, err := DecodeFrequency(wrongOpcode); return err }},
		{"wrong length prefix", func() error { _, err := DecodeFrequency(wrongPrefix); return err }},
		{"gain index out of width", func() error { _, err := DecodeGain(badGain); return err }},
		{"name reply too short", func() error { _, err := DecodeName(EncodeGetName()); return err }},
		{"ack for wrong opcode", func() error { return DecodeAck(mustEncode(EncodeSetSampleRate(1))) }},
		{"empty clock reply", func() error { _, err := DecodeClockHalf(nil); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decode()
			if !errors.Is(err, ErrMalformedResponse) {
				t.Fatalf("got %v, want MalformedResponse", err)
			}
			if KindOf(err) != ErrKindMalformedResponse {
				t.Errorf("KindOf = %s", KindOf(err))
			}
		})
	}
}

func TestDecodeAck(t *testing.T) {
	if err := DecodeAck(EncodeStartCapture()); err != nil {
		t.Errorf("start echo: %v", err)
	}
	if err := DecodeAck(EncodeStopCapture()); err != nil {
		t.Errorf("stop echo: %v", err)
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand(EncodeStartCapture())
	if err != nil {
		t.Fatalf("ParseCommand failed: %v", err)
	}
	if cmd.Class != ClassSet || cmd.Opcode != OpReceiverState {
		t.Errorf("got class 0x%02X opcode %s", uint8(cmd.Class), cmd.Opcode)
	}
	if !bytes.Equal(cmd.Payload, startCaptureBody) {
		t.Errorf("payload % X", cmd.Payload)
	}

	if _, err := ParseCommand([]byte{0x05, 0x00, 0x18}); !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("short frame: got %v", err)
	}
}

func TestQuantizeSampleRate(t *testing.T) {
	tests := []struct {
		sps  uint64
		want uint64
	}{
		{740740, 740740},
		{740000, 740740},
		{1333333, 1333333},
		{5000000, 1333333}, // N clamped to 15
		{10, 32000},        // N clamped to 625
		{0, 32000},
	}

	for _, tt := range tests {
		if got := QuantizeSampleRate(80000000, tt.sps); got != tt.want {
			t.Errorf("QuantizeSampleRate(80 MHz, %d) = %d, want %d", tt.sps, got, tt.want)
		}
	}
}
