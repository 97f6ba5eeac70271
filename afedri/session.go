package afedri

import (
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/quan-to/slog"
	"github.com/racerxdl/qo100-dedrift/metrics"
)

// Session is one control connection accepted by the emulator.
type Session struct {
	id     string
	conn   net.Conn
	log    slog.Instance
	frames uint64
}

func newSession(conn net.Conn) *Session {
	uid, _ := uuid.NewRandom()
	return &Session{
		id:   uid.String(),
		conn: conn,
		log:  slog.Scope(conn.RemoteAddr().String()),
	}
}

// readFrame reads one length-prefixed frame.
func (session *Session) readFrame() ([]byte, error) {
	header := make([]byte, minFrameSize)
	if _, err := io.ReadFull(session.conn, header); err != nil {
		return nil, err
	}
	length := int(header[0])
	if length < minFrameSize || length > maxFrameSize {
		return nil, NewError(ErrKindMalformedResponse, "invalid frame length %d", length)
	}
	frame := make([]byte, length)
	copy(frame, header)
	if _, err := io.ReadFull(session.conn, frame[minFrameSize:]); err != nil {
		return nil, err
	}
	session.frames++
	metrics.BytesIn.Add(float64(length))
	return frame, nil
}

func (session *Session) send(reply []byte) error {
	n, err := session.conn.Write(reply)
	metrics.BytesOut.Add(float64(n))
	return err
}

func (session *Session) close() {
	_ = session.conn.Close()
	session.log.Info("Connection closed after %d frames.", session.frames)
}
