package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.bug.st/serial"
)

// maxDatagram bounds a single telemetry datagram
const maxDatagram = 64 * 1024

// SerialSource opens the flight-controller bridge on a serial port
type SerialSource struct {
	port string
	baud int
}

func NewSerialSource(port string, baud int) *SerialSource {
	return &SerialSource{port: port, baud: baud}
}

func (s *SerialSource) Name() string {
	return fmt.Sprintf("serial %s @ %d", s.port, s.baud)
}

func (s *SerialSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.port == "" {
		return nil, errors.New("serial port is empty")
	}
	if s.baud <= 0 {
		return nil, fmt.Errorf("invalid baud rate: %d", s.baud)
	}

	port, err := serial.Open(s.port, &serial.Mode{BaudRate: s.baud})
	if err != nil {
		return nil, fmt.Errorf("opening serial port %q: %w", s.port, err)
	}

	return port, nil
}

// UDPSource listens for telemetry datagrams, one or more NDJSON lines each
type UDPSource struct {
	addr string
}

func NewUDPSource(addr string) *UDPSource {
	return &UDPSource{addr: addr}
}

func (s *UDPSource) Name() string {
	return "udp " + s.addr
}

func (s *UDPSource) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	conn, err := lc.ListenPacket(ctx, "udp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	return &udpStream{conn: conn}, nil
}

// udpStream adapts a PacketConn to a line stream. A datagram missing its
// trailing newline gets one so it is never glued to the next datagram.
type udpStream struct {
	conn net.PacketConn
	buf  []byte // unread remainder of the current datagram
}

func (u *udpStream) Read(p []byte) (int, error) {
	if len(u.buf) == 0 {
		tmp := make([]byte, maxDatagram)
		n, _, err := u.conn.ReadFrom(tmp)
		if err != nil {
			return 0, err
		}

		u.buf = tmp[:n]
		if n > 0 && tmp[n-1] != '\n' {
			u.buf = append(u.buf, '\n')
		}
	}

	n := copy(p, u.buf)
	u.buf = u.buf[n:]
	return n, nil
}

func (u *udpStream) Close() error {
	return u.conn.Close()
}
