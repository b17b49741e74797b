package transmit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	// DefaultSendTimeout bounds one packet delivery, dial included
	DefaultSendTimeout = 5 * time.Second
)

// ErrUnknownProtocol is returned by NewSender for anything other than
// "udp" or "tcp"
var ErrUnknownProtocol = errors.New("unknown transport protocol")

// Sender delivers one framed packet to the ground station
type Sender interface {
	Send(ctx context.Context, packet []byte) error
}

// NewSender builds the sender for the configured protocol. The choice is
// made once at startup; a bad protocol string is a configuration error.
func NewSender(protocol, addr string, timeout time.Duration) (Sender, error) {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	switch strings.ToLower(protocol) {
	case "udp":
		return &UDPSender{addr: addr, timeout: timeout}, nil
	case "tcp":
		return &TCPSender{addr: addr, timeout: timeout}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, protocol)
	}
}

// UDPSender delivers each packet as a single datagram. Fire and forget:
// delivery is confirmed only by the local write succeeding.
type UDPSender struct {
	addr    string
	timeout time.Duration
}

func (s *UDPSender) Send(ctx context.Context, packet []byte) (err error) {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "udp", s.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.addr, err)
	}
	defer closeWithError(conn, &err)

	if err := conn.SetWriteDeadline(sendDeadline(ctx, s.timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("sending datagram: %w", err)
	}

	return nil
}

// TCPSender opens one connection per packet and closes it after the write,
// which is how the receiving side frames a packet: read until EOF.
type TCPSender struct {
	addr    string
	timeout time.Duration
}

func (s *TCPSender) Send(ctx context.Context, packet []byte) (err error) {
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", s.addr, err)
	}
	defer closeWithError(conn, &err)

	if err := conn.SetWriteDeadline(sendDeadline(ctx, s.timeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("sending packet: %w", err)
	}

	return nil
}

// sendDeadline is the per-send timeout, tightened by the context deadline
// when that comes first
func sendDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	return deadline
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}
