package receiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// maxDatagram covers the largest UDP payload the sender can emit
	maxDatagram = 64 * 1024

	// readTimeout bounds a stalled TCP sender; the agent writes a packet
	// and closes well inside this
	readTimeout = 30 * time.Second

	reportEvery = 30 * time.Second
)

// ErrUnknownProtocol is returned for listen protocols other than udp and tcp
var ErrUnknownProtocol = errors.New("unknown listen protocol")

// Run listens on addr until ctx is cancelled. UDP carries one packet per
// datagram; TCP carries one packet per connection, framed by the sender
// closing its end.
func (r *Receiver) Run(ctx context.Context, protocol, addr string) error {
	var lc net.ListenConfig

	switch protocol {
	case "udp":
		conn, err := lc.ListenPacket(ctx, "udp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s/udp: %w", addr, err)
		}
		r.logger.Info("listening", slog.String("proto", "udp"), slog.String("addr", conn.LocalAddr().String()))

		go r.reportLoop(ctx)
		err = r.serveUDP(ctx, conn)
		r.report()
		return err

	case "tcp":
		ln, err := lc.Listen(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s/tcp: %w", addr, err)
		}
		r.logger.Info("listening", slog.String("proto", "tcp"), slog.String("addr", ln.Addr().String()))

		go r.reportLoop(ctx)
		err = r.serveTCP(ctx, ln)
		r.report()
		return err

	default:
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, protocol)
	}
}

func (r *Receiver) serveUDP(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading datagram: %w", err)
		}

		// Processing is synchronous, the buffer is free again before
		// the next read.
		r.Process(buf[:n], from.String())
	}
}

func (r *Receiver) serveTCP(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accepting connection: %w", err)
		}

		go r.handleConn(conn)
	}
}

func (r *Receiver) handleConn(conn net.Conn) {
	defer conn.Close()

	from := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	data, err := io.ReadAll(conn)
	if err != nil {
		r.reject(from, fmt.Errorf("reading stream: %w", err))
		return
	}
	if len(data) == 0 {
		return
	}

	r.Process(data, from)
}

func (r *Receiver) reportLoop(ctx context.Context) {
	ticker := time.NewTicker(reportEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Receiver) report() {
	stats := r.Stats()

	r.logger.Info("receiver stats",
		slog.Uint64("ok", stats.PacketsOK),
		slog.Uint64("unverified", stats.PacketsUnverified),
		slog.Uint64("rejected", stats.PacketsRejected),
		slog.String("received", humanize.IBytes(stats.BytesReceived)))
}
