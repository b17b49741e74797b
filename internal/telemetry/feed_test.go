package telemetry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

type sinkCall struct {
	kind string
	args []any
}

type fakeSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (s *fakeSink) OnHeartbeat(armed bool, mode string) {
	s.record("heartbeat", armed, mode)
}

func (s *fakeSink) OnBattery(percent, voltage *float64) {
	s.record("battery", percent, voltage)
}

func (s *fakeSink) OnPosition(altitude *float64, fixQuality int) {
	s.record("position", altitude, fixQuality)
}

func (s *fakeSink) OnLinkQuality(signal, remoteSignal *float64, errorCount int) {
	s.record("link", signal, remoteSignal, errorCount)
}

func (s *fakeSink) record(kind string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, sinkCall{kind: kind, args: args})
}

func (s *fakeSink) snapshot() []sinkCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sinkCall(nil), s.calls...)
}

func consumeString(t *testing.T, sink Sink, input string) error {
	t.Helper()

	f := New(nil, sink)
	return f.consume(context.Background(), io.NopCloser(strings.NewReader(input)))
}

func TestFeed_DispatchFrames(t *testing.T) {
	sink := &fakeSink{}

	input := `{"type":"heartbeat","armed":true,"mode":"AUTO"}
{"type":"battery","percent":87.5,"voltage":15.2}
{"type":"position","alt":120.5,"fix":3}
{"type":"link","signal":42,"remote":48,"errors":2}
`
	if err := consumeString(t, sink, input); err != nil {
		t.Fatalf("Failed to consume stream: %s", err)
	}

	calls := sink.snapshot()
	if len(calls) != 4 {
		t.Fatalf("Expected 4 sink calls, got %d", len(calls))
	}

	if calls[0].kind != "heartbeat" || calls[0].args[0] != true || calls[0].args[1] != "AUTO" {
		t.Errorf("Unexpected heartbeat call: %+v", calls[0])
	}

	if calls[1].kind != "battery" {
		t.Fatalf("Expected battery call, got %s", calls[1].kind)
	}
	if percent := calls[1].args[0].(*float64); percent == nil || *percent != 87.5 {
		t.Errorf("Expected battery percent 87.5, got %v", percent)
	}

	if calls[2].kind != "position" {
		t.Fatalf("Expected position call, got %s", calls[2].kind)
	}
	if alt := calls[2].args[0].(*float64); alt == nil || *alt != 120.5 {
		t.Errorf("Expected altitude 120.5, got %v", alt)
	}
	if fix := calls[2].args[1].(int); fix != 3 {
		t.Errorf("Expected fix 3, got %d", fix)
	}

	if calls[3].kind != "link" {
		t.Fatalf("Expected link call, got %s", calls[3].kind)
	}
	if signal := calls[3].args[0].(*float64); signal == nil || *signal != 42 {
		t.Errorf("Expected signal 42, got %v", signal)
	}
	if errCount := calls[3].args[2].(int); errCount != 2 {
		t.Errorf("Expected 2 link errors, got %d", errCount)
	}
}

func TestFeed_AbsentFieldsStayNil(t *testing.T) {
	sink := &fakeSink{}

	if err := consumeString(t, sink, `{"type":"battery","voltage":15.2}`+"\n"); err != nil {
		t.Fatalf("Failed to consume stream: %s", err)
	}

	calls := sink.snapshot()
	if len(calls) != 1 {
		t.Fatalf("Expected 1 sink call, got %d", len(calls))
	}
	if percent := calls[0].args[0].(*float64); percent != nil {
		t.Errorf("Expected absent percent to stay nil, got %v", *percent)
	}
	if voltage := calls[0].args[1].(*float64); voltage == nil || *voltage != 15.2 {
		t.Errorf("Expected voltage 15.2, got %v", voltage)
	}
}

func TestFeed_SkipsMalformedLines(t *testing.T) {
	sink := &fakeSink{}

	input := "not json at all\n" +
		`{"type":"esoteric"}` + "\n" +
		`{"type":"heartbeat","armed":true,"mode":"AUTO"}` + "\n"

	if err := consumeString(t, sink, input); err != nil {
		t.Fatalf("Expected malformed lines to be skipped, got %s", err)
	}

	calls := sink.snapshot()
	if len(calls) != 1 || calls[0].kind != "heartbeat" {
		t.Errorf("Expected only the heartbeat dispatched, got %+v", calls)
	}
}

func TestFeed_TooManyParseErrors(t *testing.T) {
	sink := &fakeSink{}

	input := strings.Repeat("garbage\n", ParseErrorsThreshold)

	err := consumeString(t, sink, input)
	if !errors.Is(err, ErrTooManyParseErrors) {
		t.Errorf("Expected ErrTooManyParseErrors, got %v", err)
	}
}

type queueSource struct {
	mu      sync.Mutex
	streams []io.ReadCloser
}

func (s *queueSource) Name() string { return "queue" }

func (s *queueSource) Open(_ context.Context) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.streams) == 0 {
		return nil, errors.New("no more streams")
	}
	stream := s.streams[0]
	s.streams = s.streams[1:]
	return stream, nil
}

func TestFeed_RunReconnects(t *testing.T) {
	sink := &fakeSink{}
	source := &queueSource{
		streams: []io.ReadCloser{
			io.NopCloser(strings.NewReader(`{"type":"heartbeat","armed":true,"mode":"AUTO"}` + "\n")),
			io.NopCloser(strings.NewReader(`{"type":"heartbeat","armed":false,"mode":"LAND"}` + "\n")),
		},
	}

	f := New(source, sink, WithBackoff(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(returned)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) < 2 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for both streams to be consumed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected Run to return after cancel")
	}

	calls := sink.snapshot()
	if calls[0].args[0] != true || calls[1].args[0] != false {
		t.Errorf("Expected armed true then false across reconnect, got %+v", calls)
	}
}

func TestUDPStream_AppendsNewline(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to open listener: %s", err)
	}

	stream := &udpStream{conn: conn}
	defer stream.Close()

	sender, err := net.Dial("udp", conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Failed to dial: %s", err)
	}
	defer sender.Close()

	// no trailing newline on the wire
	if _, err := sender.Write([]byte(`{"type":"heartbeat","armed":true}`)); err != nil {
		t.Fatalf("Failed to send: %s", err)
	}

	sink := &fakeSink{}
	f := New(nil, sink)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = f.consume(ctx, stream)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(sink.snapshot()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the datagram to dispatch")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-done

	calls := sink.snapshot()
	if calls[0].kind != "heartbeat" || calls[0].args[0] != true {
		t.Errorf("Expected an armed heartbeat, got %+v", calls[0])
	}
}

func TestSerialSource_Validation(t *testing.T) {
	tests := []struct {
		name string
		port string
		baud int
	}{
		{"empty port", "", 57600},
		{"zero baud", "/dev/ttyAMA0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := NewSerialSource(tt.port, tt.baud)
			if _, err := source.Open(context.Background()); err == nil {
				t.Error("Expected open to fail")
			}
		})
	}
}
