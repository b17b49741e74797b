package transmit

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skysurvey/companion/internal/events"
	"github.com/skysurvey/companion/internal/storage"
	"github.com/skysurvey/companion/internal/wire"
)

type fakeStore struct {
	pending []storage.ImageMetadata

	getPendingCalls int
	lastMax         int
	sending         []string
	sent            []string
	failed          []string
}

func (s *fakeStore) GetPending(max int) []storage.ImageMetadata {
	s.getPendingCalls++
	s.lastMax = max
	if max > 0 && len(s.pending) > max {
		return s.pending[:max]
	}
	return s.pending
}

func (s *fakeStore) MarkSending(filename string) error {
	s.sending = append(s.sending, filename)
	return nil
}

func (s *fakeStore) MarkSent(filename string) error {
	s.sent = append(s.sent, filename)
	return nil
}

func (s *fakeStore) MarkFailed(filename string) error {
	s.failed = append(s.failed, filename)
	return nil
}

type fakeBus struct {
	topics   []string
	messages []any
}

func (b *fakeBus) Publish(topic string, msg any) {
	b.topics = append(b.topics, topic)
	b.messages = append(b.messages, msg)
}

type fakeSender struct {
	packets [][]byte
	failAt  map[int]error // by send index
}

func (s *fakeSender) Send(_ context.Context, packet []byte) error {
	i := len(s.packets)
	s.packets = append(s.packets, packet)
	if err, ok := s.failAt[i]; ok {
		return err
	}
	return nil
}

func testImage(t *testing.T, dir, filename string, payload []byte) storage.ImageMetadata {
	t.Helper()

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatalf("Failed to write image: %s", err)
	}

	sum := md5.Sum(payload)
	return storage.ImageMetadata{
		Filename:  filename,
		Path:      path,
		Timestamp: time.Now(),
		SizeBytes: int64(len(payload)),
		MD5Hash:   hex.EncodeToString(sum[:]),
		Profile:   "full",
		Altitude:  120,
		State:     storage.TxPending,
	}
}

func TestTransmitter_FullBatch(t *testing.T) {
	dir := t.TempDir()

	store := &fakeStore{}
	for i := 0; i < 3; i++ {
		filename := fmt.Sprintf("img_%d.jpg", i)
		store.pending = append(store.pending, testImage(t, dir, filename, []byte{byte(i), 1, 2, 3}))
	}

	sender := &fakeSender{}
	tx := New(store, sender, DefaultPolicy(), nil)

	signal := 20.0
	sent, bytesSent := tx.Transmit(context.Background(), &signal)

	if sent != 3 {
		t.Fatalf("Expected 3 images sent, got %d", sent)
	}
	if bytesSent != 12 {
		t.Errorf("Expected 12 bytes sent, got %d", bytesSent)
	}
	if store.lastMax != DefaultBatchSize {
		t.Errorf("Expected batch of %d requested, got %d", DefaultBatchSize, store.lastMax)
	}
	if len(sender.packets) != 3 {
		t.Fatalf("Expected 3 packets on the wire, got %d", len(sender.packets))
	}

	// Images must go out oldest-first, framed and verifiable
	for i, raw := range sender.packets {
		pkt, err := wire.Decode(raw)
		if err != nil {
			t.Fatalf("Packet %d failed to decode: %s", i, err)
		}
		want := fmt.Sprintf("img_%d.jpg", i)
		if pkt.Filename != want {
			t.Errorf("Expected packet %d to carry %s, got %s", i, want, pkt.Filename)
		}
		if !pkt.Verified {
			t.Errorf("Expected packet %d to verify, hash mismatch", i)
		}
		if pkt.Meta.Altitude != 120 {
			t.Errorf("Expected altitude 120 in packet %d, got %f", i, pkt.Meta.Altitude)
		}
	}

	if len(store.sending) != 3 || len(store.sent) != 3 {
		t.Errorf("Expected 3 sending and 3 sent marks, got %d and %d", len(store.sending), len(store.sent))
	}
	if len(store.failed) != 0 {
		t.Errorf("Expected no failures, got %v", store.failed)
	}

	stats := tx.Stats()
	if stats.ImagesSent != 3 || stats.BytesSent != 12 {
		t.Errorf("Expected stats 3 images / 12 bytes, got %d / %d", stats.ImagesSent, stats.BytesSent)
	}
	if stats.LastSignal == nil || *stats.LastSignal != 20 {
		t.Errorf("Expected last signal 20, got %v", stats.LastSignal)
	}
}

func TestTransmitter_FailureContinuesBatch(t *testing.T) {
	dir := t.TempDir()

	store := &fakeStore{}
	for i := 0; i < 3; i++ {
		filename := fmt.Sprintf("img_%d.jpg", i)
		store.pending = append(store.pending, testImage(t, dir, filename, []byte{byte(i)}))
	}

	sender := &fakeSender{failAt: map[int]error{1: errors.New("connection refused")}}
	tx := New(store, sender, DefaultPolicy(), nil)

	signal := 20.0
	sent, _ := tx.Transmit(context.Background(), &signal)

	if sent != 2 {
		t.Fatalf("Expected 2 images sent despite one failure, got %d", sent)
	}
	if len(store.failed) != 1 || store.failed[0] != "img_1.jpg" {
		t.Errorf("Expected img_1.jpg marked failed, got %v", store.failed)
	}
	if len(store.sent) != 2 {
		t.Errorf("Expected 2 images marked sent, got %v", store.sent)
	}

	if stats := tx.Stats(); stats.SendFailures != 1 {
		t.Errorf("Expected 1 send failure recorded, got %d", stats.SendFailures)
	}
}

func TestTransmitter_CriticalSignalSkipsCycle(t *testing.T) {
	store := &fakeStore{
		pending: []storage.ImageMetadata{{Filename: "img_0.jpg"}},
	}
	sender := &fakeSender{}
	tx := New(store, sender, DefaultPolicy(), nil)

	signal := 90.0
	sent, bytesSent := tx.Transmit(context.Background(), &signal)

	if sent != 0 || bytesSent != 0 {
		t.Errorf("Expected nothing sent on critical signal, got %d images / %d bytes", sent, bytesSent)
	}
	if store.getPendingCalls != 0 {
		t.Errorf("Expected storage untouched on critical signal, GetPending called %d times", store.getPendingCalls)
	}
	if len(sender.packets) != 0 {
		t.Errorf("Expected no packets on the wire, got %d", len(sender.packets))
	}
}

func TestTransmitter_UnknownSignalHalvesBatch(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}
	tx := New(store, sender, DefaultPolicy(), nil)

	tx.Transmit(context.Background(), nil)

	if want := DefaultBatchSize / 2; store.lastMax != want {
		t.Errorf("Expected half batch of %d on unknown signal, got %d", want, store.lastMax)
	}
}

func TestTransmitter_MissingFileMarksFailed(t *testing.T) {
	dir := t.TempDir()

	store := &fakeStore{}
	meta := testImage(t, dir, "img_0.jpg", []byte{1, 2, 3})
	meta.Path = filepath.Join(dir, "gone.jpg")
	store.pending = append(store.pending, meta)

	sender := &fakeSender{}
	tx := New(store, sender, DefaultPolicy(), nil)

	signal := 20.0
	sent, _ := tx.Transmit(context.Background(), &signal)

	if sent != 0 {
		t.Fatalf("Expected no images sent, got %d", sent)
	}
	if len(store.failed) != 1 || store.failed[0] != "img_0.jpg" {
		t.Errorf("Expected img_0.jpg marked failed, got %v", store.failed)
	}
	if len(sender.packets) != 0 {
		t.Errorf("Expected no packets for unreadable image, got %d", len(sender.packets))
	}
}

func TestTransmitter_AnnouncesDeliveredImages(t *testing.T) {
	dir := t.TempDir()

	store := &fakeStore{}
	store.pending = append(store.pending,
		testImage(t, dir, "img_0.jpg", []byte{1, 2, 3}),
		testImage(t, dir, "img_1.jpg", []byte{4, 5}))

	bus := &fakeBus{}
	sender := &fakeSender{failAt: map[int]error{1: errors.New("connection refused")}}
	tx := New(store, sender, DefaultPolicy(), nil, WithBus(bus))

	signal := 20.0
	tx.Transmit(context.Background(), &signal)

	if len(bus.topics) != 1 {
		t.Fatalf("Expected 1 event for 1 delivered image, got %d", len(bus.topics))
	}
	if bus.topics[0] != events.TopicImageSent {
		t.Errorf("Expected topic %s, got %s", events.TopicImageSent, bus.topics[0])
	}

	ev, ok := bus.messages[0].(events.ImageEvent)
	if !ok {
		t.Fatalf("Expected ImageEvent payload, got %T", bus.messages[0])
	}
	if ev.Filename != "img_0.jpg" || ev.SizeBytes != 3 {
		t.Errorf("Expected img_0.jpg with 3 bytes announced, got %s with %d", ev.Filename, ev.SizeBytes)
	}
}

func TestTransmitter_SignalFuncDrivesCycle(t *testing.T) {
	store := &fakeStore{}
	sender := &fakeSender{}

	signal := 90.0
	tx := New(store, sender, DefaultPolicy(), func() *float64 { return &signal })

	tx.cycle(context.Background())

	if store.getPendingCalls != 0 {
		t.Errorf("Expected cycle to skip on critical signal from source, GetPending called %d times", store.getPendingCalls)
	}

	stats := tx.Stats()
	if stats.LastSignal == nil || *stats.LastSignal != 90 {
		t.Errorf("Expected cycle to record signal 90, got %v", stats.LastSignal)
	}
}
