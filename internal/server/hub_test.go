package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/salography/fast-alpr/internal/model"
)

func testObservation() model.Observation {
	return model.Observation{
		Timestamp:           time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC),
		Plate:               "ABC1234",
		OCRConfidence:       0.8815,
		DetectionConfidence: 0.9321,
		Session:             "20260825_143000",
		Source:              "webcam",
	}
}

// registeredClient adds a synthetic client to the hub. The broadcast loop
// never touches the connection, only the send channel, so tests can read
// broadcasts without a real socket.
func registeredClient(t *testing.T, h *Hub, buffer int) *client {
	t.Helper()
	c := &client{send: make(chan []byte, buffer)}
	select {
	case h.register <- c:
	case <-time.After(time.Second):
		t.Fatal("register timed out")
	}
	return c
}

func TestHubBroadcastsObservations(t *testing.T) {
	h := NewHub()
	defer h.Close()
	c := registeredClient(t, h, 4)

	if err := h.Write(context.Background(), testObservation()); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	select {
	case data := <-c.send:
		var obs model.Observation
		if err := json.Unmarshal(data, &obs); err != nil {
			t.Fatalf("broadcast not JSON: %v", err)
		}
		if obs.Plate != "ABC1234" || obs.Session != "20260825_143000" {
			t.Errorf("broadcast = %+v", obs)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub()
	defer h.Close()
	c := registeredClient(t, h, 1)

	// Second message finds the buffer full and evicts the client.
	h.Write(context.Background(), testObservation())
	h.Write(context.Background(), testObservation())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && h.ClientCount() != 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if got := h.ClientCount(); got != 0 {
		t.Fatalf("client count = %d, want 0 (slow client dropped)", got)
	}

	// The dropped client's channel is closed after the buffered message.
	<-c.send
	if _, ok := <-c.send; ok {
		t.Error("expected closed send channel")
	}
}

func TestHubWriteNeverBlocks(t *testing.T) {
	h := NewHub()
	defer h.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			h.Write(context.Background(), testObservation())
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked with no clients")
	}
}

func TestHubCloseIdempotent(t *testing.T) {
	h := NewHub()
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := h.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	// Writes after close are discarded without error.
	if err := h.Write(context.Background(), testObservation()); err != nil {
		t.Fatalf("Write after close failed: %v", err)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	h := NewHub()
	c := registeredClient(t, h, 4)

	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case _, ok := <-c.send:
		if ok {
			t.Error("expected closed send channel after hub close")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}
	if got := h.ClientCount(); got != 0 {
		t.Errorf("client count = %d, want 0", got)
	}
}
