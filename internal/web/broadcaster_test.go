package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cjeanneret/PiLapse/internal/events"
)

// receive waits for the next message on ch and decodes it.
func receive(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal %q: %v", msg, err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return StatusEvent{}
}

func TestBroadcaster_LevelsAndTimestamp(t *testing.T) {
	cases := []struct {
		name      string
		send      func(b *StatusBroadcaster)
		wantLevel string
		wantMsg   string
	}{
		{"broadcast", func(b *StatusBroadcaster) { b.Broadcast("warn", "disk almost full") }, "warn", "disk almost full"},
		{"broadcast_msg", func(b *StatusBroadcaster) { b.BroadcastMsg("time-lapse started") }, "info", "time-lapse started"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewStatusBroadcaster()
			ch, unsub := b.Subscribe()
			defer unsub()

			tc.send(b)
			evt := receive(t, ch)
			if evt.Level != tc.wantLevel || evt.Msg != tc.wantMsg {
				t.Errorf("event = %+v, want level %q msg %q", evt, tc.wantLevel, tc.wantMsg)
			}
			if _, err := time.Parse(time.RFC3339, evt.Time); err != nil {
				t.Errorf("timestamp %q: %v", evt.Time, err)
			}
		})
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewStatusBroadcaster()
	var chans []<-chan string
	for i := 0; i < 3; i++ {
		ch, unsub := b.Subscribe()
		defer unsub()
		chans = append(chans, ch)
	}
	if b.Clients() != 3 {
		t.Fatalf("Clients() = %d, want 3", b.Clients())
	}

	b.BroadcastMsg("frame 12 of garden")
	for i, ch := range chans {
		if evt := receive(t, ch); evt.Msg != "frame 12 of garden" {
			t.Errorf("client %d got %q", i, evt.Msg)
		}
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub()

	if _, ok := <-ch; ok {
		t.Error("channel still open after unsubscribe")
	}
	if b.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", b.Clients())
	}
	// No subscriber left: must not panic
	b.BroadcastMsg("nobody listening")
}

func TestBroadcaster_SlowClientMissesMessages(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < cap(ch)+10; i++ {
		b.BroadcastMsg("tick")
	}
	if len(ch) != cap(ch) {
		t.Errorf("buffered %d messages, want %d", len(ch), cap(ch))
	}
}

func TestBroadcastWriter(t *testing.T) {
	cases := []struct {
		name      string
		in        string
		wantMsg   string
		wantLevel string
	}{
		{"trimmed", "  [PiLapse] Picture saved to images/test.jpg  \n", "[PiLapse] Picture saved to images/test.jpg", "info"},
		{"error", "[PiLapse] [ERROR] camera gone\n", "[PiLapse] [ERROR] camera gone", "error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := NewStatusBroadcaster()
			ch, unsub := b.Subscribe()
			defer unsub()

			n, err := BroadcastWriter(b).Write([]byte(tc.in))
			if err != nil || n != len(tc.in) {
				t.Fatalf("Write = %d, %v", n, err)
			}
			evt := receive(t, ch)
			if evt.Msg != tc.wantMsg || evt.Level != tc.wantLevel {
				t.Errorf("event = %+v", evt)
			}
		})
	}
}

func TestBroadcastWriter_BlankIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte(" \t\n"))
	select {
	case msg := <-ch:
		t.Errorf("unexpected message %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_RelayForwardsBusEvents(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	bus := events.New()
	stop := b.Relay(bus)
	defer stop()

	bus.Publish(events.FrameCaptured{Series: "garden", Index: 4, Path: "images/garden/4.jpg"})

	evt := receive(t, ch)
	if evt.Event != "frame_captured" {
		t.Errorf("event = %q, want frame_captured", evt.Event)
	}
	var frame events.FrameCaptured
	if err := json.Unmarshal(evt.Data, &frame); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if frame.Index != 4 || frame.Series != "garden" {
		t.Errorf("data = %+v", frame)
	}
	stop()
	stop()
}
