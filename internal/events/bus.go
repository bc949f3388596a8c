package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// A nil *Bus is valid and drops everything, so components can run
// without one in tests.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(FrameCaptured{...})
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case AnimationStarted:
		event.Publish(b.dispatcher, e)
	case AnimationFinished:
		event.Publish(b.dispatcher, e)
	case CaptureStarted:
		event.Publish(b.dispatcher, e)
	case FrameCaptured:
		event.Publish(b.dispatcher, e)
	case CaptureStopped:
		event.Publish(b.dispatcher, e)
	case SnapshotTaken:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e FrameCaptured) { ... })
func (b *Bus) Subscribe(handler any) func() {
	if b == nil {
		return func() {}
	}
	switch h := handler.(type) {
	case func(AnimationStarted):
		return event.Subscribe(b.dispatcher, h)
	case func(AnimationFinished):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureStarted):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameCaptured):
		return event.Subscribe(b.dispatcher, h)
	case func(CaptureStopped):
		return event.Subscribe(b.dispatcher, h)
	case func(SnapshotTaken):
		return event.Subscribe(b.dispatcher, h)
	default:
		return func() {}
	}
}

