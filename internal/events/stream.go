package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges a callback subscription for one event type to
// a channel. Events are dropped when the channel is full.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- Event) func() {
	if bus == nil {
		return func() {}
	}
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
		}
	})
}

// SubscribeAll forwards every event type to ch and returns a single
// function cancelling all subscriptions.
func SubscribeAll(bus *Bus, ch chan<- Event) func() {
	unsubs := []func(){
		SubscribeToChannel[AnimationStarted](bus, ch),
		SubscribeToChannel[AnimationFinished](bus, ch),
		SubscribeToChannel[CaptureStarted](bus, ch),
		SubscribeToChannel[FrameCaptured](bus, ch),
		SubscribeToChannel[CaptureStopped](bus, ch),
		SubscribeToChannel[SnapshotTaken](bus, ch),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
