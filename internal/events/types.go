package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeAnimationStarted uint32 = iota + 1
	TypeAnimationFinished
	TypeCaptureStarted
	TypeFrameCaptured
	TypeCaptureStopped
	TypeSnapshotTaken
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// AnimationStarted is published when the LED strip starts an effect.
type AnimationStarted struct {
	Mode      string    `json:"mode"`
	Seconds   float64   `json:"seconds"`
	Timestamp time.Time `json:"timestamp"`
}

func (e AnimationStarted) Type() uint32 { return TypeAnimationStarted }

// AnimationFinished is published once the strip is cleared after an effect.
type AnimationFinished struct {
	Mode      string    `json:"mode"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e AnimationFinished) Type() uint32 { return TypeAnimationFinished }

// CaptureStarted is published when a time-lapse loop begins.
type CaptureStarted struct {
	Series          string    `json:"series"`
	IntervalSeconds float64   `json:"interval_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e CaptureStarted) Type() uint32 { return TypeCaptureStarted }

// FrameCaptured is published for every time-lapse frame written to disk.
type FrameCaptured struct {
	Series    string    `json:"series"`
	Index     int       `json:"index"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

func (e FrameCaptured) Type() uint32 { return TypeFrameCaptured }

// CaptureStopped is published when a time-lapse loop exits. Error is set
// when the loop ended because of a camera failure.
type CaptureStopped struct {
	Series    string    `json:"series"`
	Frames    int       `json:"frames"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e CaptureStopped) Type() uint32 { return TypeCaptureStopped }

// SnapshotTaken is published after a single capture attempt.
type SnapshotTaken struct {
	Name      string    `json:"name"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e SnapshotTaken) Type() uint32 { return TypeSnapshotTaken }

// Name returns the wire name of an event, used by the SSE and websocket
// feeds.
func Name(ev Event) string {
	switch ev.(type) {
	case AnimationStarted:
		return "animation_started"
	case AnimationFinished:
		return "animation_finished"
	case CaptureStarted:
		return "capture_started"
	case FrameCaptured:
		return "frame_captured"
	case CaptureStopped:
		return "capture_stopped"
	case SnapshotTaken:
		return "snapshot_taken"
	default:
		return "unknown"
	}
}
