package animation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/PiLapse/internal/debug"
	"github.com/cjeanneret/PiLapse/internal/events"
	"github.com/cjeanneret/PiLapse/internal/hw/led"
)

// DefaultTick is the refresh period of a running animation.
const DefaultTick = 5 * time.Millisecond

var (
	// ErrBusy is returned when an animation is already driving the strip.
	ErrBusy = errors.New("animation already running")
	// ErrInvalidRequest is returned for a non-positive duration.
	ErrInvalidRequest = errors.New("invalid animation request")
)

// Request describes one animation run.
type Request struct {
	Mode               Mode
	Duration           time.Duration
	ClearOnFinish      bool
	DecreaseBrightness bool
}

// Engine is the single owner of the LED strip. At most one run is active.
type Engine struct {
	strip led.Strip
	bus   *events.Bus
	tick  time.Duration
	now   func() time.Time

	mu      sync.Mutex
	running bool
	current Request
	done    chan struct{}
}

// NewEngine creates an engine driving strip. A zero tick uses DefaultTick.
func NewEngine(strip led.Strip, bus *events.Bus, tick time.Duration) *Engine {
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Engine{strip: strip, bus: bus, tick: tick, now: time.Now}
}

func (e *Engine) acquire(req Request) (chan struct{}, error) {
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration %v", ErrInvalidRequest, req.Duration)
	}
	if req.Mode != Rainbow && req.Mode != ColorRotate {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, req.Mode)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil, ErrBusy
	}
	e.running = true
	e.current = req
	e.done = make(chan struct{})
	return e.done, nil
}

func (e *Engine) release(done chan struct{}) {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	close(done)
}

// Start launches req in the background and returns immediately. ctx bounds
// the run (process shutdown); callers cannot stop it otherwise.
func (e *Engine) Start(ctx context.Context, req Request) error {
	done, err := e.acquire(req)
	if err != nil {
		return err
	}
	go func() {
		defer e.release(done)
		if err := e.run(ctx, req); err != nil {
			debug.Error(fmt.Errorf("animation %s: %w", req.Mode, err))
		}
	}()
	return nil
}

// Run plays req and blocks until it finishes.
func (e *Engine) Run(ctx context.Context, req Request) error {
	done, err := e.acquire(req)
	if err != nil {
		return err
	}
	defer e.release(done)
	return e.run(ctx, req)
}

// Running returns the active request, if any.
func (e *Engine) Running() (Request, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, e.running
}

// Wait blocks until no run is active.
func (e *Engine) Wait() {
	e.mu.Lock()
	done, running := e.done, e.running
	e.mu.Unlock()
	if running {
		<-done
	}
}

func (e *Engine) run(ctx context.Context, req Request) (err error) {
	debug.Animation(req.Mode.String(), "start", req.Duration.Seconds())
	e.bus.Publish(events.AnimationStarted{Mode: req.Mode.String(), Seconds: req.Duration.Seconds(), Timestamp: e.now()})
	defer func() {
		ev := events.AnimationFinished{Mode: req.Mode.String(), Timestamp: e.now()}
		if err != nil {
			ev.Error = err.Error()
		}
		e.bus.Publish(ev)
		debug.Animation(req.Mode.String(), "finish", req.Duration.Seconds())
	}()

	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	n := e.strip.NumPixels()
	start := e.now()
	interrupted := false
	for {
		now := e.now()
		elapsed := now.Sub(start)
		if elapsed >= req.Duration {
			break
		}
		if err := e.show(req.Mode, RenderTick(req.Mode, now, elapsed, req.Duration, req.DecreaseBrightness, n)); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			interrupted = true
		case <-ticker.C:
		}
		if interrupted {
			break
		}
	}

	if req.ClearOnFinish || interrupted {
		e.strip.Clear()
		if err := e.strip.Show(); err != nil {
			return fmt.Errorf("clear strip: %w", err)
		}
	}
	if interrupted {
		return ctx.Err()
	}
	return nil
}

// show pushes f. ColorRotate frames are uniform and go out through SetAll.
func (e *Engine) show(mode Mode, f Frame) error {
	if mode == ColorRotate && len(f.Pixels) > 0 {
		p := f.Pixels[0]
		e.strip.SetAll(p.R, p.G, p.B)
	} else {
		for x, p := range f.Pixels {
			e.strip.SetPixel(x, p.R, p.G, p.B)
		}
	}
	e.strip.SetBrightness(f.Brightness)
	if err := e.strip.Show(); err != nil {
		return fmt.Errorf("show frame: %w", err)
	}
	debug.Trace("animation hue=%d brightness=%.1f", f.Hue, f.Brightness)
	return nil
}
