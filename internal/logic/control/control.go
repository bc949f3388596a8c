package control

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cjeanneret/PiLapse/internal/logic/animation"
	"github.com/cjeanneret/PiLapse/internal/logic/capture"
	"github.com/cjeanneret/PiLapse/internal/state"
)

// MaxSeconds bounds animation durations and capture intervals.
const MaxSeconds = 24 * 60 * 60

// ErrInvalidParams is returned for out-of-range seconds or unsafe names.
var ErrInvalidParams = errors.New("invalid parameters")

// Triggers is what the web layer and the scheduler drive.
type Triggers interface {
	StartAnimation(mode animation.Mode, seconds int) error
	StartCapture(series string, intervalSeconds int) error
	StopCapture() bool
	CaptureOnce(name string) (string, error)
	Status() Status
}

// AnimationStatus describes the active animation.
type AnimationStatus struct {
	Mode    string  `json:"mode"`
	Seconds float64 `json:"seconds"`
}

// Status is the combined view served by /api/status and the live feeds.
type Status struct {
	Time      time.Time        `json:"time"`
	Params    state.Params     `json:"params"`
	Capture   capture.Status   `json:"capture"`
	Animation *AnimationStatus `json:"animation,omitempty"`
}

// Core owns the animation engine, the capture controller and the process
// parameters. Long-running work is bound to the context given to New, not
// to the caller's.
type Core struct {
	ctx     context.Context
	engine  *animation.Engine
	capture *capture.Controller
	state   *state.State
}

// New wires a Core. ctx is the process lifetime.
func New(ctx context.Context, engine *animation.Engine, ctrl *capture.Controller, st *state.State) *Core {
	return &Core{ctx: ctx, engine: engine, capture: ctrl, state: st}
}

func validSeconds(n int) bool {
	return n > 0 && n <= MaxSeconds
}

// StartAnimation plays mode for seconds and clears the strip afterwards.
func (c *Core) StartAnimation(mode animation.Mode, seconds int) error {
	if !validSeconds(seconds) {
		return fmt.Errorf("%w: seconds must be in 1..%d, got %d", ErrInvalidParams, MaxSeconds, seconds)
	}
	req := animation.Request{
		Mode:          mode,
		Duration:      time.Duration(seconds) * time.Second,
		ClearOnFinish: true,
	}
	if err := c.engine.Start(c.ctx, req); err != nil {
		if errors.Is(err, animation.ErrInvalidRequest) {
			return fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		return err
	}
	_, err := c.state.Update(func(p *state.Params) { p.RainbowSeconds = seconds })
	return err
}

// StartCapture begins a time-lapse of series every intervalSeconds.
func (c *Core) StartCapture(series string, intervalSeconds int) error {
	if !validSeconds(intervalSeconds) {
		return fmt.Errorf("%w: interval must be in 1..%d, got %d", ErrInvalidParams, MaxSeconds, intervalSeconds)
	}
	if !capture.ValidName(series) {
		return fmt.Errorf("%w: series name %q", ErrInvalidParams, series)
	}
	if err := c.capture.Start(c.ctx, series, time.Duration(intervalSeconds)*time.Second); err != nil {
		return err
	}
	_, err := c.state.Update(func(p *state.Params) {
		p.SeriesName = series
		p.IntervalSeconds = intervalSeconds
	})
	return err
}

// StopCapture signals the running time-lapse, if any.
func (c *Core) StopCapture() bool {
	return c.capture.Stop()
}

// CaptureOnce takes a single picture named name.
func (c *Core) CaptureOnce(name string) (string, error) {
	if !capture.ValidName(name) {
		return "", fmt.Errorf("%w: picture name %q", ErrInvalidParams, name)
	}
	return c.capture.CaptureOnce(c.ctx, name)
}

// Status combines parameters, capture state and the active animation.
func (c *Core) Status() Status {
	s := Status{
		Time:    time.Now(),
		Params:  c.state.Snapshot(),
		Capture: c.capture.Status(),
	}
	if req, ok := c.engine.Running(); ok {
		s.Animation = &AnimationStatus{Mode: req.Mode.String(), Seconds: req.Duration.Seconds()}
	}
	return s
}

// Wait blocks until the animation and the time-lapse loop have exited.
func (c *Core) Wait() {
	c.engine.Wait()
	c.capture.Wait()
}
