package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/PiLapse/internal/debug"
	"github.com/cjeanneret/PiLapse/internal/events"
	"github.com/cjeanneret/PiLapse/internal/hw/camera"
)

var (
	// ErrAlreadyRunning is returned by Start while a time-lapse loop is active.
	ErrAlreadyRunning = errors.New("time-lapse already running")
	// ErrBusy is returned when the camera is held by another capture.
	ErrBusy = errors.New("camera busy")
	// ErrInvalidName is returned for series or picture names that are not a
	// single safe path element.
	ErrInvalidName = errors.New("invalid name")
	// ErrInvalidInterval is returned for a non-positive interval.
	ErrInvalidInterval = errors.New("invalid interval")
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidName reports whether name can be used as a series directory or a
// picture file name.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

// State is the time-lapse lifecycle.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a point-in-time view of the controller.
type Status struct {
	State           State   `json:"state"`
	Series          string  `json:"series,omitempty"`
	IntervalSeconds float64 `json:"interval_seconds,omitempty"`
	NextIndex       int     `json:"next_index,omitempty"`
	Frames          int     `json:"frames"`
	LastFrame       string  `json:"last_frame,omitempty"`
	LastError       string  `json:"last_error,omitempty"`
	Snapshotting    bool    `json:"snapshotting"`
}

// Controller owns the camera: one time-lapse loop or one single capture at
// a time. Frames are written to <root>/<series>/<n>.jpg and single pictures
// to <root>/<name>.jpg.
type Controller struct {
	cam  camera.Driver
	res  camera.Resolution
	root string
	bus  *events.Bus

	mu        sync.Mutex
	state     State
	series    string
	interval  time.Duration
	counters  map[string]int
	frames    int
	lastFrame string
	lastErr   error
	snapshot  bool
	stopping  bool
	stop      chan struct{}
	done      chan struct{}
}

// NewController creates an idle controller writing under root.
func NewController(cam camera.Driver, res camera.Resolution, root string, bus *events.Bus) *Controller {
	return &Controller{
		cam:      cam,
		res:      res,
		root:     root,
		bus:      bus,
		counters: make(map[string]int),
	}
}

// Start begins a time-lapse of series, one frame every interval. ctx bounds
// the loop's lifetime (process shutdown); Stop ends it otherwise.
func (c *Controller) Start(ctx context.Context, series string, interval time.Duration) error {
	if !ValidName(series) {
		return fmt.Errorf("%w: %q", ErrInvalidName, series)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Running {
		return ErrAlreadyRunning
	}
	if c.snapshot {
		return ErrBusy
	}

	dir := filepath.Join(c.root, series)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create series directory: %w", err)
	}
	if _, known := c.counters[series]; !known {
		next, err := scanNextIndex(dir)
		if err != nil {
			return err
		}
		c.counters[series] = next
	}

	c.state = Running
	c.series = series
	c.interval = interval
	c.frames = 0
	c.lastFrame = ""
	c.lastErr = nil
	c.stopping = false
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	debug.Info("Time-lapse %q started: every %v from frame %d", series, interval, c.counters[series])
	c.bus.Publish(events.CaptureStarted{Series: series, IntervalSeconds: interval.Seconds(), Timestamp: time.Now()})

	go c.loop(ctx, series, interval, c.stop, c.done)
	return nil
}

// Stop asks the running loop to end after the in-flight capture. It returns
// false when there was nothing to stop.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Running || c.stopping {
		return false
	}
	c.stopping = true
	close(c.stop)
	debug.Info("Time-lapse %q stop requested", c.series)
	return true
}

// Wait blocks until the current loop, if any, has exited.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		State:        c.state,
		Frames:       c.frames,
		LastFrame:    c.lastFrame,
		Snapshotting: c.snapshot,
	}
	if c.series != "" {
		s.Series = c.series
		s.IntervalSeconds = c.interval.Seconds()
		s.NextIndex = c.counters[c.series]
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Controller) loop(ctx context.Context, series string, interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	var err error
	defer close(done)
	defer c.finish(series, &err)

	sess, err := c.cam.Open(ctx, c.res)
	if err != nil {
		err = fmt.Errorf("open camera: %w", err)
		return
	}
	defer sess.Close()

	timer := time.NewTimer(interval)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		index := c.counters[series]
		c.mu.Unlock()

		path := filepath.Join(c.root, series, strconv.Itoa(index)+".jpg")
		if cerr := sess.Capture(ctx, path); cerr != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("capture frame %d: %w", index, cerr)
			}
			return
		}

		c.mu.Lock()
		c.counters[series] = index + 1
		c.frames++
		c.lastFrame = path
		c.mu.Unlock()

		debug.Frame(series, index, path)
		c.bus.Publish(events.FrameCaptured{Series: series, Index: index, Path: path, Timestamp: time.Now()})

		timer.Reset(interval)
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}
}

// finish runs after the camera session is closed.
func (c *Controller) finish(series string, errp *error) {
	err := *errp
	c.mu.Lock()
	c.state = Idle
	c.stopping = false
	c.lastErr = err
	frames := c.frames
	c.mu.Unlock()

	ev := events.CaptureStopped{Series: series, Frames: frames, Timestamp: time.Now()}
	if err != nil {
		ev.Error = err.Error()
		debug.Error(fmt.Errorf("time-lapse %q: %w", series, err))
	}
	debug.Info("Time-lapse %q stopped after %d frames", series, frames)
	c.bus.Publish(ev)
}

// CaptureOnce takes a single picture to <root>/<name>.jpg and returns its
// path. It is rejected while a time-lapse runs or another single capture
// is in flight.
func (c *Controller) CaptureOnce(ctx context.Context, name string) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c.mu.Lock()
	if c.state == Running || c.snapshot {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.snapshot = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.snapshot = false
		c.mu.Unlock()
	}()

	path := filepath.Join(c.root, name+".jpg")
	err := c.captureOnce(ctx, path)

	ev := events.SnapshotTaken{Name: name, Timestamp: time.Now()}
	if err != nil {
		ev.Error = err.Error()
		c.bus.Publish(ev)
		return "", err
	}
	ev.Path = path
	c.bus.Publish(ev)
	debug.Info("Picture saved to %s", path)
	return path, nil
}

func (c *Controller) captureOnce(ctx context.Context, path string) error {
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return fmt.Errorf("create images directory: %w", err)
	}
	sess, err := c.cam.Open(ctx, c.res)
	if err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	defer sess.Close()
	if err := sess.Capture(ctx, path); err != nil {
		return fmt.Errorf("capture %s: %w", path, err)
	}
	return nil
}

// scanNextIndex returns one past the highest <n>.jpg in dir, or 1.
func scanNextIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scan series directory: %w", err)
	}
	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base, ok := strings.CutSuffix(e.Name(), ".jpg")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(base); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}
