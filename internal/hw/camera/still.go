package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/PiLapse/internal/debug"
)

// Tool selects the command line interface of the still capture binary.
type Tool string

const (
	Libcamera  Tool = "libcamera"  // libcamera-still / rpicam-still
	Raspistill Tool = "raspistill" // legacy firmware camera stack
)

// ErrSessionClosed is returned by Capture after Close.
var ErrSessionClosed = errors.New("camera session closed")

// Still captures frames by running the Raspberry Pi still capture tool,
// one process per frame.
type Still struct {
	tool    Tool
	command string
	warmup  time.Duration
	timeout time.Duration

	mu   sync.Mutex
	busy bool

	// run executes a prepared command; replaced in tests.
	run func(cmd *exec.Cmd) error
}

// NewStill creates a still capture driver. An empty command selects the
// default binary of the tool.
func NewStill(tool Tool, command string, warmup, timeout time.Duration) *Still {
	if command == "" {
		command = defaultCommand(tool)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Still{
		tool:    tool,
		command: command,
		warmup:  warmup,
		timeout: timeout,
		run:     func(cmd *exec.Cmd) error { return cmd.Run() },
	}
}

func defaultCommand(tool Tool) string {
	if tool == Raspistill {
		return "raspistill"
	}
	return "libcamera-still"
}

// Open checks the capture binary is available and waits for the sensor to
// warm up. Only one session can be open at a time.
func (s *Still) Open(ctx context.Context, res Resolution) (Session, error) {
	if res.Width <= 0 || res.Height <= 0 {
		return nil, fmt.Errorf("invalid resolution %s", res)
	}
	path, err := exec.LookPath(s.command)
	if err != nil {
		return nil, fmt.Errorf("camera tool %q not found: %w", s.command, err)
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, errors.New("camera already in use")
	}
	s.busy = true
	s.mu.Unlock()

	debug.Verbose("Camera: opened %s at %s, warming up %v", path, res, s.warmup)
	if s.warmup > 0 {
		select {
		case <-ctx.Done():
			s.release()
			return nil, ctx.Err()
		case <-time.After(s.warmup):
		}
	}
	return &stillSession{driver: s, path: path, res: res}, nil
}

func (s *Still) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Args returns the capture arguments for the tool.
func Args(tool Tool, res Resolution, dst string) []string {
	w, h := strconv.Itoa(res.Width), strconv.Itoa(res.Height)
	if tool == Raspistill {
		return []string{"-n", "-t", "1", "-w", w, "-h", h, "-e", "jpg", "-o", dst}
	}
	return []string{"--nopreview", "--immediate", "--width", w, "--height", h, "--encoding", "jpg", "-o", dst}
}

type stillSession struct {
	driver *Still
	path   string
	res    Resolution

	mu     sync.Mutex
	closed bool
}

func (ss *stillSession) Capture(ctx context.Context, dst string) error {
	ss.mu.Lock()
	closed := ss.closed
	ss.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}

	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, ss.driver.timeout)
	defer cancel()

	args := Args(ss.driver.tool, ss.res, dst)
	cmd := exec.CommandContext(ctx, ss.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	debug.Verbose("Camera: %s %s", ss.path, strings.Join(args, " "))
	if err := ss.driver.run(cmd); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("capture timed out after %v", ss.driver.timeout)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("capture %s: %w: %s", dst, err, msg)
		}
		return fmt.Errorf("capture %s: %w", dst, err)
	}
	return nil
}

func (ss *stillSession) Close() error {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if ss.closed {
		return nil
	}
	ss.closed = true
	ss.driver.release()
	debug.Verbose("Camera: session closed")
	return nil
}
