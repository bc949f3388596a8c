package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/PiLapse/internal/events"
	"github.com/cjeanneret/PiLapse/internal/hw/camera"
)

var testRes = camera.Resolution{Width: 32, Height: 18}

func newTestController(t *testing.T) (*Controller, *camera.Mock, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "images")
	cam := camera.NewMock()
	return NewController(cam, testRes, root, nil), cam, root
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// frameIndexes returns the sorted numeric names of the jpgs in dir.
func frameIndexes(t *testing.T, dir string) []int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	var out []int
	for _, e := range entries {
		n, err := strconv.Atoi(strings.TrimSuffix(e.Name(), ".jpg"))
		if err != nil {
			t.Fatalf("unexpected file %s", e.Name())
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func assertContiguous(t *testing.T, got []int, from int) {
	t.Helper()
	for i, n := range got {
		if n != from+i {
			t.Fatalf("frame indexes %v are not contiguous from %d", got, from)
		}
	}
}

func TestController_StartCreatesSeriesAndRuns(t *testing.T) {
	c, _, root := newTestController(t)
	ctx := context.Background()

	if err := c.Start(ctx, "garden", time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { c.Stop(); c.Wait() }()

	if fi, err := os.Stat(filepath.Join(root, "garden")); err != nil || !fi.IsDir() {
		t.Fatalf("series directory missing: %v", err)
	}
	st := c.Status()
	if st.State != Running || st.Series != "garden" || st.IntervalSeconds != 3600 {
		t.Errorf("Status() = %+v", st)
	}
}

func TestController_SecondStartRejected(t *testing.T) {
	c, cam, _ := newTestController(t)
	ctx := context.Background()
	if err := c.Start(ctx, "a", time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { c.Stop(); c.Wait() }()

	if err := c.Start(ctx, "b", time.Second); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start = %v, want ErrAlreadyRunning", err)
	}
	if st := c.Status(); st.Series != "a" {
		t.Errorf("series changed to %q by rejected Start", st.Series)
	}
	waitFor(t, "first frame", func() bool { return len(cam.Captures()) >= 1 })
	if cam.Opens() != 1 {
		t.Errorf("camera opened %d times, want 1", cam.Opens())
	}
}

func TestController_StopReturnsToIdle(t *testing.T) {
	c, cam, _ := newTestController(t)
	if c.Stop() {
		t.Error("Stop while idle should report false")
	}

	if err := c.Start(context.Background(), "s", 5*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !c.Stop() {
		t.Error("Stop while running should report true")
	}
	if c.Stop() {
		t.Error("second Stop should report false")
	}
	c.Wait()

	if st := c.Status(); st.State != Idle || st.LastError != "" {
		t.Errorf("Status() after stop = %+v", st)
	}
	if cam.IsOpen() {
		t.Error("camera session not released after stop")
	}
}

func TestController_SequentialFramesWithoutGaps(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	bus := events.New()
	captured := make(chan events.FrameCaptured, 64)
	defer bus.Subscribe(func(e events.FrameCaptured) {
		select {
		case captured <- e:
		default:
		}
	})()
	c := NewController(camera.NewMock(), testRes, root, bus)
	ctx := context.Background()

	const interval = 20 * time.Millisecond
	if err := c.Start(ctx, "seq", interval); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "three frames", func() bool { return c.Status().Frames >= 3 })
	c.Stop()
	c.Wait()

	var stamps []time.Time
	for len(stamps) < 3 {
		select {
		case e := <-captured:
			stamps = append(stamps, e.Timestamp)
		case <-time.After(time.Second):
			t.Fatalf("got %d frame events, want 3", len(stamps))
		}
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < interval {
			t.Errorf("frames %d and %d only %v apart, want at least %v", i, i+1, gap, interval)
		}
	}

	first := frameIndexes(t, filepath.Join(root, "seq"))
	if len(first) < 3 || first[0] != 1 {
		t.Fatalf("frames = %v, want at least 1..3", first)
	}
	assertContiguous(t, first, 1)
	if got := c.Status().NextIndex; got != first[len(first)-1]+1 {
		t.Errorf("NextIndex = %d, want %d", got, first[len(first)-1]+1)
	}

	// Restarting the same series continues the numbering.
	if err := c.Start(ctx, "seq", interval); err != nil {
		t.Fatalf("restart: %v", err)
	}
	waitFor(t, "more frames", func() bool { return c.Status().Frames >= 2 })
	c.Stop()
	c.Wait()

	all := frameIndexes(t, filepath.Join(root, "seq"))
	if len(all) <= len(first) {
		t.Fatalf("restart wrote no frames: %v", all)
	}
	assertContiguous(t, all, 1)
}

func TestController_ResumesFromExistingDirectory(t *testing.T) {
	c, _, root := newTestController(t)
	dir := filepath.Join(root, "old")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"3.jpg", "7.jpg", "notes.txt", "x.jpg"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.Start(context.Background(), "old", time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first frame", func() bool { return c.Status().Frames >= 1 })
	c.Stop()
	c.Wait()

	if st := c.Status(); st.LastFrame != filepath.Join(dir, "8.jpg") {
		t.Errorf("LastFrame = %q, want 8.jpg", st.LastFrame)
	}
}

func TestController_StopDoesNotWaitForInterval(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Start(context.Background(), "slow", time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first frame", func() bool { return c.Status().Frames == 1 })

	start := time.Now()
	c.Stop()
	c.Wait()
	if d := time.Since(start); d > time.Second {
		t.Errorf("stop took %v", d)
	}
}

func TestController_ContextCancelStopsLoop(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx, "ctx", time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	c.Wait()
	if st := c.Status(); st.State != Idle || st.LastError != "" {
		t.Errorf("Status() = %+v", st)
	}
}

func TestController_CaptureOnce(t *testing.T) {
	c, _, root := newTestController(t)
	ctx := context.Background()

	path, err := c.CaptureOnce(ctx, "test")
	if err != nil {
		t.Fatalf("CaptureOnce: %v", err)
	}
	if want := filepath.Join(root, "test.jpg"); path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "test.jpg" {
		t.Errorf("images dir = %v, want only test.jpg", entries)
	}
	if st := c.Status(); st.State != Idle || st.Snapshotting {
		t.Errorf("Status() = %+v", st)
	}
}

func TestController_CaptureOnceRejectedWhileRunning(t *testing.T) {
	c, _, root := newTestController(t)
	ctx := context.Background()
	if err := c.Start(ctx, "busy", time.Hour); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := c.CaptureOnce(ctx, "test"); !errors.Is(err, ErrBusy) {
		t.Errorf("CaptureOnce while running = %v, want ErrBusy", err)
	}
	c.Stop()
	c.Wait()
	if _, err := os.Stat(filepath.Join(root, "test.jpg")); !os.IsNotExist(err) {
		t.Error("rejected CaptureOnce must not write a file")
	}
}

func TestController_CaptureFailureReturnsToIdle(t *testing.T) {
	root := filepath.Join(t.TempDir(), "images")
	cam := camera.NewMock()
	cam.FailAfter = 2
	bus := events.New()
	stopped := make(chan events.CaptureStopped, 1)
	defer bus.Subscribe(func(e events.CaptureStopped) { stopped <- e })()

	c := NewController(cam, testRes, root, bus)
	if err := c.Start(context.Background(), "flaky", time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Wait()

	st := c.Status()
	if st.State != Idle {
		t.Errorf("State = %v, want idle", st.State)
	}
	if st.LastError == "" {
		t.Error("LastError should be set after a camera failure")
	}
	if st.Frames != 2 {
		t.Errorf("Frames = %d, want 2", st.Frames)
	}

	select {
	case ev := <-stopped:
		if ev.Error == "" || ev.Frames != 2 {
			t.Errorf("CaptureStopped = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no CaptureStopped event")
	}

	cam.FailAfter = 0
	if err := c.Start(context.Background(), "flaky", time.Hour); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	if st := c.Status(); st.LastError != "" {
		t.Errorf("LastError not cleared by new run: %q", st.LastError)
	}
	c.Stop()
	c.Wait()
}

func TestController_OpenFailure(t *testing.T) {
	c, cam, _ := newTestController(t)
	cam.OpenErr = errors.New("no camera")
	if err := c.Start(context.Background(), "x", time.Second); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.Wait()
	if st := c.Status(); st.State != Idle || !strings.Contains(st.LastError, "no camera") {
		t.Errorf("Status() = %+v", st)
	}
	if _, err := c.CaptureOnce(context.Background(), "test"); err == nil {
		t.Error("CaptureOnce should fail when the camera cannot open")
	}
}

func TestController_InvalidInput(t *testing.T) {
	c, _, _ := newTestController(t)
	ctx := context.Background()
	for _, name := range []string{"", "..", "../etc", "a/b", ".hidden", "with space"} {
		if err := c.Start(ctx, name, time.Second); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Start(%q) = %v, want ErrInvalidName", name, err)
		}
		if _, err := c.CaptureOnce(ctx, name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("CaptureOnce(%q) = %v, want ErrInvalidName", name, err)
		}
	}
	if err := c.Start(ctx, "ok", 0); !errors.Is(err, ErrInvalidInterval) {
		t.Errorf("Start with zero interval = %v, want ErrInvalidInterval", err)
	}
	if st := c.Status(); st.State != Idle {
		t.Errorf("State = %v after rejected starts", st.State)
	}
}
