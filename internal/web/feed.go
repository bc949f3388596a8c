package web

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cjeanneret/PiLapse/internal/debug"
	"github.com/cjeanneret/PiLapse/internal/gallery"
	"github.com/cjeanneret/PiLapse/internal/logic/capture"
)

const (
	feedBoundary = "pilapseframe"
	// feedDebounce lets the camera finish writing before a frame is sent.
	feedDebounce = 150 * time.Millisecond
)

// HandleFeed handles GET /stream: a multipart/x-mixed-replace feed that
// pushes the newest frame of a series whenever one lands on disk. Without
// ?series= it follows the series of the current (or last) time-lapse, or
// the single pictures when there is none.
func (h *Handlers) HandleFeed(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	series := strings.TrimSpace(r.URL.Query().Get("series"))
	if series == "" {
		series = h.Triggers.Status().Capture.Series
	} else if !capture.ValidName(series) {
		http.Error(w, "invalid series name", http.StatusBadRequest)
		return
	}
	dir := h.opts.ImagesDir
	if series != "" {
		dir = filepath.Join(dir, series)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		http.Error(w, "no such series", http.StatusNotFound)
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		http.Error(w, "cannot watch images", http.StatusInternalServerError)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		http.Error(w, "cannot watch images", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+feedBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var sent string
	push := func() error {
		img, ok, err := gallery.Latest(h.opts.ImagesDir, series)
		if err != nil || !ok {
			return err
		}
		key := img.Path + "@" + img.ModTime.String()
		if key == sent {
			return nil
		}
		data, err := os.ReadFile(filepath.Join(h.opts.ImagesDir, filepath.FromSlash(img.Path)))
		if err != nil {
			return err
		}
		if err := writeFrame(w, data); err != nil {
			return err
		}
		flusher.Flush()
		sent = key
		debug.Verbose("Feed: sent %s (%d bytes)", img.Path, len(data))
		return nil
	}
	if err := push(); err != nil {
		debug.Error(fmt.Errorf("feed: %w", err))
		return
	}

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".jpg") || !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(feedDebounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := push(); err != nil {
				debug.Verbose("Feed: client gone: %v", err)
				return
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			debug.Error(fmt.Errorf("feed watcher: %w", err))
		}
	}
}

// writeFrame writes one part of the multipart feed. Content-Length lets
// clients read the frame without waiting for the next boundary.
func writeFrame(w http.ResponseWriter, jpeg []byte) error {
	header := "--" + feedBoundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(len(jpeg)) + "\r\n\r\n"
	if _, err := w.Write([]byte(header)); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
