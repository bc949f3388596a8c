package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/cjeanneret/PiLapse/internal/logic/animation"
	"github.com/cjeanneret/PiLapse/internal/logic/capture"
	"github.com/cjeanneret/PiLapse/internal/logic/control"
	"github.com/cjeanneret/PiLapse/internal/scheduler"
	"github.com/cjeanneret/PiLapse/internal/state"
)

// fakeTriggers records every call and returns err.
type fakeTriggers struct {
	mu      sync.Mutex
	calls   []string
	err     error
	stopped bool
	status  control.Status
}

func newFakeTriggers() *fakeTriggers {
	return &fakeTriggers{status: control.Status{
		Params: state.Params{RainbowSeconds: 5, IntervalSeconds: 7, SeriesName: "default"},
	}}
}

func (f *fakeTriggers) record(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeTriggers) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTriggers) StartAnimation(mode animation.Mode, seconds int) error {
	f.record("animation %s %d", mode, seconds)
	return f.err
}

func (f *fakeTriggers) StartCapture(series string, intervalSeconds int) error {
	f.record("start %s %d", series, intervalSeconds)
	return f.err
}

func (f *fakeTriggers) StopCapture() bool {
	f.record("stop")
	return f.stopped
}

func (f *fakeTriggers) CaptureOnce(name string) (string, error) {
	f.record("snapshot %s", name)
	if f.err != nil {
		return "", f.err
	}
	return "images/" + name + ".jpg", nil
}

func (f *fakeTriggers) Status() control.Status { return f.status }

type fakeSchedules []scheduler.Entry

func (s fakeSchedules) Entries() []scheduler.Entry { return s }

// ---------- Handler helpers ----------

func newTestHandlers(t *testing.T, triggers control.Triggers, opts Options) *Handlers {
	t.Helper()
	staticFS := fstest.MapFS{
		"style.css": &fstest.MapFile{Data: []byte("body{}")},
	}
	templatesFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		t.Fatalf("sub templates: %v", err)
	}
	if opts.ImagesDir == "" {
		opts.ImagesDir = t.TempDir()
	}
	h, err := NewHandlers(triggers, NewStatusBroadcaster(), nil, opts, staticFS, templatesFS)
	if err != nil {
		t.Fatalf("NewHandlers: %v", err)
	}
	return h
}

func postForm(h http.HandlerFunc, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func postJSON(h http.HandlerFunc, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

// ---------- statusFor ----------

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{control.ErrInvalidParams, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", capture.ErrInvalidName), http.StatusBadRequest},
		{capture.ErrInvalidInterval, http.StatusBadRequest},
		{animation.ErrBusy, http.StatusConflict},
		{capture.ErrAlreadyRunning, http.StatusConflict},
		{capture.ErrBusy, http.StatusConflict},
		{fmt.Errorf("camera exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// ---------- Index form ----------

func TestServeIndex(t *testing.T) {
	h := newTestHandlers(t, newFakeTriggers(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	h.ServeIndex(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	body := w.Body.String()
	for _, want := range []string{`name="secRainbow"`, `name="waitSeconds"`, `name="seriesName"`, `value="default"`, `value="7"`, "Take Picture"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %s", want)
		}
	}
	if !strings.Contains(body, `value="StopTimeLapse" disabled`) {
		t.Error("stop button should be disabled while idle")
	}
	if strings.Contains(body, `value="StartTimeLapse" disabled`) {
		t.Error("start button should be enabled while idle")
	}
}

func TestServeIndex_RunningTogglesButtons(t *testing.T) {
	tr := newFakeTriggers()
	tr.status.Capture = capture.Status{State: capture.Running, Series: "garden", Frames: 3}
	h := newTestHandlers(t, tr, Options{})
	w := httptest.NewRecorder()

	h.ServeIndex(w, httptest.NewRequest(http.MethodGet, "/", nil))

	body := w.Body.String()
	if !strings.Contains(body, `value="StartTimeLapse" disabled`) || !strings.Contains(body, `value="Take Picture" disabled`) {
		t.Error("start and picture buttons should be disabled while running")
	}
	if strings.Contains(body, `value="StopTimeLapse" disabled`) {
		t.Error("stop button should be enabled while running")
	}
	if !strings.Contains(body, "/stream?series=garden") {
		t.Error("running page should embed the live feed")
	}
}

func TestHandleForm_Actions(t *testing.T) {
	cases := []struct {
		submit string
		want   string
	}{
		{"Rainbow", "animation rainbow 3"},
		{"ColorRotate", "animation colorrotate 3"},
		{"StartTimeLapse", "start garden 10"},
		{"StopTimeLapse", "stop"},
		{"Take Picture", "snapshot test"},
	}
	for _, tc := range cases {
		t.Run(tc.submit, func(t *testing.T) {
			tr := newFakeTriggers()
			h := newTestHandlers(t, tr, Options{})
			w := postForm(h.HandleForm, url.Values{
				"secRainbow":  {"3"},
				"waitSeconds": {"10"},
				"seriesName":  {"garden"},
				"submit":      {tc.submit},
			})
			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want 200", w.Code)
			}
			if calls := tr.Calls(); len(calls) != 1 || calls[0] != tc.want {
				t.Errorf("calls = %v, want [%s]", calls, tc.want)
			}
		})
	}
}

func TestHandleForm_MissingFieldsUseCurrentParams(t *testing.T) {
	tr := newFakeTriggers()
	h := newTestHandlers(t, tr, Options{})
	postForm(h.HandleForm, url.Values{"submit": {"StartTimeLapse"}})
	if calls := tr.Calls(); len(calls) != 1 || calls[0] != "start default 7" {
		t.Errorf("calls = %v", calls)
	}
}

func TestHandleForm_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		values url.Values
		err    error
		want   int
	}{
		{"unknown_action", url.Values{"submit": {"Dance"}}, nil, http.StatusBadRequest},
		{"non_numeric_seconds", url.Values{"secRainbow": {"abc"}, "submit": {"Rainbow"}}, nil, http.StatusBadRequest},
		{"busy", url.Values{"submit": {"Rainbow"}}, animation.ErrBusy, http.StatusConflict},
		{"already_running", url.Values{"submit": {"StartTimeLapse"}}, capture.ErrAlreadyRunning, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := newFakeTriggers()
			tr.err = tc.err
			h := newTestHandlers(t, tr, Options{})
			w := postForm(h.HandleForm, tc.values)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
			if !strings.Contains(w.Body.String(), `class="message error"`) {
				t.Error("rejection should be shown on the page")
			}
		})
	}
}

// ---------- JSON API ----------

func TestHandleAnimation(t *testing.T) {
	tr := newFakeTriggers()
	h := newTestHandlers(t, tr, Options{})

	w := postJSON(h.HandleAnimation, "/api/animation", `{"mode":"colorrotate","seconds":4}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "started" || resp["mode"] != "colorrotate" {
		t.Errorf("response = %v", resp)
	}

	postJSON(h.HandleAnimation, "/api/animation", ``)
	if calls := tr.Calls(); len(calls) != 2 || calls[0] != "animation colorrotate 4" || calls[1] != "animation rainbow 5" {
		t.Errorf("calls = %v", calls)
	}
}

func TestHandleAnimation_BadInput(t *testing.T) {
	h := newTestHandlers(t, newFakeTriggers(), Options{})
	cases := map[string]string{
		"invalid_json": "not json",
		"unknown_mode": `{"mode":"strobe"}`,
		"oversized":    `{"mode":"` + strings.Repeat("x", 2<<20) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w := postJSON(h.HandleAnimation, "/api/animation", body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHandleAnimation_Busy(t *testing.T) {
	tr := newFakeTriggers()
	tr.err = animation.ErrBusy
	h := newTestHandlers(t, tr, Options{})
	w := postJSON(h.HandleAnimation, "/api/animation", `{"seconds":2}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["error"] == "" {
		t.Error("error message missing")
	}
}

func TestHandleTimeLapse(t *testing.T) {
	tr := newFakeTriggers()
	h := newTestHandlers(t, tr, Options{})

	if w := postJSON(h.HandleTimeLapseStart, "/api/timelapse/start", `{"series":"garden","interval_seconds":30}`); w.Code != http.StatusAccepted {
		t.Errorf("start status = %d, want 202", w.Code)
	}
	if w := postJSON(h.HandleTimeLapseStart, "/api/timelapse/start", `{}`); w.Code != http.StatusAccepted {
		t.Errorf("default start status = %d, want 202", w.Code)
	}

	tr.stopped = true
	w := postJSON(h.HandleTimeLapseStop, "/api/timelapse/stop", "")
	var resp map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if w.Code != http.StatusOK || !resp["stopped"] {
		t.Errorf("stop = %d %v", w.Code, resp)
	}

	want := []string{"start garden 30", "start default 7", "stop"}
	if calls := tr.Calls(); strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

func TestHandleSnapshot(t *testing.T) {
	tr := newFakeTriggers()
	h := newTestHandlers(t, tr, Options{})

	w := postJSON(h.HandleSnapshot, "/api/snapshot", `{"name":"morning"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["path"] != "images/morning.jpg" {
		t.Errorf("path = %q", resp["path"])
	}

	tr.err = capture.ErrBusy
	if w := postJSON(h.HandleSnapshot, "/api/snapshot", ""); w.Code != http.StatusConflict {
		t.Errorf("busy snapshot status = %d, want 409", w.Code)
	}
	if calls := tr.Calls(); calls[1] != "snapshot test" {
		t.Errorf("default snapshot name: calls = %v", calls)
	}
}

func TestHandleStatusAndSchedules(t *testing.T) {
	tr := newFakeTriggers()
	h := newTestHandlers(t, tr, Options{})

	w := httptest.NewRecorder()
	h.HandleStatus(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	var st struct {
		Params struct {
			SeriesName string `json:"series_name"`
		} `json:"params"`
		Capture struct {
			State string `json:"state"`
		} `json:"capture"`
	}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Params.SeriesName != "default" || st.Capture.State != "idle" {
		t.Errorf("status = %+v", st)
	}

	w = httptest.NewRecorder()
	h.HandleSchedules(w, httptest.NewRequest(http.MethodGet, "/api/schedules", nil))
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("schedules without scheduler = %s, want []", w.Body.String())
	}

	h.Schedules = fakeSchedules{{ID: 1, Spec: "@hourly", Command: "snapshot hourly"}}
	w = httptest.NewRecorder()
	h.HandleSchedules(w, httptest.NewRequest(http.MethodGet, "/api/schedules", nil))
	var entries []scheduler.Entry
	json.NewDecoder(w.Body).Decode(&entries)
	if len(entries) != 1 || entries[0].Command != "snapshot hourly" {
		t.Errorf("entries = %+v", entries)
	}
}

// ---------- Gallery ----------

func writeImages(t *testing.T, root string, rels ...string) {
	t.Helper()
	for _, rel := range rels {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("jpeg:"+rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHandleImageList(t *testing.T) {
	root := t.TempDir()
	var rels []string
	for i := 1; i <= 10; i++ {
		rels = append(rels, fmt.Sprintf("garden/%d.jpg", i))
	}
	writeImages(t, root, append(rels, "test.jpg", ".secret.jpg")...)
	h := newTestHandlers(t, newFakeTriggers(), Options{ImagesDir: root})

	w := httptest.NewRecorder()
	h.HandleImageList(w, httptest.NewRequest(http.MethodGet, "/imagelist", nil))
	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(body, "<b>1 - 9</b> of <b>11</b>") {
		t.Errorf("page 1 summary missing:\n%s", body)
	}
	if strings.Count(body, "<tr>") != 3 {
		t.Errorf("want 3 rows, got %d", strings.Count(body, "<tr>"))
	}
	if strings.Contains(body, ".secret") {
		t.Error("dotfiles must not be listed")
	}

	w = httptest.NewRecorder()
	h.HandleImageList(w, httptest.NewRequest(http.MethodGet, "/imagelist?page=2", nil))
	if !strings.Contains(w.Body.String(), "<b>10 - 11</b> of <b>11</b>") {
		t.Errorf("page 2 summary missing")
	}

	w = httptest.NewRecorder()
	h.HandleImageList(w, httptest.NewRequest(http.MethodGet, "/imagelist?q=test", nil))
	if !strings.Contains(w.Body.String(), "<b>1 - 1</b> of <b>1</b>") {
		t.Errorf("filtered summary missing")
	}
}

func TestImageServer(t *testing.T) {
	root := t.TempDir()
	writeImages(t, root, "garden/1.jpg", ".hidden/x.jpg")
	srv := http.StripPrefix("/images/", ImageServer(root))

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/garden/1.jpg", nil))
	if w.Code != http.StatusOK || !bytes.Equal(w.Body.Bytes(), []byte("jpeg:garden/1.jpg")) {
		t.Errorf("serve = %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/images/.hidden/x.jpg", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("dotfile status = %d, want 404", w.Code)
	}
}
