package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cjeanneret/PiLapse/internal/debug"
	"github.com/cjeanneret/PiLapse/internal/gallery"
	"github.com/cjeanneret/PiLapse/internal/logic/animation"
	"github.com/cjeanneret/PiLapse/internal/logic/capture"
	"github.com/cjeanneret/PiLapse/internal/logic/control"
	"github.com/cjeanneret/PiLapse/internal/scheduler"
)

// maxBodyBytes bounds form and JSON request bodies.
const maxBodyBytes = 1 << 20

// snapshotName is the picture name used by the index form.
const snapshotName = "test"

// ScheduleLister exposes the configured cron entries.
type ScheduleLister interface {
	Entries() []scheduler.Entry
}

// Options holds the web settings taken from config.
type Options struct {
	ImagesDir      string
	PerPage        int
	PerRow         int
	AllowedOrigins []string
	RateLimit      float64 // trigger requests per second, 0 disables limiting
	RateBurst      int
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable it behind a reverse proxy that sets those headers.
	TrustProxy bool
}

// Deps are the runtime collaborators of the handlers.
type Deps struct {
	Triggers    control.Triggers
	Broadcaster *StatusBroadcaster
	Schedules   ScheduleLister
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Triggers    control.Triggers
	Broadcaster *StatusBroadcaster
	Schedules   ScheduleLister
	opts        Options
	pages       *template.Template
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies. templatesFS
// must hold index.html and imagelist.html.
func NewHandlers(triggers control.Triggers, broadcaster *StatusBroadcaster, schedules ScheduleLister, opts Options, staticFS, templatesFS fs.FS) (*Handlers, error) {
	pages, err := template.New("pages").Funcs(templateFuncs).ParseFS(templatesFS, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 9
	}
	if opts.PerRow <= 0 {
		opts.PerRow = 3
	}
	return &Handlers{
		Triggers:    triggers,
		Broadcaster: broadcaster,
		Schedules:   schedules,
		opts:        opts,
		pages:       pages,
		staticFS:    staticFS,
	}, nil
}

var templateFuncs = template.FuncMap{
	"imageURL": func(p string) string {
		return "/images/" + (&url.URL{Path: p}).EscapedPath()
	},
	"kb": func(n int64) string {
		return strconv.FormatInt((n+1023)/1024, 10) + " kB"
	},
}

// statusFor maps trigger errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, control.ErrInvalidParams),
		errors.Is(err, capture.ErrInvalidName),
		errors.Is(err, capture.ErrInvalidInterval),
		errors.Is(err, animation.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, animation.ErrBusy),
		errors.Is(err, capture.ErrAlreadyRunning),
		errors.Is(err, capture.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ---------- Index form ----------

type indexData struct {
	Time      string
	Status    control.Status
	Running   bool
	Message   string
	IsError   bool
	Schedules []scheduler.Entry
}

func (h *Handlers) renderIndex(w http.ResponseWriter, code int, msg string) {
	st := h.Triggers.Status()
	data := indexData{
		Time:    st.Time.Format("2006-01-02 15:04"),
		Status:  st,
		Running: st.Capture.State == capture.Running,
		Message: msg,
		IsError: code >= 400,
	}
	if h.Schedules != nil {
		data.Schedules = h.Schedules.Entries()
	}
	h.render(w, code, "index.html", data)
}

func (h *Handlers) render(w http.ResponseWriter, code int, name string, data any) {
	var buf strings.Builder
	if err := h.pages.ExecuteTemplate(&buf, name, data); err != nil {
		debug.Error(fmt.Errorf("render %s: %w", name, err))
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, buf.String())
}

// ServeIndex serves the control page.
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, http.StatusOK, "")
}

// formInt reads an integer form field, falling back to def when absent.
func formInt(r *http.Request, field string, def int) (int, error) {
	v := strings.TrimSpace(r.PostFormValue(field))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a whole number of seconds", control.ErrInvalidParams, field)
	}
	return n, nil
}

// HandleForm handles POST / from the control page. The submit button value
// selects the action.
func (h *Handlers) HandleForm(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.renderIndex(w, http.StatusBadRequest, "invalid form")
		return
	}

	params := h.Triggers.Status().Params
	secRainbow, err := formInt(r, "secRainbow", params.RainbowSeconds)
	if err != nil {
		h.renderIndex(w, statusFor(err), err.Error())
		return
	}
	waitSeconds, err := formInt(r, "waitSeconds", params.IntervalSeconds)
	if err != nil {
		h.renderIndex(w, statusFor(err), err.Error())
		return
	}
	seriesName := strings.TrimSpace(r.PostFormValue("seriesName"))
	if seriesName == "" {
		seriesName = params.SeriesName
	}

	var msg string
	submit := r.PostFormValue("submit")
	switch submit {
	case "Rainbow":
		err = h.Triggers.StartAnimation(animation.Rainbow, secRainbow)
		msg = fmt.Sprintf("Rainbow for %d seconds", secRainbow)
	case "ColorRotate":
		err = h.Triggers.StartAnimation(animation.ColorRotate, secRainbow)
		msg = fmt.Sprintf("Color rotation for %d seconds", secRainbow)
	case "StartTimeLapse":
		err = h.Triggers.StartCapture(seriesName, waitSeconds)
		msg = fmt.Sprintf("Time-lapse %q started, one picture every %d seconds", seriesName, waitSeconds)
	case "StopTimeLapse":
		if h.Triggers.StopCapture() {
			msg = "Time-lapse stopping"
		} else {
			msg = "No time-lapse running"
		}
	case "Take Picture":
		var path string
		path, err = h.Triggers.CaptureOnce(snapshotName)
		msg = "Picture saved to " + path
	default:
		err = fmt.Errorf("%w: unknown action %q", control.ErrInvalidParams, submit)
	}
	if err != nil {
		msg = err.Error()
	}
	h.renderIndex(w, statusFor(err), msg)
}

// ---------- JSON API ----------

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid JSON body", control.ErrInvalidParams)
	}
	return nil
}

type animationRequest struct {
	Mode    string `json:"mode"`
	Seconds int    `json:"seconds"`
}

// HandleAnimation handles POST /api/animation.
func (h *Handlers) HandleAnimation(w http.ResponseWriter, r *http.Request) {
	var req animationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Mode == "" {
		req.Mode = animation.Rainbow.String()
	}
	mode, err := animation.ParseMode(req.Mode)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %v", control.ErrInvalidParams, err))
		return
	}
	if req.Seconds == 0 {
		req.Seconds = h.Triggers.Status().Params.RainbowSeconds
	}
	if err := h.Triggers.StartAnimation(mode, req.Seconds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "mode": mode.String(), "seconds": req.Seconds})
}

type timelapseRequest struct {
	Series          string `json:"series"`
	IntervalSeconds int    `json:"interval_seconds"`
}

// HandleTimeLapseStart handles POST /api/timelapse/start.
func (h *Handlers) HandleTimeLapseStart(w http.ResponseWriter, r *http.Request) {
	var req timelapseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	params := h.Triggers.Status().Params
	if req.Series == "" {
		req.Series = params.SeriesName
	}
	if req.IntervalSeconds == 0 {
		req.IntervalSeconds = params.IntervalSeconds
	}
	if err := h.Triggers.StartCapture(req.Series, req.IntervalSeconds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "series": req.Series, "interval_seconds": req.IntervalSeconds})
}

// HandleTimeLapseStop handles POST /api/timelapse/stop.
func (h *Handlers) HandleTimeLapseStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": h.Triggers.StopCapture()})
}

type snapshotRequest struct {
	Name string `json:"name"`
}

// HandleSnapshot handles POST /api/snapshot. It blocks until the picture
// is written.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	var req snapshotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		req.Name = snapshotName
	}
	path, err := h.Triggers.CaptureOnce(req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Triggers.Status())
}

// HandleSchedules handles GET /api/schedules.
func (h *Handlers) HandleSchedules(w http.ResponseWriter, r *http.Request) {
	entries := []scheduler.Entry{}
	if h.Schedules != nil {
		entries = h.Schedules.Entries()
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---------- Gallery ----------

type pageLink struct {
	Number  int
	URL     string
	Current bool
}

type imageListData struct {
	Page    gallery.Page
	Query   string
	Links   []pageLink
	PrevURL string
	NextURL string
}

func listURL(q string, page, perPage int) string {
	v := url.Values{}
	if q != "" {
		v.Set("q", q)
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("per_page", strconv.Itoa(perPage))
	return "/imagelist?" + v.Encode()
}

func queryInt(r *http.Request, key string, def, lo, hi int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return max(lo, min(hi, n))
}

// HandleImageList handles GET /imagelist: the paginated image browser.
func (h *Handlers) HandleImageList(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	page := queryInt(r, "page", 1, 1, 1<<20)
	perPage := queryInt(r, "per_page", h.opts.PerPage, 1, 100)

	images, err := gallery.List(h.opts.ImagesDir, q)
	if err != nil {
		debug.Error(err)
		http.Error(w, "cannot list images", http.StatusInternalServerError)
		return
	}
	p := gallery.Paginate(images, page, perPage, h.opts.PerRow)

	data := imageListData{Page: p, Query: q}
	for n := max(1, p.Number-3); n <= min(p.Pages, p.Number+3); n++ {
		data.Links = append(data.Links, pageLink{Number: n, URL: listURL(q, n, perPage), Current: n == p.Number})
	}
	if p.HasPrev() {
		data.PrevURL = listURL(q, p.Prev(), perPage)
	}
	if p.HasNext() {
		data.NextURL = listURL(q, p.Next(), perPage)
	}
	h.render(w, http.StatusOK, "imagelist.html", data)
}

// ImageServer serves files below dir, refusing dotfiles.
func ImageServer(dir string) http.Handler {
	files := http.FileServer(http.Dir(dir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, part := range strings.Split(r.URL.Path, "/") {
			if strings.HasPrefix(part, ".") {
				http.NotFound(w, r)
				return
			}
		}
		files.ServeHTTP(w, r)
	})
}

// ---------- Live status ----------

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send the current status first so the page is in sync
	w.Write([]byte(": connected\n\n"))
	if snap, err := json.Marshal(h.Triggers.Status()); err == nil {
		w.Write([]byte("event: status\ndata: " + string(snap) + "\n\n"))
	}
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
