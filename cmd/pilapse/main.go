package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/cjeanneret/PiLapse/internal/config"
	"github.com/cjeanneret/PiLapse/internal/debug"
	"github.com/cjeanneret/PiLapse/internal/events"
	"github.com/cjeanneret/PiLapse/internal/hw/camera"
	"github.com/cjeanneret/PiLapse/internal/hw/gpio"
	"github.com/cjeanneret/PiLapse/internal/hw/led"
	"github.com/cjeanneret/PiLapse/internal/logic/animation"
	"github.com/cjeanneret/PiLapse/internal/logic/capture"
	"github.com/cjeanneret/PiLapse/internal/logic/control"
	"github.com/cjeanneret/PiLapse/internal/metrics"
	"github.com/cjeanneret/PiLapse/internal/scheduler"
	"github.com/cjeanneret/PiLapse/internal/state"
	"github.com/cjeanneret/PiLapse/internal/web"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cliOverrides are the command line values that replace config defaults.
// Zero values mean "use config default".
type cliOverrides struct {
	Port            int
	RainbowSeconds  int
	IntervalSeconds int
	SeriesName      string
}

// app holds the flags shared by every command and the loaded config.
type app struct {
	cfgPath         string
	web             webPortFlag
	rainbowSeconds  int
	intervalSeconds int
	series          string

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "pilapse",
		Short:         "Blinkt light shows and camera time-lapses from a web page",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.Flags().Changed("config"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	a.addFlags(root.PersistentFlags())
	root.AddCommand(a.snapshotCmd(), a.showCmd())
	return root
}

func (a *app) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&a.cfgPath, "config", filepath.Join("configs", "default.yaml"), "path to config file")
	flags.Var(&a.web, "web", "web server port (1-65535), overrides web.port")
	flags.IntVar(&a.rainbowSeconds, "rainbow-seconds", 0, "override the light show duration in seconds")
	flags.IntVar(&a.intervalSeconds, "interval-seconds", 0, "override the time-lapse interval in seconds")
	flags.StringVar(&a.series, "series", "", "override the time-lapse series name")
}

// load reads the config file and applies the CLI overrides. Without an
// explicit --config a missing default file falls back to built-in defaults.
func (a *app) load(explicit bool) error {
	if err := config.ValidateConfigPath(a.cfgPath); err != nil {
		return err
	}
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load config failed: %w", err)
		}
		log.Printf("config %s not found, using built-in defaults", a.cfgPath)
		cfg = config.Default()
	}

	overrides := cliOverrides{
		Port:            a.web.port(),
		RainbowSeconds:  a.rainbowSeconds,
		IntervalSeconds: a.intervalSeconds,
		SeriesName:      a.series,
	}
	if err := validateCLIOverrides(overrides); err != nil {
		return fmt.Errorf("invalid CLI override: %w", err)
	}
	applyOverrides(cfg, overrides)
	a.cfg = cfg

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", a.cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)
	return nil
}

// serve runs the web controller until ctx is cancelled.
func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	debug.Step(1, "Initializing LED strip")
	debug.PrintStruct("LED config", cfg.LED)
	strip, closeStrip, err := newStripFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init LED strip failed: %w", err)
	}
	defer func() {
		if err := closeStrip(); err != nil {
			log.Printf("closing GPIO driver failed: %v", err)
		}
	}()
	clearStrip(strip)
	defer clearStrip(strip)

	debug.Step(2, "Initializing camera")
	debug.PrintStruct("Camera config", cfg.Camera)
	cam, err := newCameraFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init camera failed: %w", err)
	}
	if err := os.MkdirAll(cfg.Storage.ImagesDir, 0o755); err != nil {
		return fmt.Errorf("create images directory: %w", err)
	}
	debug.Value("Images directory", cfg.Storage.ImagesDir)

	debug.Step(3, "Wiring events, metrics and live status")
	bus := events.New()
	m := metrics.New()
	defer m.Attach(bus)()
	broadcaster := web.NewStatusBroadcaster()
	debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
	defer debug.SetOutput(os.Stdout)
	defer broadcaster.Relay(bus)()

	debug.Step(4, "Creating animation engine and capture controller")
	engine := animation.NewEngine(strip, bus, cfg.TickInterval())
	ctrl := capture.NewController(cam, resolution(cfg), cfg.Storage.ImagesDir, bus)
	st := state.New(state.Params{
		RainbowSeconds:  cfg.Defaults.RainbowSeconds,
		IntervalSeconds: cfg.Defaults.IntervalSeconds,
		SeriesName:      cfg.Defaults.SeriesName,
	})
	core := control.New(ctx, engine, ctrl, st)
	defer core.Wait()
	defer ctrl.Stop()

	debug.Step(5, "Loading schedules")
	sched := scheduler.New(core)
	for i, s := range cfg.Schedules {
		if _, err := sched.Add(s.Spec, s.Command); err != nil {
			return fmt.Errorf("schedules[%d]: %w", i, err)
		}
		debug.Info("Scheduled %q at %q", s.Command, s.Spec)
	}
	sched.Start()
	defer sched.Stop()

	handlers := web.NewDefaultHandlers(web.Deps{
		Triggers:    core,
		Broadcaster: broadcaster,
		Schedules:   sched,
	}, web.Options{
		ImagesDir:      cfg.Storage.ImagesDir,
		PerPage:        cfg.Storage.PerPage,
		PerRow:         cfg.Storage.PerRow,
		AllowedOrigins: cfg.Web.AllowedOrigins,
		RateLimit:      cfg.Web.RateLimit,
		RateBurst:      cfg.Web.RateBurst,
		TrustProxy:     cfg.Web.TrustProxy,
	})

	debug.Section("Serving")
	addr := fmt.Sprintf(":%d", cfg.Web.Port)
	srv := web.NewServer(addr, handlers, m.Handler())
	debug.Summary("PiLapse ready on " + addr)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (a *app) snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <name>",
		Short: "Take a single picture into the images directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !capture.ValidName(args[0]) {
				return fmt.Errorf("invalid picture name %q", args[0])
			}
			cam, err := newCameraFromConfig(a.cfg)
			if err != nil {
				return fmt.Errorf("init camera failed: %w", err)
			}
			ctrl := capture.NewController(cam, resolution(a.cfg), a.cfg.Storage.ImagesDir, nil)
			path, err := ctrl.CaptureOnce(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func (a *app) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <rainbow|colorrotate> [seconds]",
		Short: "Play a light show on the strip and exit",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := animation.ParseMode(args[0])
			if err != nil {
				return err
			}
			seconds := a.cfg.Defaults.RainbowSeconds
			if len(args) == 2 {
				if seconds, err = strconv.Atoi(args[1]); err != nil || seconds <= 0 || seconds > control.MaxSeconds {
					return fmt.Errorf("seconds must be in 1..%d, got %q", control.MaxSeconds, args[1])
				}
			}

			strip, closeStrip, err := newStripFromConfig(a.cfg)
			if err != nil {
				return fmt.Errorf("init LED strip failed: %w", err)
			}
			defer closeStrip()

			engine := animation.NewEngine(strip, nil, a.cfg.TickInterval())
			err = engine.Run(cmd.Context(), animation.Request{
				Mode:          mode,
				Duration:      time.Duration(seconds) * time.Second,
				ClearOnFinish: true,
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}

// validateCLIOverrides checks that set CLI overrides are within valid ranges.
func validateCLIOverrides(o cliOverrides) error {
	if o.Port < 0 || o.Port > 65535 {
		return fmt.Errorf("web port must be 1-65535, got %d", o.Port)
	}
	if o.RainbowSeconds < 0 || o.RainbowSeconds > control.MaxSeconds {
		return fmt.Errorf("rainbow-seconds must be between 1 and %d, got %d", control.MaxSeconds, o.RainbowSeconds)
	}
	if o.IntervalSeconds < 0 || o.IntervalSeconds > control.MaxSeconds {
		return fmt.Errorf("interval-seconds must be between 1 and %d, got %d", control.MaxSeconds, o.IntervalSeconds)
	}
	if o.SeriesName != "" && !capture.ValidName(o.SeriesName) {
		return fmt.Errorf("series %q must be a plain name (letters, digits, '.', '_', '-')", o.SeriesName)
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o cliOverrides) {
	if o.Port > 0 {
		cfg.Web.Port = o.Port
	}
	if o.RainbowSeconds > 0 {
		cfg.Defaults.RainbowSeconds = o.RainbowSeconds
	}
	if o.IntervalSeconds > 0 {
		cfg.Defaults.IntervalSeconds = o.IntervalSeconds
	}
	if o.SeriesName != "" {
		cfg.Defaults.SeriesName = o.SeriesName
	}
}

// webPortFlag implements pflag.Value for --web: unset or --web= keeps the
// configured port, --web 8980 overrides it.
type webPortFlag struct {
	val int
}

var _ pflag.Value = (*webPortFlag)(nil)

func (w *webPortFlag) String() string {
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = 0
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) Type() string { return "port" }

func (w *webPortFlag) port() int { return w.val }

func resolution(cfg *config.Config) camera.Resolution {
	return camera.Resolution{Width: cfg.Camera.WidthPx, Height: cfg.Camera.HeightPx}
}

// newStripFromConfig selects an LED strip implementation based on
// configuration. The returned func releases the GPIO driver.
func newStripFromConfig(cfg *config.Config) (led.Strip, func() error, error) {
	switch cfg.LED.Type {
	case "mock":
		return led.NewMock(cfg.LED.NumPixels), func() error { return nil }, nil
	case "blinkt":
		debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
		g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return nil, nil, fmt.Errorf("init GPIO: %w", err)
		}
		b, err := led.NewBlinkt(g, cfg.LED.DataPin, cfg.LED.ClockPin, cfg.LED.NumPixels)
		if err != nil {
			g.Close()
			return nil, nil, err
		}
		return b, g.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported led type: %s", cfg.LED.Type)
	}
}

// newCameraFromConfig selects a camera implementation based on configuration.
func newCameraFromConfig(cfg *config.Config) (camera.Driver, error) {
	switch cfg.Camera.Type {
	case "libcamera":
		return camera.NewStill(camera.Libcamera, cfg.Camera.Command, cfg.Warmup(), cfg.CaptureTimeout()), nil
	case "raspistill":
		return camera.NewStill(camera.Raspistill, cfg.Camera.Command, cfg.Warmup(), cfg.CaptureTimeout()), nil
	case "mock":
		return camera.NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported camera type: %s", cfg.Camera.Type)
	}
}

func clearStrip(s led.Strip) {
	s.Clear()
	if err := s.Show(); err != nil {
		debug.Error(fmt.Errorf("clear LED strip: %w", err))
	}
}
