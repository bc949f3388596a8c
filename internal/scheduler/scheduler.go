package scheduler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/cjeanneret/PiLapse/internal/debug"
	"github.com/cjeanneret/PiLapse/internal/logic/control"
)

// Entry is one registered schedule.
type Entry struct {
	ID      int    `json:"id"`
	Spec    string `json:"spec"`
	Command string `json:"command"`
	Next    string `json:"next,omitempty"`
}

// Scheduler runs commands against the triggers on cron specs.
type Scheduler struct {
	cron     *cron.Cron
	triggers control.Triggers

	mu    sync.RWMutex
	store map[cron.EntryID]Entry
}

// New creates a stopped scheduler.
func New(triggers control.Triggers) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		triggers: triggers,
		store:    make(map[cron.EntryID]Entry),
	}
}

// Start begins the cron ticker.
func (s *Scheduler) Start() {
	s.cron.Start()
	debug.Info("Scheduler started with %d entries", len(s.Entries()))
}

// Stop halts the ticker and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	debug.Info("Scheduler stopped")
}

// Add registers command on spec. Both are validated before anything is
// scheduled.
func (s *Scheduler) Add(spec, command string) (int, error) {
	cmd, err := ParseCommand(command)
	if err != nil {
		return 0, fmt.Errorf("schedule %q: %w", command, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.cron.AddFunc(spec, func() { s.execute(command, cmd) })
	if err != nil {
		return 0, fmt.Errorf("schedule spec %q: %w", spec, err)
	}
	s.store[id] = Entry{ID: int(id), Spec: spec, Command: command}
	debug.Verbose("Added schedule (ID %d): %s -> %s", id, spec, command)
	return int(id), nil
}

// Entries returns the schedules ordered by ID, with their next run time
// once the scheduler is started.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.store))
	for id, e := range s.store {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			e.Next = next.Format("2006-01-02 15:04:05")
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Execute runs a command immediately.
func (s *Scheduler) Execute(command string) error {
	cmd, err := ParseCommand(command)
	if err != nil {
		return err
	}
	return s.run(cmd)
}

func (s *Scheduler) execute(line string, cmd Command) {
	debug.Info("Executing scheduled command: %s", line)
	if err := s.run(cmd); err != nil {
		debug.Error(fmt.Errorf("scheduled %q: %w", line, err))
	}
}

func (s *Scheduler) run(cmd Command) error {
	switch cmd.Action {
	case ActionAnimation:
		return s.triggers.StartAnimation(cmd.Mode, cmd.Seconds)
	case ActionStartCapture:
		return s.triggers.StartCapture(cmd.Name, cmd.Seconds)
	case ActionStopCapture:
		s.triggers.StopCapture()
		return nil
	case ActionSnapshot:
		_, err := s.triggers.CaptureOnce(cmd.Name)
		return err
	}
	return fmt.Errorf("unknown action %d", cmd.Action)
}
