package scheduler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cjeanneret/PiLapse/internal/logic/animation"
	"github.com/cjeanneret/PiLapse/internal/logic/capture"
	"github.com/cjeanneret/PiLapse/internal/logic/control"
)

// Action is the kind of a scheduled command.
type Action int

const (
	ActionAnimation Action = iota + 1
	ActionStartCapture
	ActionStopCapture
	ActionSnapshot
)

// Command is a parsed schedule command line.
type Command struct {
	Action  Action
	Mode    animation.Mode // ActionAnimation
	Seconds int            // animation duration or capture interval
	Name    string         // series or picture name
}

// ParseCommand parses one of:
//
//	rainbow <secs>
//	colorrotate <secs>
//	timelapse start <series> <secs>
//	timelapse stop
//	snapshot <name>
func ParseCommand(line string) (Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return Command{}, fmt.Errorf("empty command")
	}
	switch strings.ToLower(parts[0]) {
	case "rainbow", "colorrotate":
		mode, _ := animation.ParseMode(parts[0])
		if len(parts) != 2 {
			return Command{}, fmt.Errorf("usage: %s <seconds>", parts[0])
		}
		secs, err := positive(parts[1])
		if err != nil {
			return Command{}, err
		}
		return Command{Action: ActionAnimation, Mode: mode, Seconds: secs}, nil
	case "timelapse":
		if len(parts) == 2 && parts[1] == "stop" {
			return Command{Action: ActionStopCapture}, nil
		}
		if len(parts) != 4 || parts[1] != "start" {
			return Command{}, fmt.Errorf("usage: timelapse start <series> <seconds> | timelapse stop")
		}
		if !capture.ValidName(parts[2]) {
			return Command{}, fmt.Errorf("invalid series name %q", parts[2])
		}
		secs, err := positive(parts[3])
		if err != nil {
			return Command{}, err
		}
		return Command{Action: ActionStartCapture, Name: parts[2], Seconds: secs}, nil
	case "snapshot":
		if len(parts) != 2 {
			return Command{}, fmt.Errorf("usage: snapshot <name>")
		}
		if !capture.ValidName(parts[1]) {
			return Command{}, fmt.Errorf("invalid picture name %q", parts[1])
		}
		return Command{Action: ActionSnapshot, Name: parts[1]}, nil
	}
	return Command{}, fmt.Errorf("unknown command %q", parts[0])
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > control.MaxSeconds {
		return 0, fmt.Errorf("seconds must be an integer in 1..%d, got %q", control.MaxSeconds, s)
	}
	return n, nil
}
