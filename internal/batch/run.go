package batch

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrRunHalted is returned when advancing a run that stopped on a stage failure
var ErrRunHalted = errors.New("batch run halted")

// Entry is one human-readable line of a run's log
type Entry struct {
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (e Entry) String() string {
	return fmt.Sprintf("[%s] %s", e.Stage, e.Message)
}

// Run is the state of the current or most recent pipeline run.
// All methods return a new value and never modify the receiver's log in place.
type Run struct {
	ID         string     `json:"id,omitempty"`
	Stage      Stage      `json:"stage"`
	Progress   int        `json:"progress"`
	Log        []Entry    `json:"log"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Idle returns the state of a session that has never run a batch
func Idle() Run {
	return Run{Stage: StageIdle, Progress: StageIdle.Progress(), Log: []Entry{}}
}

// Running reports whether the run still has stages to execute
func (r Run) Running() bool {
	return r.Stage.Running() && r.Error == ""
}

// Halted reports whether the run stopped on a stage failure
func (r Run) Halted() bool {
	return r.Error != ""
}

// Start begins a new run with id over tradeCount trades.
// An empty book or an in-flight run leaves r as it was and returns an error.
// A halted run may be restarted.
func (r Run) Start(id string, tradeCount int, now time.Time) (Run, error) {
	if tradeCount == 0 {
		return r, ErrNoTrades
	}
	if r.Running() {
		return r, ErrBatchRunning
	}

	from := r.Stage
	if r.Halted() {
		from = StageIdle
	}
	stage, err := Next(from, EventStart)
	if err != nil {
		return r, err
	}

	return Run{
		ID:        id,
		Stage:     stage,
		Progress:  stage.Progress(),
		Log:       []Entry{{Stage: stage, Message: fmt.Sprintf("starting cycle for %d trades", tradeCount), At: now}},
		StartedAt: &now,
	}, nil
}

// Advance moves the run to its next stage and appends message to the log
func (r Run) Advance(message string, now time.Time) (Run, error) {
	if r.Halted() {
		return r, ErrRunHalted
	}
	stage, err := Next(r.Stage, EventElapsed)
	if err != nil {
		return r, err
	}

	r.Stage = stage
	r.Progress = stage.Progress()
	r.Log = append(slices.Clip(r.Log), Entry{Stage: stage, Message: message, At: now})
	if stage == StageComplete {
		r.FinishedAt = &now
	}
	return r, nil
}

// Halt records a stage failure. The stage and progress stay where they are.
func (r Run) Halt(cause error, now time.Time) Run {
	r.Error = cause.Error()
	r.Log = append(slices.Clip(r.Log), Entry{Stage: r.Stage, Message: "halted: " + cause.Error(), At: now})
	r.FinishedAt = &now
	return r
}

// Lines renders the log as "[STAGE] message" strings
func (r Run) Lines() []string {
	lines := make([]string, len(r.Log))
	for i, e := range r.Log {
		lines[i] = e.String()
	}
	return lines
}
