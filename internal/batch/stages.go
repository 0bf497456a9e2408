package batch

import (
	"errors"
	"fmt"
)

// Stage is a step of the end-of-day pipeline
type Stage string

const (
	StageIdle       Stage = "IDLE"
	StagePricing    Stage = "PRICING"
	StageRisk       Stage = "RISK"
	StageAccounting Stage = "ACCOUNTING"
	StageComplete   Stage = "COMPLETE"
)

// Event drives a stage transition
type Event string

const (
	// EventStart is a user request to begin a run
	EventStart Event = "start"
	// EventElapsed fires when the current stage's delay has passed
	EventElapsed Event = "elapsed"
)

var (
	// ErrNoTrades is returned when a run is requested on an empty book
	ErrNoTrades = errors.New("no trades to process")
	// ErrBatchRunning is returned when a run is requested while one is in flight
	ErrBatchRunning = errors.New("batch already running")
	// ErrInvalidTransition is returned for an event the current stage does not accept
	ErrInvalidTransition = errors.New("invalid batch transition")
)

type transition struct {
	from  Stage
	event Event
}

var transitions = map[transition]Stage{
	{StageIdle, EventStart}:         StagePricing,
	{StageComplete, EventStart}:     StagePricing,
	{StagePricing, EventElapsed}:    StageRisk,
	{StageRisk, EventElapsed}:       StageAccounting,
	{StageAccounting, EventElapsed}: StageComplete,
}

var progress = map[Stage]int{
	StageIdle:       0,
	StagePricing:    10,
	StageRisk:       45,
	StageAccounting: 75,
	StageComplete:   100,
}

// Next returns the stage reached from stage on event
func Next(stage Stage, event Event) (Stage, error) {
	if to, ok := transitions[transition{stage, event}]; ok {
		return to, nil
	}
	if event == EventStart && stage.Running() {
		return stage, ErrBatchRunning
	}
	return stage, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, stage)
}

// Progress returns the completion percentage shown for a stage
func (s Stage) Progress() int {
	return progress[s]
}

// Running reports whether a run is in flight at this stage
func (s Stage) Running() bool {
	return s == StagePricing || s == StageRisk || s == StageAccounting
}
