package batch

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultStageDelay is the simulated duration of each pipeline stage
const DefaultStageDelay = 1500 * time.Millisecond

// ErrProcessorStopped is returned when scheduling on a stopped processor
var ErrProcessorStopped = errors.New("batch processor stopped")

// Processor sequences the stages of a run on a Scheduler. Each step runs only
// after the previous one has returned, so stages never overlap.
type Processor struct {
	scheduler Scheduler
	delay     time.Duration

	mu      sync.Mutex
	timer   Timer
	gen     int
	stopped bool
}

// NewProcessor creates a processor waiting delay between stages
func NewProcessor(scheduler Scheduler, delay time.Duration) *Processor {
	if scheduler == nil {
		scheduler = RealScheduler{}
	}
	if delay <= 0 {
		delay = DefaultStageDelay
	}
	return &Processor{
		scheduler: scheduler,
		delay:     delay,
	}
}

// Run schedules step after each stage delay for as long as step returns true.
// Any previously scheduled sequence is cancelled first.
func (p *Processor) Run(step func() bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrProcessorStopped
	}
	p.cancelLocked()
	p.gen++
	p.armLocked(p.gen, step)
	return nil
}

func (p *Processor) armLocked(gen int, step func() bool) {
	p.timer = p.scheduler.AfterFunc(p.delay, func() {
		p.mu.Lock()
		if p.stopped || gen != p.gen {
			p.mu.Unlock()
			return
		}
		p.timer = nil
		p.mu.Unlock()

		if !step() {
			return
		}

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.stopped || gen != p.gen {
			return
		}
		p.armLocked(gen, step)
	})
}

// Cancel drops any pending stage without stopping the processor
func (p *Processor) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelLocked()
}

func (p *Processor) cancelLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	// a callback already past its timer sees a newer generation and exits
	p.gen++
}

// Stop cancels pending work and rejects further runs
func (p *Processor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	p.cancelLocked()
	p.stopped = true
	log.Debug().Str("component", "batch_processor").Msg("batch processor stopped")
}

// Pending reports whether a stage is waiting to fire
func (p *Processor) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timer != nil
}

// Now returns the processor's scheduler time
func (p *Processor) Now() time.Time {
	return p.scheduler.Now()
}
