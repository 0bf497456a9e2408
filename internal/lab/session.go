package lab

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/skyline-api/internal/batch"
	"github.com/ksred/skyline-api/internal/events"
	"github.com/ksred/skyline-api/internal/market"
	"github.com/ksred/skyline-api/internal/metrics"
	"github.com/ksred/skyline-api/internal/trading"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrSessionClosed is returned by every operation on a closed session
var ErrSessionClosed = errors.New("lab session closed")

const publishTimeout = 5 * time.Second

// ReportStore persists completed EOD runs
type ReportStore interface {
	SaveReport(report *Report) error
}

// Options configures a lab session
type Options struct {
	// TickInterval is the market ticker period; a negative value disables the ticker
	TickInterval time.Duration
	StageDelay   time.Duration
	MaxMove      float64
	MaxNotional  decimal.Decimal
	Scheduler    batch.Scheduler
	Publisher    events.Publisher
	Reports      ReportStore
	// Seed fixes the session's random source; zero seeds from the clock
	Seed int64
}

// Session owns one simulation State. All mutations are serialised by its mutex,
// which keeps bookings in call order and batch stages strictly sequential.
type Session struct {
	id        string
	owner     string
	createdAt time.Time

	opts      Options
	processor *batch.Processor
	cancel    context.CancelFunc
	done      chan struct{}

	mu       sync.Mutex
	state    State
	rng      *rand.Rand
	lastUsed time.Time
	closed   bool
}

// NewSession opens a session for owner and starts its market ticker
func NewSession(owner string, opts Options) *Session {
	s := newSession(owner, opts)
	s.announce()
	return s
}

// newSession builds and starts a session without publishing session.opened,
// so callers holding a lock can announce it after releasing
func newSession(owner string, opts Options) *Session {
	if opts.Scheduler == nil {
		opts.Scheduler = batch.RealScheduler{}
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.MaxMove <= 0 {
		opts.MaxMove = market.DefaultMaxMove
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	now := opts.Scheduler.Now()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        uuid.New().String(),
		owner:     owner,
		createdAt: now,
		opts:      opts,
		processor: batch.NewProcessor(opts.Scheduler, opts.StageDelay),
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     NewState(),
		rng:       rand.New(rand.NewSource(seed)),
		lastUsed:  now,
	}

	if opts.TickInterval >= 0 {
		ticker := market.NewTicker(opts.TickInterval, s.tick)
		go func() {
			defer close(s.done)
			ticker.Start(ctx)
		}()
	} else {
		close(s.done)
	}

	metrics.LabSessionsActive.Inc()
	return s
}

func (s *Session) announce() {
	s.publish(events.New(events.TypeSessionOpened, s.id, s.owner, nil, s.createdAt))
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Owner() string { return s.owner }

// LastUsed returns the time of the most recent client operation
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// touch marks client activity. Callers hold s.mu.
func (s *Session) touch() {
	s.lastUsed = s.opts.Scheduler.Now()
}

func (s *Session) env() Env {
	return Env{
		Now:         s.opts.Scheduler.Now(),
		Rng:         s.rng,
		MaxNotional: s.opts.MaxNotional,
	}
}

// publish hands events to the publisher. It must be called without s.mu held.
func (s *Session) publish(evs ...events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	for _, e := range evs {
		if err := s.opts.Publisher.Publish(ctx, e); err != nil {
			log.Warn().
				Err(err).
				Str("service", "lab").
				Str("session_id", s.id).
				Str("event_type", e.Type).
				Msg("failed to publish lab event")
		}
	}
}

// Book books a trade and returns it
func (s *Session) Book(req trading.BookingRequest) (trading.Trade, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return trading.Trade{}, ErrSessionClosed
	}
	s.touch()

	env := s.env()
	next, t, err := BookTrade(s.state, req, env)
	if err != nil {
		s.mu.Unlock()
		return trading.Trade{}, err
	}
	s.state = next
	s.mu.Unlock()

	metrics.TradesBooked.WithLabelValues(string(t.ProductType)).Inc()
	log.Info().
		Str("service", "lab").
		Str("session_id", s.id).
		Str("trade_id", t.ID).
		Str("product_type", string(t.ProductType)).
		Str("asset", t.Asset).
		Str("notional", t.Notional.String()).
		Str("trade_rate", t.TradeRate.String()).
		Msg("trade booked")
	s.publish(events.New(events.TypeTradeBooked, s.id, s.owner, t, env.Now))
	return t, nil
}

// Trades returns the book, most recent first
func (s *Session) Trades() ([]trading.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.touch()
	out := make([]trading.Trade, len(s.state.Trades))
	copy(out, s.state.Trades)
	return out, nil
}

// Quotes returns a snapshot of the quote set
func (s *Session) Quotes() (market.QuoteSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.touch()
	return s.state.Quotes.Clone(), nil
}

// SetQuote overrides one quote and revalues the book against it. Only symbols
// some product is valued against can be set.
func (s *Session) SetQuote(symbol string, rate decimal.Decimal) error {
	if !trading.KnownSymbol(symbol) {
		return &trading.ValidationError{Field: "symbol", Message: symbol + " is not quoted by any product"}
	}
	if err := trading.CheckAmount("rate", rate, trading.MaxRate); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.touch()
	now := s.opts.Scheduler.Now()
	next := SetQuote(s.state, symbol, rate)
	if revalued, err := Revalue(next); err == nil {
		next = revalued
	}
	s.state = next
	s.mu.Unlock()

	s.publish(events.New(events.TypeQuoteSet, s.id, s.owner, market.Quote{Symbol: symbol, Rate: rate}, now))
	return nil
}

// RemoveQuote deletes a quote. Trades on that underlying can no longer be revalued.
func (s *Session) RemoveQuote(symbol string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.touch()
	now := s.opts.Scheduler.Now()
	next, err := RemoveQuote(s.state, symbol)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.state = next
	s.mu.Unlock()

	s.publish(events.New(events.TypeQuoteRemoved, s.id, s.owner, map[string]string{"symbol": symbol}, now))
	return nil
}

// RefreshQuotes restores the seed quotes and revalues the book
func (s *Session) RefreshQuotes() (market.QuoteSet, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.touch()
	now := s.opts.Scheduler.Now()
	next := RefreshQuotes(s.state)
	if revalued, err := Revalue(next); err == nil {
		next = revalued
	}
	s.state = next
	quotes := next.Quotes.Clone()
	s.mu.Unlock()

	s.publish(events.New(events.TypeQuotesRefreshed, s.id, s.owner, quotes.List(), now))
	return quotes, nil
}

// tick is the ticker callback: move quotes and keep the book marked to them
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	next := ApplyTick(s.state, s.rng, s.opts.MaxMove)
	// a trade whose quote was removed keeps its last mark
	if revalued, err := Revalue(next); err == nil {
		next = revalued
	}
	s.state = next
}

// Tick applies one market tick immediately
func (s *Session) Tick() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	s.tick()
	return nil
}

// StartBatch starts an EOD run. Stages then advance on the session scheduler.
func (s *Session) StartBatch() (batch.Run, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return batch.Run{}, ErrSessionClosed
	}
	s.touch()

	env := s.env()
	env.RunID = "EOD_" + uuid.New().String()
	next, err := StartBatch(s.state, env)
	if err != nil {
		s.mu.Unlock()
		return s.state.Batch, err
	}
	s.state = next
	run := next.Batch
	if err := s.processor.Run(s.stepBatch); err != nil {
		s.mu.Unlock()
		return run, err
	}
	s.mu.Unlock()

	log.Info().
		Str("service", "lab").
		Str("session_id", s.id).
		Str("run_id", run.ID).
		Int("trade_count", len(next.Trades)).
		Msg("eod batch started")
	s.publish(events.New(events.TypeBatchStarted, s.id, s.owner, run, env.Now))
	return run, nil
}

// stepBatch runs when a stage delay elapses and reports whether more stages remain
func (s *Session) stepBatch() bool {
	s.mu.Lock()
	if s.closed || !s.state.Batch.Running() {
		s.mu.Unlock()
		return false
	}

	env := s.env()
	next, err := AdvanceBatch(s.state, env)
	s.state = next
	run := next.Batch
	var trades []trading.Trade
	if run.Stage == batch.StageComplete {
		trades = make([]trading.Trade, len(next.Trades))
		copy(trades, next.Trades)
	}
	s.mu.Unlock()

	logger := log.With().
		Str("service", "lab").
		Str("session_id", s.id).
		Str("run_id", run.ID).
		Str("stage", string(run.Stage)).
		Logger()

	if err != nil {
		logger.Error().Err(err).Msg("eod batch halted")
		metrics.BatchRuns.WithLabelValues("halted").Inc()
		s.publish(events.New(events.TypeBatchHalted, s.id, s.owner, run, env.Now))
		return false
	}

	logger.Info().Int("progress", run.Progress).Msg("eod batch stage complete")
	if run.Stage != batch.StageComplete {
		s.publish(events.New(events.TypeBatchStage, s.id, s.owner, run, env.Now))
		return true
	}

	metrics.BatchRuns.WithLabelValues("completed").Inc()
	s.saveReport(run, trades)
	s.publish(events.New(events.TypeBatchCompleted, s.id, s.owner, run, env.Now))
	return false
}

func (s *Session) saveReport(run batch.Run, trades []trading.Trade) {
	if s.opts.Reports == nil {
		return
	}
	if err := s.opts.Reports.SaveReport(newReport(s.id, s.owner, run, trades)); err != nil {
		log.Error().
			Err(err).
			Str("service", "lab").
			Str("session_id", s.id).
			Str("run_id", run.ID).
			Msg("failed to save eod report")
	}
}

// Batch returns the current or most recent run
func (s *Session) Batch() (batch.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return batch.Run{}, ErrSessionClosed
	}
	s.touch()
	return s.state.Batch, nil
}

// Summary aggregates P&L and DV01 over the book
func (s *Session) Summary() (trading.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return trading.Summary{}, ErrSessionClosed
	}
	s.touch()
	return trading.Summarize(s.state.Trades), nil
}

// Snapshot returns a copy of the whole session state
func (s *Session) Snapshot() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return State{}, ErrSessionClosed
	}
	trades := make([]trading.Trade, len(s.state.Trades))
	copy(trades, s.state.Trades)
	return State{Trades: trades, Quotes: s.state.Quotes.Clone(), Batch: s.state.Batch}, nil
}

// Close stops the ticker and any pending batch stage. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	now := s.opts.Scheduler.Now()
	s.mu.Unlock()

	s.processor.Stop()
	s.cancel()
	<-s.done

	metrics.LabSessionsActive.Dec()
	log.Info().Str("service", "lab").Str("session_id", s.id).Msg("lab session closed")
	s.publish(events.New(events.TypeSessionClosed, s.id, s.owner, nil, now))
}
