package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/infra"
)

// StateStore persists the carried state between cycles and restarts.
type StateStore interface {
	LoadState(symbol string) (State, bool, error)
	SaveState(st State) error
}

// Scheduler is the driver loop: it fires the cycle once per session and is the
// only writer of the state. Cycles never overlap.
type Scheduler struct {
	cycle    *Cycle
	calendar *Calendar
	store    StateStore
	metrics  *infra.Metrics

	// Boundary: used to notify the telemetry layer of state changes
	onState  func(State)
	onReport func(Report, error)

	state State
	mu    sync.RWMutex // Used only for external reads

	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
	dumpPath string
	logger   *slog.Logger
}

// NewScheduler creates a scheduler starting from initial. calendar may be nil when
// only RunOnce is used.
func NewScheduler(cycle *Cycle, calendar *Calendar, store StateStore, initial State, onState func(State)) *Scheduler {
	return &Scheduler{
		cycle:    cycle,
		calendar: calendar,
		store:    store,
		metrics:  infra.GlobalMetrics,
		onState:  onState,
		state:    initial,
		now:      time.Now,
		after:    time.After,
		dumpPath: "panic_dump.json",
		logger:   slog.Default().With("module", "scheduler"),
	}
}

// WithMetrics replaces the global metrics sink.
func (s *Scheduler) WithMetrics(m *infra.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// WithReportHook registers fn to receive every cycle report.
func (s *Scheduler) WithReportHook(fn func(Report, error)) *Scheduler {
	s.onReport = fn
	return s
}

// Restore loads persisted state, keeping the initial state when none is stored.
func (s *Scheduler) Restore() error {
	if s.store == nil {
		return nil
	}
	st, ok, err := s.store.LoadState(s.cycle.Symbol())
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Info("State restored",
		slog.Int("lookback", st.Lookback),
		slog.Bool("invested", st.Position.Invested),
		slog.Uint64("cycles", st.Cycles),
	)
	return nil
}

// Run waits for each session's fire time and runs one cycle. It returns when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.calendar == nil {
		return &domain.ConfigError{Field: "schedule", Err: errors.New("no calendar")}
	}
	s.logger.Info("Scheduler started")

	for {
		next := s.calendar.Next(s.now())
		if next.IsZero() {
			return &domain.ConfigError{Field: "schedule", Err: errors.New("no upcoming session")}
		}
		s.logger.Info("Next cycle scheduled", slog.Time("at", next))

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping...")
			return nil
		case <-s.after(time.Until(next)):
		}

		if _, err := s.RunOnce(ctx); err != nil {
			// Retried on the next session.
			s.logger.Error("Cycle failed", slog.Any("error", err), slog.Bool("retriable", domain.IsRetriable(err)))
		}
	}
}

// RunOnce runs a single cycle against the current state and persists the result.
func (s *Scheduler) RunOnce(ctx context.Context) (report Report, err error) {
	s.mu.RLock()
	prev := s.state
	s.mu.RUnlock()

	start := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			err = fmt.Errorf("cycle panic: %v", r)
			s.metrics.RecordError()
		}
	}()

	next, report, err := s.cycle.Run(ctx, prev)

	s.mu.Lock()
	s.state = next
	s.mu.Unlock()

	if s.store != nil {
		if saveErr := s.store.SaveState(next); saveErr != nil {
			s.logger.Error("Failed to persist state", slog.Any("error", saveErr))
			if err == nil {
				err = fmt.Errorf("persist state: %w", saveErr)
			}
		}
	}

	s.record(report, next, err, s.now().Sub(start))

	if s.onReport != nil {
		s.onReport(report, err)
	}
	if s.onState != nil {
		s.onState(next)
	}
	return report, err
}

func (s *Scheduler) record(report Report, st State, err error, latency time.Duration) {
	m := s.metrics
	m.RecordCycle(latency)
	m.SetLookback(st.Lookback)
	m.SetInvested(st.Position.Invested)
	m.SetStopPrice(st.Stop.StopPrice.InexactFloat64())

	if report.Entered {
		m.RecordEntry()
	}
	if report.Exited {
		m.RecordExit()
	}
	if report.Stop.Placed {
		m.RecordStopPlaced()
	}
	if report.Stop.Ratcheted {
		m.RecordRatchet()
	}

	if err == nil {
		return
	}
	m.RecordError()
	var de *domain.DataError
	var re *domain.OrderRejectedError
	switch {
	case errors.As(err, &de):
		m.RecordDataError()
	case errors.As(err, &re):
		m.RecordOrderRejected()
	}
}

// State returns a snapshot of the current state (external read).
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// DumpState writes the current state to a file (for post-mortem).
func (s *Scheduler) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		DumpedAt time.Time `json:"dumped_at"`
		State    State     `json:"state"`
	}{
		DumpedAt: s.now(),
		State:    s.State(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
