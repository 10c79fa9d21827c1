package replay

import (
	"context"
	"errors"
	"log/slog"

	"breakout_go/internal/domain"
	"breakout_go/internal/engine"
	"breakout_go/internal/execution"

	"github.com/shopspring/decimal"
)

// Hooks observe a replay. Any of them may be nil.
type Hooks struct {
	OnReport func(bar domain.Bar, report engine.Report, err error)
	OnFill   func(fill execution.Fill)
}

// Result summarizes a replay.
type Result struct {
	Sessions    int
	DataErrors  int
	OrderErrors int
	Entries     int
	Exits       int
	Ratchets    int
	Fills       []execution.Fill // entries and stop fills, in order
	StartEquity decimal.Decimal
	EndEquity   decimal.Decimal
	Final       engine.State
}

// ReturnPct is the equity change in percent.
func (r Result) ReturnPct() decimal.Decimal {
	if r.StartEquity.IsZero() {
		return decimal.Zero
	}
	return r.EndEquity.Sub(r.StartEquity).Div(r.StartEquity).Mul(decimal.NewFromInt(100))
}

// Runner drives the daily cycle over historical bars, one session per bar.
// The cycle fires at the session clock with history up to the previous bar;
// the paper broker then sees the session's bar so resting stops can trigger.
type Runner struct {
	view   *BarView
	broker *execution.PaperBroker
	sched  *engine.Scheduler
	hooks  Hooks
	logger *slog.Logger
}

// NewRunner wires a replay. The scheduler's cycle must read from view and trade on broker.
func NewRunner(view *BarView, broker *execution.PaperBroker, sched *engine.Scheduler, hooks Hooks) *Runner {
	broker.SetClock(view.Now)
	return &Runner{
		view:   view,
		broker: broker,
		sched:  sched,
		hooks:  hooks,
		logger: slog.Default().With("module", "replay"),
	}
}

// Run replays every bar. Cycle errors are counted and the replay goes on,
// the way the live scheduler retries on the next session.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	res := Result{StartEquity: r.broker.Equity()}
	symbol := r.sched.State().Symbol

	for i := 0; i < r.view.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		bar := r.view.Bar(i)
		r.view.Seek(i)

		report, err := r.sched.RunOnce(ctx)
		res.Sessions++
		r.tally(&res, report, err)
		if r.hooks.OnReport != nil {
			r.hooks.OnReport(bar, report, err)
		}

		for _, fill := range r.broker.OnBar(symbol, bar) {
			r.logger.Info("Stop filled",
				slog.Time("session", bar.Time),
				slog.String("price", fill.Price.String()),
				slog.String("quantity", fill.Quantity.String()),
			)
			if r.hooks.OnFill != nil {
				r.hooks.OnFill(fill)
			}
		}
	}

	res.Fills = r.broker.Fills()
	res.EndEquity = r.broker.Equity()
	res.Final = r.sched.State()
	r.logger.Info("Replay finished",
		slog.Int("sessions", res.Sessions),
		slog.Int("entries", res.Entries),
		slog.Int("exits", res.Exits),
		slog.String("end_equity", res.EndEquity.String()),
		slog.String("return_pct", res.ReturnPct().StringFixed(2)),
	)
	return res, nil
}

func (r *Runner) tally(res *Result, report engine.Report, err error) {
	if report.Entered {
		res.Entries++
	}
	if report.Exited {
		res.Exits++
	}
	if report.Stop.Ratcheted {
		res.Ratchets++
	}
	if err == nil {
		return
	}

	var de *domain.DataError
	var re *domain.OrderRejectedError
	switch {
	case errors.As(err, &de):
		// Expected while the first volatility window warms up.
		res.DataErrors++
	case errors.As(err, &re):
		res.OrderErrors++
		r.logger.Warn("Order rejected", slog.Any("error", err))
	default:
		r.logger.Error("Cycle failed", slog.Any("error", err))
	}
}
