package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"breakout_go/internal/domain"
	"breakout_go/internal/engine"
	"breakout_go/internal/execution"
	"breakout_go/internal/infra"
	"breakout_go/internal/infra/storage"
	"breakout_go/internal/infra/telemetry"
	"breakout_go/internal/infra/yahoo"
	"breakout_go/internal/replay"
	"breakout_go/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string
	Config     *infra.Config
	Logger     *slog.Logger
	Storage    *storage.Storage
	Metrics    *infra.Metrics
	Registry   *prometheus.Registry
	States     *service.StateService
	Hub        *telemetry.Hub
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize performs core system initialization (config, logger, DB, metrics)
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	b.Logger = infra.NewLogger(cfg)
	slog.SetDefault(b.Logger)
	slog.Info("Bootstrapping breakout engine...", slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Metrics and observers
	b.Metrics = infra.GlobalMetrics
	b.Registry = prometheus.NewRegistry()
	if err := b.Metrics.Register(b.Registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	b.States = service.NewStateService()
	b.Hub = telemetry.NewHub()

	return nil
}

// Close releases resources.
func (b *Bootstrap) Close() {
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close database", slog.Any("error", err))
		}
	}
}

func (b *Bootstrap) newClient() *yahoo.Client {
	cfg := b.Config
	return yahoo.NewClient(yahoo.Options{
		BaseURL:    cfg.Data.BaseURL,
		UserAgent:  infra.DefaultUserAgent,
		RatePerSec: cfg.Data.RatePerSec,
		Burst:      cfg.Data.Burst,
		Timeout:    cfg.DataTimeout(),
		Retries:    cfg.Data.Retries,
	})
}

// sink fans plot points out to the log, websocket clients, the snapshot service and optionally the DB.
func (b *Bootstrap) sink(symbol string, persist bool, now func() time.Time) domain.SeriesSink {
	sinks := telemetry.MultiSink{
		telemetry.LogSink{Logger: b.Logger.With("module", "plot")},
		telemetry.HubSink{Hub: b.Hub},
		b.States.SeriesSink(symbol),
	}
	if persist {
		sinks = append(sinks, telemetry.StoreSink{Store: b.Storage, Now: now, Logger: b.Logger})
	}
	return sinks
}

// startTelemetry serves /ws, /metrics and /state until ctx is done.
func (b *Bootstrap) startTelemetry(ctx context.Context) {
	go b.Hub.Run(ctx)
	b.States.StartForwarder(ctx, func(snap service.Snapshot) {
		b.Hub.Publish("state", snap)
	})

	if !b.Config.Telemetry.Enabled {
		return
	}
	srv := telemetry.NewServer(b.Config.Telemetry.Addr, b.Hub, b.States, b.Metrics, b.Registry)
	go func() {
		if err := srv.Run(ctx); err != nil {
			slog.Error("Telemetry server failed", slog.Any("error", err))
		}
	}()
}

// journal records the order activity of one cycle.
func (b *Bootstrap) journal(symbol string, report engine.Report, at time.Time) {
	write := func(event string, t domain.OrderTicket, price decimal.Decimal) {
		if t.Symbol == "" {
			t.Symbol = symbol
		}
		if err := b.Storage.AppendOrder(event, t, price, at); err != nil {
			slog.Warn("Failed to journal order", slog.String("event", event), slog.Any("error", err))
		}
	}
	if report.Entered {
		write(storage.EventEntry, report.Entry, report.Close)
	}
	if report.Stop.Placed {
		write(storage.EventStopPlaced, report.Stop.Stop.Ticket, report.Stop.Stop.StopPrice)
	}
	if report.Stop.Ratcheted {
		write(storage.EventStopUpdated, report.Stop.Stop.Ticket, report.Stop.Stop.StopPrice)
	}
}

func (b *Bootstrap) journalFill(fill execution.Fill) {
	t := domain.OrderTicket{
		ID:       fill.OrderID,
		Symbol:   fill.Symbol,
		Type:     domain.OrderTypeStopMarket,
		Quantity: fill.Quantity.Neg(),
		Status:   domain.OrderStatusFilled,
	}
	if err := b.Storage.AppendOrder(storage.EventFill, t, fill.Price, fill.Time); err != nil {
		slog.Warn("Failed to journal fill", slog.Any("error", err))
	}
}

// RunLive runs the scheduler against live history and the paper broker until ctx is done.
func (b *Bootstrap) RunLive(ctx context.Context) error {
	cfg := b.Config
	symbol := cfg.App.Symbol
	params := cfg.Params()

	calendar, err := engine.NewCalendar(cfg.Schedule.Timezone, cfg.Schedule.MarketOpen, cfg.Offset(), cfg.Schedule.Holidays)
	if err != nil {
		return err
	}

	client := b.newClient()
	paper := execution.NewPaperBroker(cfg.Broker.StartingCash)
	feed := NewPaperFeed(client, client, paper, b.States, b.journalFill)

	settings := execution.DefaultBreakerSettings("paper-" + symbol)
	settings.ConsecutiveFailures = cfg.Broker.Breaker.ConsecutiveFailures
	settings.Timeout = time.Duration(cfg.Broker.Breaker.TimeoutSec) * time.Second
	broker := execution.NewGuardedBroker(paper, settings)

	cycle, err := engine.NewCycle(params, symbol, feed, broker, b.sink(symbol, true, time.Now), b.Logger)
	if err != nil {
		return err
	}

	sched := engine.NewScheduler(cycle, calendar, b.Storage, engine.NewState(symbol, params), b.States.UpdateState).
		WithMetrics(b.Metrics).
		WithReportHook(func(r engine.Report, err error) { b.journal(symbol, r, r.Session) })
	if err := sched.Restore(); err != nil {
		return err
	}

	st := sched.State()
	if st.Position.Invested {
		var stop *domain.OrderTicket
		if st.Stop.Exists {
			stop = &st.Stop.Ticket
		}
		paper.Seed(symbol, st.Position.Quantity, st.Position.BreakoutLevel, stop)
		feed.SetLastBar(st.LastRun.Add(-24 * time.Hour))
	}
	b.States.UpdateState(st)

	b.startTelemetry(ctx)

	slog.InfoContext(ctx, "Breakout engine running. Press Ctrl+C to exit.",
		slog.String("symbol", symbol),
		slog.Time("next_cycle", calendar.Next(time.Now())),
	)
	return sched.Run(ctx)
}

// ReplayOptions selects the bars of a replay. CSV wins over the date range.
type ReplayOptions struct {
	CSV  string
	From time.Time
	To   time.Time
}

// LoadBars returns replay bars from CSV, the bar cache, or the history client (caching them).
func (b *Bootstrap) LoadBars(ctx context.Context, opts ReplayOptions) ([]domain.Bar, error) {
	symbol := b.Config.App.Symbol
	if opts.CSV != "" {
		return replay.LoadCSVFile(opts.CSV)
	}

	cached, err := b.Storage.LoadBars(symbol, opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	// A range is covered when the cache reaches within a week of both ends.
	if len(cached) > 0 &&
		cached[0].Time.Sub(opts.From) < 7*24*time.Hour &&
		opts.To.Sub(cached[len(cached)-1].Time) < 7*24*time.Hour {
		return cached, nil
	}

	bars, err := b.newClient().Bars(ctx, symbol, opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	if err := b.Storage.SaveBars(symbol, bars); err != nil {
		slog.Warn("Failed to cache bars", slog.Any("error", err))
	}
	return bars, nil
}

// RunReplay runs the strategy over historical bars on a fresh paper account.
// Replays do not touch the persisted live state.
func (b *Bootstrap) RunReplay(ctx context.Context, opts ReplayOptions) (replay.Result, error) {
	cfg := b.Config
	symbol := cfg.App.Symbol
	params := cfg.Params()

	bars, err := b.LoadBars(ctx, opts)
	if err != nil {
		return replay.Result{}, err
	}
	if len(bars) == 0 {
		return replay.Result{}, &domain.DataError{Series: "bars", Want: 1, Got: 0}
	}
	slog.Info("Replay loaded", slog.Int("bars", len(bars)), slog.Time("from", bars[0].Time), slog.Time("to", bars[len(bars)-1].Time))

	view := replay.NewBarView(symbol, bars, cfg.Offset())
	paper := execution.NewPaperBroker(cfg.Broker.StartingCash)

	cycle, err := engine.NewCycle(params, symbol, view, paper, b.sink(symbol, false, view.Now), b.Logger)
	if err != nil {
		return replay.Result{}, err
	}
	cycle.SetClock(view.Now)

	sched := engine.NewScheduler(cycle, nil, nil, engine.NewState(symbol, params), b.States.UpdateState).
		WithMetrics(b.Metrics)

	b.startTelemetry(ctx)
	return replay.NewRunner(view, paper, sched, replay.Hooks{}).Run(ctx)
}

// PrintState writes the persisted state and order journal of the configured symbol as JSON.
func (b *Bootstrap) PrintState(w io.Writer) error {
	symbol := b.Config.App.Symbol
	st, ok, err := b.Storage.LoadState(symbol)
	if err != nil {
		return err
	}
	orders, err := b.Storage.Orders(symbol)
	if err != nil {
		return err
	}

	out := struct {
		Found  bool                  `json:"found"`
		State  engine.State          `json:"state"`
		Orders []storage.OrderRecord `json:"orders"`
	}{Found: ok, State: st, Orders: orders}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
