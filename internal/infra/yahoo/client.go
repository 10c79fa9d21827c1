package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"breakout_go/internal/domain"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const chartPath = "/v8/finance/chart/{symbol}"

// chartResponse is the subset of the chart API payload we read.
// Prices are nullable: a halted session reports null for every field.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ExchangeTimezone   string  `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open  []*float64 `json:"open"`
					High  []*float64 `json:"high"`
					Low   []*float64 `json:"low"`
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Options configures the client.
type Options struct {
	BaseURL    string
	UserAgent  string
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	Retries    int
	RetryWait  time.Duration
	CacheTTL   time.Duration
}

type cachedBars struct {
	bars    []domain.Bar
	days    int
	fetched time.Time
}

// Client reads daily bars from the chart API. It implements domain.MarketData.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedBars

	now    func() time.Time
	logger *slog.Logger
}

// NewClient creates a rate limited, retrying client.
func NewClient(opts Options) *Client {
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}

	logger := slog.Default().With("module", "yahoo")
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(10 * opts.RetryWait).
		SetHeader("User-Agent", opts.UserAgent).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			code := r.StatusCode()
			return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		})

	return &Client{
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		ttl:     opts.CacheTTL,
		cache:   make(map[string]cachedBars),
		now:     time.Now,
		logger:  logger,
	}
}

// Bars returns the daily bars in [from, to), oldest first.
func (c *Client) Bars(ctx context.Context, symbol string, from, to time.Time) ([]domain.Bar, error) {
	resp, err := c.chart(ctx, symbol, map[string]string{
		"period1":  strconv.FormatInt(from.Unix(), 10),
		"period2":  strconv.FormatInt(to.Unix(), 10),
		"interval": "1d",
		"events":   "history",
	})
	if err != nil {
		return nil, err
	}
	return parseBars(resp)
}

// CloseHistory implements domain.MarketData.
func (c *Client) CloseHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	bars, err := c.recent(ctx, symbol, count, res)
	if err != nil {
		return nil, err
	}
	return domain.Closes(bars), nil
}

// HighHistory implements domain.MarketData.
func (c *Client) HighHistory(ctx context.Context, symbol string, count int, res domain.Resolution) ([]decimal.Decimal, error) {
	bars, err := c.recent(ctx, symbol, count, res)
	if err != nil {
		return nil, err
	}
	return domain.Highs(bars), nil
}

// LastPrice implements domain.MarketData using the regular market price. During
// a session this is the intraday quote, not the previous close.
func (c *Client) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	resp, err := c.chart(ctx, symbol, map[string]string{"range": "1d", "interval": "1d"})
	if err != nil {
		return decimal.Zero, err
	}
	if len(resp.Chart.Result) == 0 {
		return decimal.Zero, domain.NewNetworkError("last_price", errors.New("empty chart result"))
	}
	price := resp.Chart.Result[0].Meta.RegularMarketPrice
	if price <= 0 {
		return decimal.Zero, domain.NewNetworkError("last_price", errors.Errorf("no market price for %s", symbol))
	}
	return decimal.NewFromFloat(price), nil
}

// recent returns up to count completed daily bars. A bar that started less than
// a day ago is still trading and is left out.
func (c *Client) recent(ctx context.Context, symbol string, count int, res domain.Resolution) ([]domain.Bar, error) {
	if res != domain.ResolutionDaily {
		return nil, &domain.ConfigError{Field: "resolution", Err: fmt.Errorf("unsupported %q", res)}
	}

	now := c.now()
	// Calendar days covering count sessions plus weekends and holidays.
	days := count*7/5 + 10

	c.mu.Lock()
	cached, ok := c.cache[symbol]
	c.mu.Unlock()
	if !ok || cached.days < days || now.Sub(cached.fetched) > c.ttl {
		bars, err := c.Bars(ctx, symbol, now.AddDate(0, 0, -days), now)
		if err != nil {
			return nil, err
		}
		cached = cachedBars{bars: bars, days: days, fetched: now}
		c.mu.Lock()
		c.cache[symbol] = cached
		c.mu.Unlock()
	}

	bars := cached.bars
	for len(bars) > 0 && now.Sub(bars[len(bars)-1].Time) < 24*time.Hour {
		bars = bars[:len(bars)-1]
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	return bars, nil
}

func (c *Client) chart(ctx context.Context, symbol string, params map[string]string) (*chartResponse, error) {
	if symbol == "" {
		return nil, domain.NewFatalNetworkError("chart", domain.ErrInvalidSymbol)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewNetworkError("chart", errors.Wrap(err, "rate limit wait"))
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("symbol", symbol).
		SetQueryParams(params).
		Get(chartPath)
	if err != nil {
		return nil, domain.NewNetworkError("chart", errors.Wrapf(err, "get chart %s", symbol))
	}

	var out chartResponse
	if jsonErr := json.Unmarshal(resp.Body(), &out); jsonErr != nil && resp.IsSuccess() {
		return nil, domain.NewFatalNetworkError("chart", errors.Wrap(jsonErr, "decode chart"))
	}

	if resp.IsError() {
		msg := resp.Status()
		if out.Chart.Error != nil {
			msg = out.Chart.Error.Code + ": " + out.Chart.Error.Description
		}
		if resp.StatusCode() == http.StatusNotFound {
			return nil, domain.NewFatalNetworkError("chart", errors.Wrapf(domain.ErrInvalidSymbol, "%s: %s", symbol, msg))
		}
		c.logger.Warn("Chart request failed",
			slog.String("symbol", symbol),
			slog.Int("status", resp.StatusCode()),
			slog.String("error", msg),
		)
		return nil, domain.NewNetworkError("chart", errors.Errorf("http %d: %s", resp.StatusCode(), msg))
	}
	return &out, nil
}

func parseBars(resp *chartResponse) ([]domain.Bar, error) {
	if len(resp.Chart.Result) == 0 {
		return nil, nil
	}
	r := resp.Chart.Result[0]
	if len(r.Indicators.Quote) == 0 {
		return nil, nil
	}
	q := r.Indicators.Quote[0]
	n := len(r.Timestamp)
	if len(q.Open) != n || len(q.High) != n || len(q.Low) != n || len(q.Close) != n {
		return nil, domain.NewFatalNetworkError("chart", errors.Errorf("ragged quote arrays for %s", r.Meta.Symbol))
	}

	bars := make([]domain.Bar, 0, n)
	for i, ts := range r.Timestamp {
		if q.Open[i] == nil || q.High[i] == nil || q.Low[i] == nil || q.Close[i] == nil {
			continue
		}
		bars = append(bars, domain.Bar{
			Time:  time.Unix(ts, 0).UTC(),
			Open:  decimal.NewFromFloat(*q.Open[i]),
			High:  decimal.NewFromFloat(*q.High[i]),
			Low:   decimal.NewFromFloat(*q.Low[i]),
			Close: decimal.NewFromFloat(*q.Close[i]),
		})
	}
	return bars, nil
}
