package replay

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"breakout_go/internal/domain"

	"github.com/shopspring/decimal"
)

var requiredColumns = []string{"date", "open", "high", "low", "close"}

// LoadCSVFile reads daily bars from a file. See LoadCSV.
func LoadCSVFile(path string) ([]domain.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadCSV(f)
}

// LoadCSV reads daily bars in the chart download layout
// (Date,Open,High,Low,Close[,Adj Close,Volume]). Rows with "null" prices are
// skipped. Bars are returned oldest first.
func LoadCSV(r io.Reader) ([]domain.Bar, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var bars []domain.Bar
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		bar, ok, err := parseRow(rec, idx)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if ok {
			bars = append(bars, bar)
		}
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}

func parseRow(rec []string, idx map[string]int) (domain.Bar, bool, error) {
	field := func(name string) string {
		i := idx[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	day, err := time.Parse("2006-01-02", field("date"))
	if err != nil {
		return domain.Bar{}, false, err
	}

	var prices [4]decimal.Decimal
	for i, col := range requiredColumns[1:] {
		v := field(col)
		if v == "" || strings.EqualFold(v, "null") {
			return domain.Bar{}, false, nil
		}
		if prices[i], err = decimal.NewFromString(v); err != nil {
			return domain.Bar{}, false, fmt.Errorf("%s: %w", col, err)
		}
	}

	return domain.Bar{Time: day, Open: prices[0], High: prices[1], Low: prices[2], Close: prices[3]}, true, nil
}
