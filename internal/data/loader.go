// Package data loads, cleans, and aligns historical daily price series.
//
// The loader understands the Investing.com CSV export format: numbers
// carry thousands separators and K/M/B volume suffixes, percentages end
// in %, and dates are MM/DD/YYYY with the newest row first.
package data

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Bar is one day of cleaned market data. Missing fields are NaN.
type Bar struct {
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Volume float64   `json:"volume"`
	Change float64   `json:"change"` // daily change as a fraction
}

// Series is a date-ascending sequence of bars for one instrument.
type Series struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Dates returns the series dates in order.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Date
	}
	return out
}

// Closes returns the close prices in order.
func (s *Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Returns computes simple daily returns from closes. The first is NaN.
func (s *Series) Returns() []float64 {
	out := make([]float64, len(s.Bars))
	for i := range out {
		out[i] = math.NaN()
		if i > 0 && s.Bars[i-1].Close > 0 && !math.IsNaN(s.Bars[i].Close) {
			out[i] = s.Bars[i].Close/s.Bars[i-1].Close - 1
		}
	}
	return out
}

// ParseNumber parses strings like "88,007.0", "2.92K", "302.55M".
// Dashes and unparseable values are NaN.
func ParseNumber(value string) float64 {
	value = strings.TrimSpace(strings.ReplaceAll(value, `"`, ""))
	if value == "" || value == "-" {
		return math.NaN()
	}
	value = strings.ReplaceAll(value, ",", "")

	multiplier := 1.0
	switch {
	case strings.HasSuffix(value, "K"):
		multiplier = 1e3
		value = strings.TrimSuffix(value, "K")
	case strings.HasSuffix(value, "M"):
		multiplier = 1e6
		value = strings.TrimSuffix(value, "M")
	case strings.HasSuffix(value, "B"):
		multiplier = 1e9
		value = strings.TrimSuffix(value, "B")
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return f * multiplier
}

// ParsePercent parses "-0.63%" into -0.0063.
func ParsePercent(value string) float64 {
	value = strings.TrimSpace(strings.ReplaceAll(value, `"`, ""))
	if value == "" || value == "-" {
		return math.NaN()
	}
	value = strings.TrimSuffix(value, "%")
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return math.NaN()
	}
	return f / 100
}

// Loader reads CSV exports from a data directory.
type Loader struct {
	logger  *zap.Logger
	dataDir string
}

// NewLoader creates a loader rooted at dataDir.
func NewLoader(logger *zap.Logger, dataDir string) *Loader {
	return &Loader{logger: logger, dataDir: dataDir}
}

// LoadInvestingCSV loads one instrument's history and returns it sorted
// date-ascending with numeric fields cleaned.
func (l *Loader) LoadInvestingCSV(symbol, filename string) (*Series, error) {
	path := filename
	if l.dataDir != "" && !strings.Contains(filename, string(os.PathSeparator)) {
		path = l.dataDir + string(os.PathSeparator) + filename
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	series, err := ReadInvestingCSV(symbol, f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	if l.logger != nil {
		l.logger.Info("loaded price series",
			zap.String("symbol", symbol),
			zap.Int("bars", len(series.Bars)),
		)
	}

	return series, nil
}

// ReadInvestingCSV parses the Investing.com export format from a reader.
func ReadInvestingCSV(symbol string, r io.Reader) (*Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	// Strip the UTF-8 BOM some exports carry on the first header cell.
	col := map[string]int{}
	for i, name := range header {
		name = strings.TrimPrefix(name, "\ufeff")
		col[strings.TrimSpace(name)] = i
	}
	dateIdx, ok := col["Date"]
	if !ok {
		return nil, fmt.Errorf("missing Date column")
	}

	field := func(record []string, name string) string {
		if idx, ok := col[name]; ok && idx < len(record) {
			return record[idx]
		}
		return "-"
	}

	series := &Series{Symbol: symbol}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		if dateIdx >= len(record) {
			continue
		}

		date, err := time.Parse("01/02/2006", strings.TrimSpace(strings.ReplaceAll(record[dateIdx], `"`, "")))
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", record[dateIdx], err)
		}

		series.Bars = append(series.Bars, Bar{
			Date:   date,
			Close:  ParseNumber(field(record, "Price")),
			Open:   ParseNumber(field(record, "Open")),
			High:   ParseNumber(field(record, "High")),
			Low:    ParseNumber(field(record, "Low")),
			Volume: ParseNumber(field(record, "Vol.")),
			Change: ParsePercent(field(record, "Change %")),
		})
	}

	sort.Slice(series.Bars, func(i, j int) bool {
		return series.Bars[i].Date.Before(series.Bars[j].Date)
	})

	return series, nil
}

// ForwardFill replaces NaN closes with the latest preceding value, then
// backfills any NaN run at the start from the first real close.
func ForwardFill(s *Series) {
	last := math.NaN()
	for i := range s.Bars {
		if math.IsNaN(s.Bars[i].Close) {
			s.Bars[i].Close = last
		} else {
			last = s.Bars[i].Close
		}
	}
	first := math.NaN()
	for _, b := range s.Bars {
		if !math.IsNaN(b.Close) {
			first = b.Close
			break
		}
	}
	for i := range s.Bars {
		if math.IsNaN(s.Bars[i].Close) {
			s.Bars[i].Close = first
		} else {
			break
		}
	}
}

// Align restricts all series to their common dates (inner join), keeping
// date-ascending order. Every returned series has identical dates.
func Align(series ...*Series) []*Series {
	if len(series) < 2 {
		return series
	}

	counts := map[time.Time]int{}
	for _, s := range series {
		seen := map[time.Time]bool{}
		for _, b := range s.Bars {
			d := b.Date.Truncate(24 * time.Hour)
			if !seen[d] {
				seen[d] = true
				counts[d]++
			}
		}
	}

	common := map[time.Time]bool{}
	for d, c := range counts {
		if c == len(series) {
			common[d] = true
		}
	}

	out := make([]*Series, len(series))
	for i, s := range series {
		aligned := &Series{Symbol: s.Symbol}
		for _, b := range s.Bars {
			if common[b.Date.Truncate(24*time.Hour)] {
				aligned.Bars = append(aligned.Bars, b)
			}
		}
		out[i] = aligned
	}
	return out
}
