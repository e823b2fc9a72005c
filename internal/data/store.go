package data

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SeriesMetadata describes one stored series.
type SeriesMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
}

// Store keeps loaded price series in memory for the simulation API.
// Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	logger *zap.Logger
	series map[string]*Series
}

// NewStore creates an empty store.
func NewStore(logger *zap.Logger) *Store {
	return &Store{
		logger: logger,
		series: make(map[string]*Series),
	}
}

// Put registers a series under its symbol, replacing any previous one.
func (s *Store) Put(series *Series) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[series.Symbol] = series

	if s.logger != nil {
		s.logger.Debug("series stored",
			zap.String("symbol", series.Symbol),
			zap.Int("bars", len(series.Bars)),
		)
	}
}

// Get returns the series for a symbol.
func (s *Store) Get(symbol string) (*Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series, ok := s.series[symbol]
	if !ok {
		return nil, fmt.Errorf("no data for symbol %q", symbol)
	}
	return series, nil
}

// GetRange returns the bars of a symbol within [start, end], inclusive.
// Zero bounds are open-ended.
func (s *Store) GetRange(symbol string, start, end time.Time) ([]Bar, error) {
	series, err := s.Get(symbol)
	if err != nil {
		return nil, err
	}

	var out []Bar
	for _, b := range series.Bars {
		if !start.IsZero() && b.Date.Before(start) {
			continue
		}
		if !end.IsZero() && b.Date.After(end) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// Symbols lists stored symbols in sorted order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.series))
	for symbol := range s.series {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

// Metadata summarizes every stored series.
func (s *Store) Metadata() []SeriesMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]SeriesMetadata, 0, len(s.series))
	for symbol, series := range s.series {
		meta := SeriesMetadata{Symbol: symbol, BarCount: len(series.Bars)}
		if len(series.Bars) > 0 {
			meta.StartDate = series.Bars[0].Date
			meta.EndDate = series.Bars[len(series.Bars)-1].Date
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
