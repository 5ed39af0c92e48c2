package domain

import (
	"fmt"
	"sort"
	"time"
)

// Ticker is an exchange-facing instrument symbol (e.g. "BRK.B").
type Ticker string

// RiskID is the opaque instrument key used by the risk model and covariance provider.
type RiskID string

// IDSpace names the identifier space of a lookup key.
type IDSpace string

const (
	TickerSpace IDSpace = "ticker"
	RiskIDSpace IDSpace = "risk_id"
)

// IDPair associates a ticker with its risk-model identifier for one trade date.
type IDPair struct {
	Ticker Ticker `json:"ticker"`
	RiskID RiskID `json:"risk_id"`
}

// UnmappedError is returned when an identifier has no counterpart in the
// mapping for the trade date.
type UnmappedError struct {
	Space IDSpace
	Key   string
	Date  time.Time
}

func (e *UnmappedError) Error() string {
	return fmt.Sprintf("%s %q has no mapping on %s", e.Space, e.Key, e.Date.Format("2006-01-02"))
}

// IDMap is a bijection between tickers and risk IDs valid for a single date.
//
// Both directions are materialized at construction. Construction fails if
// either side repeats, so a lookup never has to pick between candidates.
type IDMap struct {
	date     time.Time
	toRisk   map[Ticker]RiskID
	toTicker map[RiskID]Ticker
}

// NewIDMap builds the mapping for date from pairs.
func NewIDMap(date time.Time, pairs []IDPair) (*IDMap, error) {
	m := &IDMap{
		date:     date,
		toRisk:   make(map[Ticker]RiskID, len(pairs)),
		toTicker: make(map[RiskID]Ticker, len(pairs)),
	}

	for _, p := range pairs {
		if p.Ticker == "" || p.RiskID == "" {
			return nil, fmt.Errorf("id map for %s: empty identifier in pair %+v", date.Format("2006-01-02"), p)
		}
		if existing, ok := m.toRisk[p.Ticker]; ok && existing != p.RiskID {
			return nil, fmt.Errorf("id map for %s: ticker %q maps to both %q and %q",
				date.Format("2006-01-02"), p.Ticker, existing, p.RiskID)
		}
		if existing, ok := m.toTicker[p.RiskID]; ok && existing != p.Ticker {
			return nil, fmt.Errorf("id map for %s: risk id %q maps to both %q and %q",
				date.Format("2006-01-02"), p.RiskID, existing, p.Ticker)
		}
		m.toRisk[p.Ticker] = p.RiskID
		m.toTicker[p.RiskID] = p.Ticker
	}

	return m, nil
}

// Date returns the trade date the mapping is valid for.
func (m *IDMap) Date() time.Time {
	return m.date
}

// Len returns the number of mapped instruments.
func (m *IDMap) Len() int {
	return len(m.toRisk)
}

// RiskID resolves a ticker.
func (m *IDMap) RiskID(t Ticker) (RiskID, error) {
	if r, ok := m.toRisk[t]; ok {
		return r, nil
	}
	return "", &UnmappedError{Space: TickerSpace, Key: string(t), Date: m.date}
}

// Ticker resolves a risk ID.
func (m *IDMap) Ticker(r RiskID) (Ticker, error) {
	if t, ok := m.toTicker[r]; ok {
		return t, nil
	}
	return "", &UnmappedError{Space: RiskIDSpace, Key: string(r), Date: m.date}
}

// Pairs returns the mapping sorted by ticker.
func (m *IDMap) Pairs() []IDPair {
	pairs := make([]IDPair, 0, len(m.toRisk))
	for t, r := range m.toRisk {
		pairs = append(pairs, IDPair{Ticker: t, RiskID: r})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Ticker < pairs[j].Ticker })
	return pairs
}
