package domain

import (
	"fmt"
	"sort"
)

// WarningCode classifies a data-quality gap.
type WarningCode string

const (
	WarnMissingPrice           WarningCode = "MISSING_PRICE"
	WarnNonPositivePrice       WarningCode = "NON_POSITIVE_PRICE"
	WarnUnmappedTicker         WarningCode = "UNMAPPED_TICKER"
	WarnUnmappedRiskID         WarningCode = "UNMAPPED_RISK_ID"
	WarnMissingCovariance      WarningCode = "MISSING_COVARIANCE"
	WarnMissingSpecificRisk    WarningCode = "MISSING_SPECIFIC_RISK"
	WarnMissingTradeDate       WarningCode = "MISSING_TRADE_DATE"
	WarnDegenerateCrossSection WarningCode = "DEGENERATE_CROSS_SECTION"
)

// Stage identifies the pipeline stage that raised a warning.
type Stage string

const (
	StageSignals        Stage = "signals"
	StageSizing         Stage = "sizing"
	StageReconciliation Stage = "reconciliation"
	StageRisk           Stage = "risk"
)

// Warning is a data-quality gap that caused an instrument to be excluded
// or a value to fall back to a default. Warnings never abort a run.
type Warning struct {
	Code       WarningCode `json:"code"`
	Stage      Stage       `json:"stage"`
	Instrument string      `json:"instrument,omitempty"`
	Message    string      `json:"message"`
}

func (w Warning) String() string {
	if w.Instrument == "" {
		return fmt.Sprintf("[%s/%s] %s", w.Stage, w.Code, w.Message)
	}
	return fmt.Sprintf("[%s/%s] %s: %s", w.Stage, w.Code, w.Instrument, w.Message)
}

// Warnings accumulates data-quality warnings for one run.
type Warnings struct {
	items []Warning
}

// Add records a warning.
func (w *Warnings) Add(code WarningCode, stage Stage, instrument, format string, args ...interface{}) {
	w.items = append(w.items, Warning{
		Code:       code,
		Stage:      stage,
		Instrument: instrument,
		Message:    fmt.Sprintf(format, args...),
	})
}

// Merge appends every warning of other.
func (w *Warnings) Merge(other Warnings) {
	w.items = append(w.items, other.items...)
}

// Items returns a copy of the recorded warnings in insertion order.
func (w Warnings) Items() []Warning {
	out := make([]Warning, len(w.items))
	copy(out, w.items)
	return out
}

// Len returns the number of recorded warnings.
func (w Warnings) Len() int {
	return len(w.items)
}

// Counts returns the number of warnings per code.
func (w Warnings) Counts() map[WarningCode]int {
	counts := make(map[WarningCode]int)
	for _, item := range w.items {
		counts[item.Code]++
	}
	return counts
}

// Codes returns the distinct codes present, sorted.
func (w Warnings) Codes() []WarningCode {
	counts := w.Counts()
	codes := make([]WarningCode, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
