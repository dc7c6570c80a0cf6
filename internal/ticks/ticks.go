package ticks

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one dated record in a symbol's history: a price bar, a dividend
// payment or a split ratio. The set of shapes is closed; consumers dispatch
// with a type switch.
type Tick interface {
	tick()
}

// HistoryTick is one price bar at the requested sampling frequency.
type HistoryTick struct {
	Date     time.Time       `json:"date"`
	Open     decimal.Decimal `json:"open"`
	High     decimal.Decimal `json:"high"`
	Low      decimal.Decimal `json:"low"`
	Close    decimal.Decimal `json:"close"`
	AdjClose decimal.Decimal `json:"adj_close"`
	Volume   int64           `json:"volume"`
}

// DividendTick is one cash dividend payment.
type DividendTick struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// SplitTick is one stock split. A 7-for-1 split carries BeforeSplit=7,
// AfterSplit=1.
type SplitTick struct {
	Date        time.Time       `json:"date"`
	BeforeSplit decimal.Decimal `json:"before_split"`
	AfterSplit  decimal.Decimal `json:"after_split"`
}

func (HistoryTick) tick()  {}
func (DividendTick) tick() {}
func (SplitTick) tick()    {}

// Frequency selects the sampling granularity of history bars.
type Frequency int

const (
	Daily Frequency = iota
	Weekly
	Monthly
)

// Code returns the single-character wire code for the frequency.
func (f Frequency) Code() string {
	switch f {
	case Weekly:
		return "w"
	case Monthly:
		return "m"
	default:
		return "d"
	}
}

func (f Frequency) String() string {
	switch f {
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return "daily"
	}
}

// ParseFrequency maps user input (wire code or full name) to a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	switch s {
	case "d", "daily", "1d":
		return Daily, nil
	case "w", "weekly", "1w":
		return Weekly, nil
	case "m", "monthly", "1m":
		return Monthly, nil
	}
	return Daily, fmt.Errorf("unknown frequency %q", s)
}

// Variant selects which event stream a download returns.
type Variant int

const (
	History Variant = iota
	Dividend
	Split
)

// EventParam returns the wire value for the events query parameter.
func (v Variant) EventParam() string {
	switch v {
	case Dividend:
		return "div"
	case Split:
		return "split"
	default:
		return "history"
	}
}

func (v Variant) String() string {
	switch v {
	case Dividend:
		return "dividend"
	case Split:
		return "split"
	default:
		return "history"
	}
}

// ParseVariant maps user input (wire value or full name) to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch s {
	case "history", "prices":
		return History, nil
	case "div", "dividend", "dividends":
		return Dividend, nil
	case "split", "splits":
		return Split, nil
	}
	return History, fmt.Errorf("unknown variant %q", s)
}
