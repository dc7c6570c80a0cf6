package yahoo

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quotehistory/internal/ticks"
)

// wireDateFormat is the calendar-day layout used by the download endpoint.
const wireDateFormat = "2006-01-02"

// Decoder streams ticks out of one CSV download body. It reads forward only:
// rows come out in stream order, the header line is discarded, and rows that
// do not parse are dropped without stopping the stream.
type Decoder struct {
	r       *csv.Reader
	variant ticks.Variant
	started bool
}

// NewDecoder decodes the given variant from r. The reader is consumed once;
// the decoder cannot be rewound.
func NewDecoder(r io.Reader, variant ticks.Variant) *Decoder {
	cr := csv.NewReader(r)
	// Row width is checked per variant so that short rows drop instead of
	// erroring the whole stream.
	cr.FieldsPerRecord = -1
	return &Decoder{r: cr, variant: variant}
}

// Next returns the next decodable tick. It returns io.EOF once the stream is
// exhausted; a stream holding only the header line hits io.EOF on the first
// call. Errors other than io.EOF mean the underlying read failed.
func (d *Decoder) Next() (ticks.Tick, error) {
	if !d.started {
		d.started = true
		if err := d.skipHeader(); err != nil {
			return nil, err
		}
	}
	for {
		rec, err := d.r.Read()
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				// A line the CSV grammar rejects drops, same as a row that
				// fails field parsing.
				continue
			}
			return nil, err
		}
		if tk, ok := decodeRecord(rec, d.variant); ok {
			return tk, nil
		}
	}
}

// skipHeader consumes the column header line, malformed or not.
func (d *Decoder) skipHeader() error {
	_, err := d.r.Read()
	var perr *csv.ParseError
	if err == nil || errors.As(err, &perr) {
		return nil
	}
	return err
}

// decodeRecord maps one CSV row onto its tick shape. ok is false when the
// row must drop: wrong field count, bad date, or any unparsable numeric
// field (the feed writes the literal "null" into columns it has no value
// for).
func decodeRecord(rec []string, variant ticks.Variant) (ticks.Tick, bool) {
	switch variant {
	case ticks.Dividend:
		return decodeDividend(rec)
	case ticks.Split:
		return decodeSplit(rec)
	default:
		return decodeHistory(rec)
	}
}

// decodeHistory expects date,open,high,low,close,adjclose,volume.
func decodeHistory(rec []string) (ticks.Tick, bool) {
	if len(rec) != 7 {
		return nil, false
	}
	date, ok := parseWireDate(rec[0])
	if !ok {
		return nil, false
	}
	var fields [5]decimal.Decimal
	for i, raw := range rec[1:6] {
		d, ok := parseWireDecimal(raw)
		if !ok {
			return nil, false
		}
		fields[i] = d
	}
	volume, err := strconv.ParseInt(strings.TrimSpace(rec[6]), 10, 64)
	if err != nil {
		return nil, false
	}
	return ticks.HistoryTick{
		Date:     date,
		Open:     fields[0],
		High:     fields[1],
		Low:      fields[2],
		Close:    fields[3],
		AdjClose: fields[4],
		Volume:   volume,
	}, true
}

// decodeDividend expects date,amount.
func decodeDividend(rec []string) (ticks.Tick, bool) {
	if len(rec) != 2 {
		return nil, false
	}
	date, ok := parseWireDate(rec[0])
	if !ok {
		return nil, false
	}
	amount, ok := parseWireDecimal(rec[1])
	if !ok {
		return nil, false
	}
	return ticks.DividendTick{Date: date, Amount: amount}, true
}

// decodeSplit expects date,ratio where ratio is "N/M" for an N-for-M split.
func decodeSplit(rec []string) (ticks.Tick, bool) {
	if len(rec) != 2 {
		return nil, false
	}
	date, ok := parseWireDate(rec[0])
	if !ok {
		return nil, false
	}
	parts := strings.Split(strings.TrimSpace(rec[1]), "/")
	if len(parts) != 2 {
		return nil, false
	}
	before, ok := parseWireDecimal(parts[0])
	if !ok {
		return nil, false
	}
	after, ok := parseWireDecimal(parts[1])
	if !ok {
		return nil, false
	}
	return ticks.SplitTick{Date: date, BeforeSplit: before, AfterSplit: after}, true
}

// parseWireDate reads a calendar day and keeps it exactly as sent: midnight
// UTC of the day the exchange reported, with no zone shifting.
func parseWireDate(s string) (time.Time, bool) {
	t, err := time.Parse(wireDateFormat, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func parseWireDecimal(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
