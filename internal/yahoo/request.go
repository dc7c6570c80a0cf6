package yahoo

import (
	"fmt"
	"net/url"
	"strconv"

	"quotehistory/internal/ticks"
)

// BuildDownloadURL assembles the download URL for one symbol. The symbol is
// path-escaped into the last path segment; period bounds, interval, events
// and crumb travel as query parameters.
func BuildDownloadURL(base, symbol string, period ticks.Period, freq ticks.Frequency, variant ticks.Variant, crumb string) string {
	query := url.Values{}
	query.Set("period1", strconv.FormatInt(period.Start(), 10))
	query.Set("period2", strconv.FormatInt(period.End(), 10))
	query.Set("interval", "1"+freq.Code())
	query.Set("events", variant.EventParam())
	query.Set("crumb", crumb)
	return fmt.Sprintf("%s/%s?%s", base, url.PathEscape(symbol), query.Encode())
}
