package yahoo_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	ticks "quotehistory/internal/ticks"
	yahoo "quotehistory/internal/yahoo"
)

const appleHistoryCSV = "Date,Open,High,Low,Close,Adj Close,Volume\n" +
	"2017-01-03,115.800003,116.330002,114.760002,116.150002,110.953560,28781900\n" +
	"2017-01-04,115.849998,116.510002,115.750000,116.019997,110.829376,21118100\n" +
	"2017-01-05,115.919998,116.860001,115.809998,116.610001,111.392937,22193600\n"

func csvResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func statusResponse(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

// routeSession answers the two session endpoints with a working pair and
// hands every download request to serve.
func routeSession(crumb string, serve func(req *http.Request) (*http.Response, error)) func(req *http.Request) (*http.Response, error) {
	return func(req *http.Request) (*http.Response, error) {
		switch {
		case req.URL.Host == "fc.yahoo.com":
			return authResponse("session-cookie"), nil
		case isCrumbRequest(req):
			return crumbResponse(crumb), nil
		default:
			return serve(req)
		}
	}
}

func testPeriod(t *testing.T) ticks.Period {
	t.Helper()
	p, err := ticks.NewPeriod(1483477200, 1483650000)
	require.NoError(t, err)
	return p
}

func TestFetchMany_History(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: one download is expected besides the session round trip.
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok123", func(req *http.Request) (*http.Response, error) {
			// Assert: the download carries the symbol in the path, the
			// window and crumb in the query, the session cookie on top.
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "AAPL", path.Base(req.URL.Path))
			query := req.URL.Query()
			require.Equal(t, "1483477200", query.Get("period1"))
			require.Equal(t, "1483650000", query.Get("period2"))
			require.Equal(t, "1d", query.Get("interval"))
			require.Equal(t, "history", query.Get("events"))
			require.Equal(t, "tok123", query.Get("crumb"))
			cookie, err := req.Cookie("A3")
			require.NoError(t, err)
			require.Equal(t, "session-cookie", cookie.Value)
			return csvResponse(appleHistoryCSV), nil
		})).
		Times(3)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	// Act
	set, err := client.FetchMany(t.Context(), []string{"AAPL"}, testPeriod(t), ticks.Daily, ticks.History)

	// Assert: three bars, decoded to the cent, in stream order.
	require.NoError(t, err)
	require.Equal(t, 1, set.Len())

	series, ok := set.Get("AAPL")
	require.True(t, ok)
	require.False(t, series.Absent)

	bars := series.HistoryTicks()
	require.Len(t, bars, 3)
	require.True(t, bars[0].Date.Equal(day(t, "2017-01-03")))
	require.True(t, bars[1].Date.Equal(day(t, "2017-01-04")))
	require.True(t, bars[2].Date.Equal(day(t, "2017-01-05")))
	require.True(t, bars[0].Open.Equal(decimal.RequireFromString("115.800003")))
	require.True(t, bars[0].Close.Equal(decimal.RequireFromString("116.150002")))
	require.True(t, bars[1].Low.Equal(decimal.RequireFromString("115.750000")))
	require.True(t, bars[2].AdjClose.Equal(decimal.RequireFromString("111.392937")))
	require.Equal(t, int64(28781900), bars[0].Volume)
}

func TestFetchMany_InputOrderPreserved(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			return csvResponse(appleHistoryCSV), nil
		})).
		Times(5)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	symbols := []string{"MSFT", "AAPL", "GOOG"}
	set, err := client.FetchMany(t.Context(), symbols, testPeriod(t), ticks.Daily, ticks.History)
	require.NoError(t, err)

	// Whatever order the downloads finished in, the set keeps request order.
	require.Equal(t, symbols, set.Symbols())
	all := set.All()
	require.Len(t, all, 3)
	for i, symbol := range symbols {
		require.Equal(t, symbol, all[i].Symbol)
	}
}

func TestFetchMany_UnknownSymbolAbsent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// Arrange: one symbol exists, the other is unknown upstream.
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			if path.Base(req.URL.Path) == "ZZZNOPE" {
				return statusResponse(http.StatusNotFound), nil
			}
			return csvResponse(appleHistoryCSV), nil
		})).
		Times(4)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	// Act
	set, err := client.FetchMany(t.Context(), []string{"AAPL", "ZZZNOPE"}, testPeriod(t), ticks.Daily, ticks.History)

	// Assert: the unknown symbol is a normal outcome, not a failure, and it
	// keeps its slot in the result.
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())

	known, ok := set.Get("AAPL")
	require.True(t, ok)
	require.False(t, known.Absent)
	require.Len(t, known.Ticks, 3)

	missing, ok := set.Get("ZZZNOPE")
	require.True(t, ok)
	require.True(t, missing.Absent)
	require.Empty(t, missing.Ticks)
}

func TestFetchMany_EmptyHistoryIsNotAbsent(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// Arrange: a known symbol with no rows inside the window answers with
	// just the header line.
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			return csvResponse("Date,Open,High,Low,Close,Adj Close,Volume\n"), nil
		})).
		Times(3)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	set, err := client.FetchMany(t.Context(), []string{"AAPL"}, testPeriod(t), ticks.Daily, ticks.History)
	require.NoError(t, err)

	series, ok := set.Get("AAPL")
	require.True(t, ok)
	require.False(t, series.Absent)
	require.Empty(t, series.Ticks)
}

func TestFetchMany_NoSymbols(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// No expectations: validation must reject before any network activity.
	httpClient := NewMockHTTPClient(ctrl)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	set, err := client.FetchMany(t.Context(), nil, testPeriod(t), ticks.Daily, ticks.History)
	require.Nil(t, set)

	var verr *yahoo.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestFetchMany_BlankSymbol(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	set, err := client.FetchMany(t.Context(), []string{"AAPL", "   "}, testPeriod(t), ticks.Daily, ticks.History)
	require.Nil(t, set)

	var verr *yahoo.ValidationError
	require.ErrorAs(t, err, &verr)
	require.EqualError(t, err, "symbol at index 1 is blank")
}

func TestFetchMany_DuplicateSymbols(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	set, err := client.FetchMany(t.Context(), []string{"C", "A", "C"}, testPeriod(t), ticks.Daily, ticks.History)
	require.Nil(t, set)

	var verr *yahoo.ValidationError
	require.ErrorAs(t, err, &verr)
	require.EqualError(t, err, `Duplicate symbol(s): "C".`)
}

func TestFetchMany_DuplicateSymbolsFirstOccurrenceOrder(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	_, err := client.FetchMany(t.Context(), []string{"B", "A", "A", "B"}, testPeriod(t), ticks.Daily, ticks.History)
	require.EqualError(t, err, `Duplicate symbol(s): "B", "A".`)
}

func TestFetchMany_CaseSensitiveNoDuplicate(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			return csvResponse(appleHistoryCSV), nil
		})).
		Times(4)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	// "brk" and "BRK" are distinct symbols, not duplicates.
	set, err := client.FetchMany(t.Context(), []string{"brk", "BRK"}, testPeriod(t), ticks.Daily, ticks.History)
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
}

func TestFetchMany_RefreshOn401(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// Arrange: the first download is rejected; the crumb endpoint hands out
	// a different crumb per acquisition so the retry is distinguishable.
	crumbs := []string{"stale", "fresh"}
	var crumbCalls int
	var downloadCrumbs []string
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			switch {
			case req.URL.Host == "fc.yahoo.com":
				return authResponse("cookie"), nil
			case isCrumbRequest(req):
				crumb := crumbs[crumbCalls]
				crumbCalls++
				return crumbResponse(crumb), nil
			default:
				crumb := req.URL.Query().Get("crumb")
				downloadCrumbs = append(downloadCrumbs, crumb)
				if crumb == "stale" {
					return statusResponse(http.StatusUnauthorized), nil
				}
				return csvResponse(appleHistoryCSV), nil
			}
		}).
		Times(6)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	// Act
	set, err := client.FetchMany(t.Context(), []string{"AAPL"}, testPeriod(t), ticks.Daily, ticks.History)

	// Assert: the call succeeded, and the retry ran with the refreshed
	// crumb rather than the rejected one.
	require.NoError(t, err)
	series, ok := set.Get("AAPL")
	require.True(t, ok)
	require.Len(t, series.Ticks, 3)
	require.Equal(t, []string{"stale", "fresh"}, downloadCrumbs)
}

func TestFetchMany_SecondUnauthorizedFails(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// Arrange: the endpoint rejects every crumb it ever sees.
	var downloads int
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("rejected", func(req *http.Request) (*http.Response, error) {
			downloads++
			return statusResponse(http.StatusUnauthorized), nil
		})).
		Times(6)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	// Act
	set, err := client.FetchMany(t.Context(), []string{"AAPL"}, testPeriod(t), ticks.Daily, ticks.History)

	// Assert: exactly one refresh-and-retry, then a terminal status failure.
	require.Nil(t, set)
	require.Equal(t, 2, downloads)

	var serr *yahoo.StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusUnauthorized, serr.Status)
	require.Equal(t, "AAPL", serr.Symbol)
}

func TestFetchMany_ServerErrorFailsCall(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// Arrange: one symbol decodes fine, the other hits a 500. The good
	// download may be cancelled mid-flight, so counts are left open.
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			if path.Base(req.URL.Path) == "BAD" {
				return &http.Response{
					StatusCode: http.StatusInternalServerError,
					Body:       io.NopCloser(strings.NewReader("boom")),
				}, nil
			}
			return csvResponse(appleHistoryCSV), nil
		})).
		AnyTimes()

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	// Act
	set, err := client.FetchMany(t.Context(), []string{"AAPL", "BAD"}, testPeriod(t), ticks.Daily, ticks.History)

	// Assert: no partial result, the status failure comes through typed.
	require.Nil(t, set)

	var serr *yahoo.StatusError
	require.ErrorAs(t, err, &serr)
	require.Equal(t, http.StatusInternalServerError, serr.Status)
	require.Equal(t, "BAD", serr.Symbol)
	require.Equal(t, "boom", serr.Body)
}

func TestFetchMany_TransportErrorFailsCall(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			return nil, fmt.Errorf("connection refused")
		})).
		Times(3)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	set, err := client.FetchMany(t.Context(), []string{"AAPL"}, testPeriod(t), ticks.Daily, ticks.History)
	require.Nil(t, set)
	require.ErrorContains(t, err, "downloading AAPL")
	require.ErrorContains(t, err, "connection refused")
}

func TestFetchMany_CancelledBeforeStart(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// No expectations: a cancelled call must not touch the network.
	httpClient := NewMockHTTPClient(ctrl)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	set, err := client.FetchMany(ctx, []string{"AAPL"}, testPeriod(t), ticks.Daily, ticks.History)
	require.Nil(t, set)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchMany_CancelMidFlight(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// Arrange: downloads hang until their request context dies.
	started := make(chan struct{}, 2)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-req.Context().Done()
			return nil, req.Context().Err()
		})).
		AnyTimes()

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	ctx, cancel := context.WithCancel(t.Context())

	// Act: cancel once at least one download is in flight.
	var set *yahoo.SeriesSet
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		set, err = client.FetchMany(ctx, []string{"AAPL", "MSFT"}, testPeriod(t), ticks.Daily, ticks.History)
	}()
	<-started
	cancel()
	<-done

	// Assert: a cancellation error and no partial result.
	require.Nil(t, set)
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchMany_DividendAndSplitVariants(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)

	// Arrange: one client, one session, two variant downloads.
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(routeSession("tok", func(req *http.Request) (*http.Response, error) {
			switch req.URL.Query().Get("events") {
			case "div":
				return csvResponse("Date,Dividends\n2017-02-09,0.57\n"), nil
			case "split":
				return csvResponse("Date,Stock Splits\n2014-06-09,7/1\n"), nil
			default:
				return statusResponse(http.StatusBadRequest), nil
			}
		})).
		Times(4)

	client := yahoo.NewClient(yahoo.WithHTTPClient(httpClient))

	// Act + Assert: dividends decode into dividend ticks.
	divs, err := client.FetchMany(t.Context(), []string{"KO"}, testPeriod(t), ticks.Daily, ticks.Dividend)
	require.NoError(t, err)
	koSeries, ok := divs.Get("KO")
	require.True(t, ok)
	payouts := koSeries.DividendTicks()
	require.Len(t, payouts, 1)
	require.True(t, payouts[0].Amount.Equal(decimal.RequireFromString("0.57")))

	// Act + Assert: splits decode into split ticks, reusing the session.
	splits, err := client.FetchMany(t.Context(), []string{"AAPL"}, testPeriod(t), ticks.Daily, ticks.Split)
	require.NoError(t, err)
	aaplSeries, ok := splits.Get("AAPL")
	require.True(t, ok)
	ratio := aaplSeries.SplitTicks()
	require.Len(t, ratio, 1)
	require.True(t, ratio[0].BeforeSplit.Equal(decimal.NewFromInt(7)))
	require.True(t, ratio[0].AfterSplit.Equal(decimal.NewFromInt(1)))
}
