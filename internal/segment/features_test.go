package segment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func tp(s string) *time.Time {
	t := ts(s)
	return &t
}

func TestParseAmount(t *testing.T) {
	cases := map[string]float64{
		"12.50":  12.5,
		" 7 ":    7,
		"":       0,
		"abc":    0,
		"NaN":    0,
		"+Inf":   0,
		"-3.25":  -3.25,
		"1e3":    1000,
		"12,50":  0,
		"0.0001": 0.0001,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseAmount(in), "input %q", in)
	}
}

func TestExtract(t *testing.T) {
	now := ts("2026-01-31T00:00:00Z")
	customers := []Customer{
		{ID: "a"},
		{ID: "b", CreatedAt: tp("2026-01-11T00:00:00Z")},
		{ID: "c"},
	}
	orders := []Order{
		{ID: "1", CustomerID: "a", TotalPrice: "100.50", CreatedAt: ts("2026-01-01T10:00:00Z")},
		{ID: "2", CustomerID: "a", TotalPrice: "not-a-number", CreatedAt: ts("2026-01-21T00:00:00Z")},
		{ID: "3", CustomerID: "", TotalPrice: "999", CreatedAt: ts("2026-01-30T00:00:00Z")},
		{ID: "4", CustomerID: "zzz", TotalPrice: "50", CreatedAt: ts("2026-01-30T00:00:00Z")},
	}

	got := Extract(customers, orders, now)
	require.Len(t, got, 3)

	assert.Equal(t, Features{CustomerID: "a", TotalSpent: 100.5, OrderCount: 2, AvgOrderValue: 50.25, DaysSinceLastOrder: 10}, got[0])
	assert.Equal(t, Features{CustomerID: "b", DaysSinceLastOrder: 20}, got[1])
	assert.Equal(t, Features{CustomerID: "c", DaysSinceLastOrder: NoOrderSentinelDays}, got[2])
}

func TestExtract_FutureOrderClampsToZero(t *testing.T) {
	now := ts("2026-01-31T00:00:00Z")
	got := Extract(
		[]Customer{{ID: "a"}},
		[]Order{{CustomerID: "a", TotalPrice: "10", CreatedAt: ts("2026-02-01T00:00:00Z")}},
		now,
	)
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].DaysSinceLastOrder)
}

func TestFromRollups(t *testing.T) {
	now := ts("2026-01-31T00:00:00Z")
	got := FromRollups([]Customer{
		{ID: "a", TotalSpent: "300", OrdersCount: 4, LastOrderDate: tp("2026-01-16T00:00:00Z")},
		{ID: "b", TotalSpent: "12", OrdersCount: 0, CreatedAt: tp("2026-01-30T00:00:00Z")},
		{ID: "c", TotalSpent: "bad", OrdersCount: 2},
	}, now)
	require.Len(t, got, 3)

	assert.Equal(t, Features{CustomerID: "a", TotalSpent: 300, OrderCount: 4, AvgOrderValue: 75, DaysSinceLastOrder: 15}, got[0])
	assert.Equal(t, Features{CustomerID: "b", DaysSinceLastOrder: 1}, got[1])
	assert.Equal(t, Features{CustomerID: "c", OrderCount: 2, DaysSinceLastOrder: NoOrderSentinelDays}, got[2])
}

func TestFilterOrders(t *testing.T) {
	r, err := ParseDateRange("2026-01-10", "2026-01-20")
	require.NoError(t, err)

	orders := []Order{
		{ID: "before", CreatedAt: ts("2026-01-09T23:59:59Z")},
		{ID: "start", CreatedAt: ts("2026-01-10T00:00:00Z")},
		{ID: "end-of-day", CreatedAt: ts("2026-01-20T23:00:00Z")},
		{ID: "after", CreatedAt: ts("2026-01-21T00:00:00Z")},
	}
	got := FilterOrders(orders, r)
	ids := make([]string, 0, len(got))
	for _, o := range got {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []string{"start", "end-of-day"}, ids)
	assert.Len(t, FilterOrders(orders, DateRange{}), 4)
}

func TestParseDateRange(t *testing.T) {
	r, err := ParseDateRange("", "")
	require.NoError(t, err)
	assert.True(t, r.IsZero())

	r, err = ParseDateRange("2026-01-01T05:00:00+02:00", "")
	require.NoError(t, err)
	assert.Equal(t, ts("2026-01-01T03:00:00Z"), *r.Start)
	assert.Nil(t, r.End)

	_, err = ParseDateRange("01/02/2026", "")
	assert.Error(t, err)

	_, err = ParseDateRange("2026-02-01", "2026-01-01")
	assert.Error(t, err)
}
