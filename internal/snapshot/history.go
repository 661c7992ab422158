package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shopmetrics/internal/segment"
)

// Point is one segment's size on one day.
type Point struct {
	Date          string  `json:"date"`
	Segment       string  `json:"segment"`
	CustomerCount int64   `json:"customerCount"`
	Percentage    float64 `json:"percentage"`
	TotalRevenue  float64 `json:"totalRevenue"`
}

type History struct {
	Athena  AthenaClient
	Table   string
	Options AthenaRunOptions
	Now     func() time.Time
}

// HistorySQL builds the trend query. shop must already be a validated
// myshopify domain; quotes are escaped regardless.
func HistorySQL(table, shop string, scheme segment.Scheme, from string) string {
	return fmt.Sprintf(
		"SELECT dt, segment, customer_count, percentage, total_revenue FROM %s "+
			"WHERE shop_id = '%s' AND scheme = '%s' AND dt >= '%s' "+
			"ORDER BY dt, segment",
		table, quote(shop), quote(string(scheme)), quote(from),
	)
}

func quote(s string) string { return strings.ReplaceAll(s, "'", "''") }

// Trend returns the daily summaries of the last days days (today included).
func (h *History) Trend(ctx context.Context, shop string, scheme segment.Scheme, days int) ([]Point, error) {
	if days < 1 {
		days = 1
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	from := DateOf(now().AddDate(0, 0, -(days - 1)))

	res, err := RunAthenaQuery(ctx, h.Athena, HistorySQL(h.Table, shop, scheme, from), h.Options)
	if err != nil {
		return nil, err
	}

	points := make([]Point, 0, len(res.Rows))
	for _, r := range res.Rows {
		points = append(points, Point{
			Date:          fmt.Sprint(r["dt"]),
			Segment:       fmt.Sprint(r["segment"]),
			CustomerCount: asInt(r["customer_count"]),
			Percentage:    asFloat(r["percentage"]),
			TotalRevenue:  asFloat(r["total_revenue"]),
		})
	}
	return points, nil
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case float64:
		return t
	}
	return 0
}
