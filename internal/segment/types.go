package segment

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Scheme names a classification strategy.
type Scheme string

const (
	SchemeRFM       Scheme = "rfm"
	SchemeLifecycle Scheme = "lifecycle"
)

var ErrUnknownScheme = errors.New("unknown segmentation scheme")

// ParseScheme accepts "rfm" / "lifecycle" (case-insensitive). Empty defaults to rfm.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "rfm":
		return SchemeRFM, nil
	case "lifecycle":
		return SchemeLifecycle, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScheme, s)
	}
}

// Label is a segment name. Each scheme has its own closed set.
type Label string

// Customer is a customer row as read from the store.
type Customer struct {
	ID            string     `json:"id"`
	TotalSpent    string     `json:"total_spent"`
	OrdersCount   int        `json:"orders_count"`
	LastOrderDate *time.Time `json:"last_order_date,omitempty"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

// Order is an order row. TotalPrice is kept as the decimal string Shopify sends.
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	TotalPrice string    `json:"total_price"`
	CreatedAt  time.Time `json:"created_at"`
}

// DateRange bounds order creation time. Nil ends are open.
type DateRange struct {
	Start *time.Time `json:"startDate,omitempty"`
	End   *time.Time `json:"endDate,omitempty"`
}

func (r DateRange) IsZero() bool { return r.Start == nil && r.End == nil }

// Contains reports whether t falls inside the range (both ends inclusive).
func (r DateRange) Contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

// ParseDateRange parses ISO-8601 startDate/endDate. A date-only endDate covers the whole day.
func ParseDateRange(start, end string) (DateRange, error) {
	var r DateRange
	if s := strings.TrimSpace(start); s != "" {
		t, _, err := parseISO(s)
		if err != nil {
			return DateRange{}, fmt.Errorf("startDate: %w", err)
		}
		r.Start = &t
	}
	if s := strings.TrimSpace(end); s != "" {
		t, dateOnly, err := parseISO(s)
		if err != nil {
			return DateRange{}, fmt.Errorf("endDate: %w", err)
		}
		if dateOnly {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		r.End = &t
	}
	if r.Start != nil && r.End != nil && r.End.Before(*r.Start) {
		return DateRange{}, fmt.Errorf("endDate before startDate")
	}
	return r, nil
}

func parseISO(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("expected ISO-8601 date, got %q", s)
	}
	return t.UTC(), true, nil
}

// Features is the per-customer snapshot every strategy classifies.
type Features struct {
	CustomerID         string  `json:"customerId"`
	TotalSpent         float64 `json:"totalSpent"`
	OrderCount         int     `json:"orderCount"`
	AvgOrderValue      float64 `json:"avgOrderValue"`
	DaysSinceLastOrder int     `json:"daysSinceLastOrder"`
}

// Scores are the 1..5 RFM ordinals derived from Features.
type Scores struct {
	Recency   int `json:"recencyScore"`
	Frequency int `json:"frequencyScore"`
	Monetary  int `json:"monetaryScore"`
}

// Classified is a feature record with its assigned label.
type Classified struct {
	Features
	Scores
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Summary aggregates every customer sharing a label.
type Summary struct {
	Label                Label        `json:"label"`
	CustomerCount        int          `json:"customerCount"`
	TotalRevenue         float64      `json:"totalRevenue"`
	AvgOrderValue        float64      `json:"avgOrderValue"`
	AvgOrdersPerCustomer float64      `json:"avgOrdersPerCustomer"`
	Percentage           float64      `json:"percentage"`
	Members              []Classified `json:"members,omitempty"`
}

// Report is what a single engine run produces for one tenant.
type Report struct {
	Tenant         string       `json:"shop"`
	Scheme         Scheme       `json:"scheme"`
	GeneratedAt    time.Time    `json:"generatedAt"`
	Range          DateRange    `json:"range"`
	TotalCustomers int          `json:"totalCustomers"`
	Segments       []Summary    `json:"segments"`
	Customers      []Classified `json:"customers,omitempty"`
	Persisted      bool         `json:"persisted"`
	Degraded       bool         `json:"degraded,omitempty"`
}
