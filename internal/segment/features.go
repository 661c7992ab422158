package segment

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// NoOrderSentinelDays is reported as days-since-last-order when a customer has
// neither orders nor a known signup date.
const NoOrderSentinelDays = 999

const day = 24 * time.Hour

// ParseAmount converts a money string to float64. Anything unparsable is 0.
func ParseAmount(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

type orderRollup struct {
	total float64
	count int
	last  time.Time
}

// Extract builds one Features record per customer from the order list.
// Orders without a customer reference are ignored; the date range, if any, must
// already have been applied by the caller.
func Extract(customers []Customer, orders []Order, now time.Time) []Features {
	rollups := make(map[string]*orderRollup, len(customers))
	for _, o := range orders {
		cid := strings.TrimSpace(o.CustomerID)
		if cid == "" {
			continue
		}
		r := rollups[cid]
		if r == nil {
			r = &orderRollup{}
			rollups[cid] = r
		}
		r.total += ParseAmount(o.TotalPrice)
		r.count++
		if o.CreatedAt.After(r.last) {
			r.last = o.CreatedAt
		}
	}

	out := make([]Features, 0, len(customers))
	for _, c := range customers {
		f := Features{CustomerID: c.ID}
		if r, ok := rollups[strings.TrimSpace(c.ID)]; ok && r.count > 0 {
			f.TotalSpent = r.total
			f.OrderCount = r.count
			f.AvgOrderValue = r.total / float64(r.count)
			f.DaysSinceLastOrder = daysBetween(r.last, now)
		} else {
			f.DaysSinceLastOrder = daysSinceSignup(c.CreatedAt, now)
		}
		out = append(out, f)
	}
	return out
}

// FromRollups builds features from the totals already stored on customer rows
// (Shopify keeps total_spent / orders_count on the customer object).
func FromRollups(customers []Customer, now time.Time) []Features {
	out := make([]Features, 0, len(customers))
	for _, c := range customers {
		f := Features{CustomerID: c.ID}
		if c.OrdersCount > 0 {
			f.TotalSpent = ParseAmount(c.TotalSpent)
			f.OrderCount = c.OrdersCount
			f.AvgOrderValue = f.TotalSpent / float64(c.OrdersCount)
		}
		switch {
		case c.OrdersCount > 0 && c.LastOrderDate != nil:
			f.DaysSinceLastOrder = daysBetween(*c.LastOrderDate, now)
		case c.OrdersCount > 0:
			f.DaysSinceLastOrder = NoOrderSentinelDays
		default:
			f.DaysSinceLastOrder = daysSinceSignup(c.CreatedAt, now)
		}
		out = append(out, f)
	}
	return out
}

// FilterOrders keeps orders created inside r.
func FilterOrders(orders []Order, r DateRange) []Order {
	if r.IsZero() {
		return orders
	}
	out := make([]Order, 0, len(orders))
	for _, o := range orders {
		if r.Contains(o.CreatedAt) {
			out = append(out, o)
		}
	}
	return out
}

func daysSinceSignup(createdAt *time.Time, now time.Time) int {
	if createdAt == nil || createdAt.IsZero() {
		return NoOrderSentinelDays
	}
	return daysBetween(*createdAt, now)
}

// daysBetween floors to whole days and never goes negative (clock skew on
// webhook timestamps can put an order slightly in the future).
func daysBetween(from, now time.Time) int {
	d := now.Sub(from)
	if d < 0 {
		return 0
	}
	return int(d / day)
}
