package segment

import "sort"

type bucket struct {
	count       int
	revenue     float64
	sumAOV      float64
	totalOrders int
	members     []Classified
}

// Aggregate groups classified records by label and summarises each group.
//
// AvgOrderValue is the unweighted mean of per-customer averages, not
// revenue/orders. Only labels that occur are returned, ordered by the strategy's
// priority; labels the strategy does not know sort last, by name.
func Aggregate(st Strategy, records []Classified) []Summary {
	if len(records) == 0 {
		return []Summary{}
	}

	buckets := map[Label]*bucket{}
	for _, r := range records {
		b := buckets[r.Label]
		if b == nil {
			b = &bucket{}
			buckets[r.Label] = b
		}
		b.count++
		b.revenue += r.TotalSpent
		b.sumAOV += r.AvgOrderValue
		b.totalOrders += r.OrderCount
		if st.IncludeMembers() {
			b.members = append(b.members, r)
		}
	}

	total := float64(len(records))
	out := make([]Summary, 0, len(buckets))
	for label, b := range buckets {
		n := float64(b.count)
		out = append(out, Summary{
			Label:                label,
			CustomerCount:        b.count,
			TotalRevenue:         b.revenue,
			AvgOrderValue:        b.sumAOV / n,
			AvgOrdersPerCustomer: float64(b.totalOrders) / n,
			Percentage:           n / total * 100,
			Members:              b.members,
		})
	}

	rank := priorityIndex(st.Priority())
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rankOf(rank, out[i].Label), rankOf(rank, out[j].Label)
		if ri != rj {
			return ri < rj
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func priorityIndex(labels []Label) map[Label]int {
	m := make(map[Label]int, len(labels))
	for i, l := range labels {
		m[l] = i
	}
	return m
}

func rankOf(rank map[Label]int, l Label) int {
	if i, ok := rank[l]; ok {
		return i
	}
	return len(rank)
}

// CountOf returns the customer count of label in summaries, 0 when absent.
func CountOf(summaries []Summary, l Label) int {
	for _, s := range summaries {
		if s.Label == l {
			return s.CustomerCount
		}
	}
	return 0
}
