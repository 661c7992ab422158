// Package snapshot exports daily segment summaries to the analytics lake
// (Parquet on S3, catalogued in Glue) and reads the history back via Athena.
package snapshot

import (
	"time"

	"shopmetrics/internal/segment"
)

// Row matches the Glue table columns. dt and shop_id are also partition keys.
type Row struct {
	ShopID               string  `parquet:"name=shop_id, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	SnapshotDate         string  `parquet:"name=snapshot_date, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // YYYY-MM-DD
	Scheme               string  `parquet:"name=scheme, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	Segment              string  `parquet:"name=segment, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	CustomerCount        int64   `parquet:"name=customer_count, type=INT64"`
	TotalRevenue         float64 `parquet:"name=total_revenue, type=DOUBLE"`
	AvgOrderValue        float64 `parquet:"name=avg_order_value, type=DOUBLE"`
	AvgOrdersPerCustomer float64 `parquet:"name=avg_orders_per_customer, type=DOUBLE"`
	Percentage           float64 `parquet:"name=percentage, type=DOUBLE"`
}

// DateOf formats the partition date of a report.
func DateOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

// RowsFrom flattens a report into one row per segment.
func RowsFrom(rep *segment.Report) []Row {
	dt := DateOf(rep.GeneratedAt)
	rows := make([]Row, 0, len(rep.Segments))
	for _, s := range rep.Segments {
		rows = append(rows, Row{
			ShopID:               rep.Tenant,
			SnapshotDate:         dt,
			Scheme:               string(rep.Scheme),
			Segment:              string(s.Label),
			CustomerCount:        int64(s.CustomerCount),
			TotalRevenue:         s.TotalRevenue,
			AvgOrderValue:        s.AvgOrderValue,
			AvgOrdersPerCustomer: s.AvgOrdersPerCustomer,
			Percentage:           s.Percentage,
		})
	}
	return rows
}
