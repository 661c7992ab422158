package pg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmetrics/internal/segment"
)

func TestOrderModelRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 2, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))

	m := orderToModel("demo.myshopify.com", segment.Order{ID: "1001", CustomerID: " 7 ", TotalPrice: "", CreatedAt: created}, now)
	require.NotNil(t, m.CustomerID)
	assert.Equal(t, "7", *m.CustomerID)
	assert.Equal(t, "0", m.TotalPrice)
	assert.Equal(t, time.UTC, m.CreatedAt.Location())

	guest := orderToModel("demo.myshopify.com", segment.Order{ID: "1002", TotalPrice: "12.00", CreatedAt: created}, now)
	assert.Nil(t, guest.CustomerID)
	assert.Equal(t, "", orderFromModel(guest).CustomerID)

	back := orderFromModel(m)
	assert.Equal(t, "7", back.CustomerID)
	assert.True(t, created.Equal(back.CreatedAt))
}

func TestCustomerModel(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m := customerToModel("demo.myshopify.com", segment.Customer{ID: "7", OrdersCount: 2}, now)
	assert.Equal(t, "0", m.TotalSpent)
	assert.Equal(t, now, m.UpdatedAt)
	assert.Equal(t, segment.Customer{ID: "7", TotalSpent: "0", OrdersCount: 2}, customerFromModel(m))
}

func TestClusterModelRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := segment.LifecycleStrategy{}.Classify(segment.Features{CustomerID: "9", TotalSpent: 90, OrderCount: 3, AvgOrderValue: 30, DaysSinceLastOrder: 40})
	row, err := segment.ToRow("demo.myshopify.com", segment.SchemeLifecycle, c, at)
	require.NoError(t, err)

	m := clusterToModel(row)
	assert.Equal(t, "lifecycle", m.Scheme)
	assert.Equal(t, "loyal_customers", m.ClusterLabel)

	got, err := segment.FromRow(clusterFromModel(m))
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestMigrationsEmbedded(t *testing.T) {
	raw, err := migrationFS.ReadFile("migrations/001_segments.sql")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "PRIMARY KEY (tenant_id, scheme, customer_id)")
}
