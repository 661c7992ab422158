package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmetrics/internal/db/dbtest"
	"shopmetrics/internal/segment"
)

func newShopData(mem *dbtest.Memory) *ShopData {
	s := NewShopData(mem, Tables{Customers: "customers", Orders: "orders"})
	s.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestShopData_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	mem.PageSize = 2
	s := newShopData(mem)

	created := time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertCustomer(ctx, "a.myshopify.com", segment.Customer{ID: "1", TotalSpent: "120.50", OrdersCount: 2, CreatedAt: &created}))
	require.NoError(t, s.UpsertCustomer(ctx, "a.myshopify.com", segment.Customer{ID: "2"}))
	require.NoError(t, s.UpsertCustomer(ctx, "a.myshopify.com", segment.Customer{ID: "3"}))
	require.NoError(t, s.UpsertCustomer(ctx, "b.myshopify.com", segment.Customer{ID: "9"}))

	for i, at := range []time.Time{
		time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 5, 0, 0, 0, 0, time.FixedZone("PST", -8*3600)),
		time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC),
	} {
		require.NoError(t, s.UpsertOrder(ctx, "a.myshopify.com", segment.Order{
			ID: string(rune('a' + i)), CustomerID: "1", TotalPrice: "40.00", CreatedAt: at,
		}))
	}

	customers, err := s.Customers(ctx, "a.myshopify.com")
	require.NoError(t, err)
	require.Len(t, customers, 3)
	assert.Equal(t, "1", customers[0].ID)
	assert.Equal(t, "120.50", customers[0].TotalSpent)
	require.NotNil(t, customers[0].CreatedAt)
	assert.True(t, created.Equal(*customers[0].CreatedAt))
	assert.Nil(t, customers[1].CreatedAt)

	all, err := s.Orders(ctx, "a.myshopify.com", segment.DateRange{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	rng, err := segment.ParseDateRange("2026-02-01", "2026-02-10")
	require.NoError(t, err)
	feb, err := s.Orders(ctx, "a.myshopify.com", rng)
	require.NoError(t, err)
	require.Len(t, feb, 1)
	assert.Equal(t, "b", feb[0].ID)
	assert.Equal(t, time.UTC, feb[0].CreatedAt.Location())
}

func TestShopData_UpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	mem := dbtest.NewMemory()
	s := newShopData(mem)

	require.NoError(t, s.UpsertOrder(ctx, "a.myshopify.com", segment.Order{ID: "1", CustomerID: "7", TotalPrice: "10", CreatedAt: time.Now()}))
	require.NoError(t, s.UpsertOrder(ctx, "a.myshopify.com", segment.Order{ID: "1", CustomerID: "7", TotalPrice: "25", CreatedAt: time.Now()}))

	orders, err := s.Orders(ctx, "a.myshopify.com", segment.DateRange{})
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "25", orders[0].TotalPrice)
}

func TestShopData_EmptyShop(t *testing.T) {
	s := newShopData(dbtest.NewMemory())
	customers, err := s.Customers(context.Background(), "none.myshopify.com")
	require.NoError(t, err)
	assert.Empty(t, customers)
}

func TestShopData_CustomerWebhookKeepsLastOrderDate(t *testing.T) {
	ctx := context.Background()
	s := newShopData(dbtest.NewMemory())
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -3)
	signup := now.AddDate(-1, 0, 0)

	// sync stores the full row
	require.NoError(t, s.UpsertCustomer(ctx, "a.myshopify.com", segment.Customer{
		ID: "1", TotalSpent: "1500.00", OrdersCount: 12, LastOrderDate: &last, CreatedAt: &signup,
	}))
	// customers/update carries rollups only
	require.NoError(t, s.UpsertCustomer(ctx, "a.myshopify.com", segment.Customer{
		ID: "1", TotalSpent: "1620.00", OrdersCount: 13,
	}))

	customers, err := s.Customers(ctx, "a.myshopify.com")
	require.NoError(t, err)
	require.Len(t, customers, 1)
	c := customers[0]
	assert.Equal(t, "1620.00", c.TotalSpent)
	assert.Equal(t, 13, c.OrdersCount)
	require.NotNil(t, c.LastOrderDate)
	assert.True(t, last.Equal(*c.LastOrderDate))
	require.NotNil(t, c.CreatedAt)
	assert.True(t, signup.Equal(*c.CreatedAt))

	f := segment.FromRollups(customers, now)
	require.Len(t, f, 1)
	assert.Equal(t, 3, f[0].DaysSinceLastOrder)
	assert.Equal(t, segment.Champions, segment.RFMStrategy{}.Classify(f[0]).Label)
}
