package segment

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	customers   []Customer
	orders      []Order
	err         error
	ordersCalls int
	lastRange   DateRange
}

func (f *fakeSource) Customers(context.Context, string) ([]Customer, error) {
	return f.customers, f.err
}

func (f *fakeSource) Orders(_ context.Context, _ string, r DateRange) ([]Order, error) {
	f.ordersCalls++
	f.lastRange = r
	if f.err != nil {
		return nil, f.err
	}
	return FilterOrders(f.orders, r), nil
}

type fakeStore struct {
	saved   map[string][]Classified
	saveErr error
}

func key(tenant string, s Scheme) string { return tenant + "|" + string(s) }

func (f *fakeStore) Save(_ context.Context, tenant string, s Scheme, rows []Classified) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.saved == nil {
		f.saved = map[string][]Classified{}
	}
	f.saved[key(tenant, s)] = append([]Classified(nil), rows...)
	return nil
}

func (f *fakeStore) Load(_ context.Context, tenant string, s Scheme) ([]Classified, error) {
	return f.saved[key(tenant, s)], nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(src Source, store Store) *Engine {
	e := NewEngine(src, store, quietLogger())
	e.Now = func() time.Time { return ts("2026-03-01T12:00:00Z") }
	return e
}

func shopFixture() *fakeSource {
	return &fakeSource{
		customers: []Customer{
			{ID: "c1", TotalSpent: "1200", OrdersCount: 12, LastOrderDate: tp("2026-02-20T00:00:00Z")},
			{ID: "c2"},
			{ID: "c3", CreatedAt: tp("2026-02-27T00:00:00Z")},
		},
		orders: []Order{
			{ID: "o1", CustomerID: "c1", TotalPrice: "600", CreatedAt: ts("2026-01-05T00:00:00Z")},
			{ID: "o2", CustomerID: "c1", TotalPrice: "600", CreatedAt: ts("2026-02-20T00:00:00Z")},
			{ID: "o3", CustomerID: "c2", TotalPrice: "25", CreatedAt: ts("2026-02-25T00:00:00Z")},
			{ID: "o4", CustomerID: "", TotalPrice: "10", CreatedAt: ts("2026-02-25T00:00:00Z")},
		},
	}
}

func TestEngineRun_FromOrders(t *testing.T) {
	src := shopFixture()
	e := newTestEngine(src, nil)

	rep, err := e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: SchemeRFM, WithCustomers: true})
	require.NoError(t, err)
	assert.False(t, rep.Degraded)
	assert.False(t, rep.Persisted)
	assert.Equal(t, 3, rep.TotalCustomers)
	require.Len(t, rep.Customers, 3)

	// c1: 2 orders, 1200 spent, 9 days -> r5 f2 m5
	assert.Equal(t, BigSpenders, rep.Customers[0].Label)
	assert.Equal(t, NewCustomers, rep.Customers[1].Label)
	assert.Equal(t, Others, rep.Customers[2].Label)
	assert.Equal(t, 2, rep.Customers[2].DaysSinceLastOrder)

	total := 0
	for _, s := range rep.Segments {
		total += s.CustomerCount
	}
	assert.Equal(t, rep.TotalCustomers, total)
}

func TestEngineRun_RangeIsPassedToSource(t *testing.T) {
	src := shopFixture()
	e := newTestEngine(src, nil)
	r, err := ParseDateRange("2026-02-01", "2026-02-28")
	require.NoError(t, err)

	rep, err := e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: SchemeRFM, Range: r, WithCustomers: true})
	require.NoError(t, err)
	assert.Equal(t, r, src.lastRange)
	assert.Equal(t, 1, rep.Customers[0].OrderCount)
	assert.Equal(t, 600.0, rep.Customers[0].TotalSpent)
}

func TestEngineRun_Rollups(t *testing.T) {
	src := shopFixture()
	e := newTestEngine(src, nil)

	rep, err := e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: SchemeRFM, UseRollups: true, WithCustomers: true})
	require.NoError(t, err)
	assert.Zero(t, src.ordersCalls)
	assert.Equal(t, Champions, rep.Customers[0].Label)
	assert.Equal(t, 0.95, rep.Customers[0].Confidence)
}

func TestEngineRun_PersistAndReload(t *testing.T) {
	store := &fakeStore{}
	e := newTestEngine(shopFixture(), store)

	rep, err := e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: SchemeLifecycle, Persist: true})
	require.NoError(t, err)
	assert.True(t, rep.Persisted)
	assert.Nil(t, rep.Customers)
	assert.Len(t, store.saved[key("demo.myshopify.com", SchemeLifecycle)], 3)

	saved, err := e.Saved(context.Background(), "demo.myshopify.com", SchemeLifecycle)
	require.NoError(t, err)
	assert.True(t, saved.Persisted)
	assert.Equal(t, rep.Segments, saved.Segments)

	empty, err := e.Saved(context.Background(), "other.myshopify.com", SchemeLifecycle)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalCustomers)
	assert.Empty(t, empty.Segments)
}

func TestEngineRun_SourceFailureDegrades(t *testing.T) {
	src := shopFixture()
	src.err = errors.New("throttled")
	store := &fakeStore{}
	e := newTestEngine(src, store)

	rep, err := e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: SchemeRFM, Persist: true})
	require.NoError(t, err)
	assert.True(t, rep.Degraded)
	assert.False(t, rep.Persisted)
	assert.Zero(t, rep.TotalCustomers)
	assert.NotNil(t, rep.Segments)
	assert.Empty(t, rep.Segments)
	assert.Empty(t, store.saved)
}

func TestEngineRun_SaveFailureIsReturned(t *testing.T) {
	boom := errors.New("conditional check failed")
	e := newTestEngine(shopFixture(), &fakeStore{saveErr: boom})

	rep, err := e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: SchemeRFM, Persist: true})
	require.ErrorIs(t, err, boom)
	require.NotNil(t, rep)
	assert.False(t, rep.Persisted)
	assert.Equal(t, 3, rep.TotalCustomers)
}

func TestEngineRun_Validation(t *testing.T) {
	e := newTestEngine(shopFixture(), nil)

	_, err := e.Run(context.Background(), RunRequest{Tenant: "  ", Scheme: SchemeRFM})
	assert.ErrorIs(t, err, ErrMissingTenant)

	_, err = e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: "kmeans"})
	assert.ErrorIs(t, err, ErrUnknownScheme)

	_, err = e.Run(context.Background(), RunRequest{Tenant: "demo.myshopify.com", Scheme: SchemeRFM, Persist: true})
	assert.Error(t, err)
}

func TestEngineRun_EmptyTenant(t *testing.T) {
	e := newTestEngine(&fakeSource{}, nil)
	rep, err := e.Run(context.Background(), RunRequest{Tenant: "new.myshopify.com", Scheme: SchemeLifecycle})
	require.NoError(t, err)
	assert.Zero(t, rep.TotalCustomers)
	assert.NotNil(t, rep.Segments)
	assert.Empty(t, rep.Segments)
}
