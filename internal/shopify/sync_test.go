package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shopmetrics/internal/segment"
)

type memSink struct {
	customers []segment.Customer
	orders    []segment.Order
	err       error
}

func (m *memSink) UpsertCustomer(_ context.Context, _ string, c segment.Customer) error {
	if m.err != nil {
		return m.err
	}
	m.customers = append(m.customers, c)
	return nil
}

func (m *memSink) UpsertOrder(_ context.Context, _ string, o segment.Order) error {
	if m.err != nil {
		return m.err
	}
	m.orders = append(m.orders, o)
	return nil
}

type gqlReq struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

// fakeAdmin serves two customer pages and one order page.
func fakeAdmin(t *testing.T, seen *[]gqlReq) *Client {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("X-Shopify-Access-Token"))
		assert.Equal(t, "/admin/api/2026-01/graphql.json", r.URL.Path)
		var req gqlReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*seen = append(*seen, req)

		switch {
		case strings.Contains(req.Query, "CustomersSync") && req.Variables["after"] == nil:
			w.Write([]byte(`{"data":{"customers":{"edges":[
			  {"node":{"id":"gid://shopify/Customer/1","createdAt":"2025-10-01T00:00:00Z","updatedAt":"2026-02-01T00:00:00Z","numberOfOrders":"3","amountSpent":{"amount":"300.00"},"lastOrder":{"createdAt":"2026-01-30T00:00:00Z"}}}
			],"pageInfo":{"hasNextPage":true,"endCursor":"c1"}}}}`))
		case strings.Contains(req.Query, "CustomersSync"):
			w.Write([]byte(`{"data":{"customers":{"edges":[
			  {"node":{"id":"gid://shopify/Customer/2","createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-02-03T00:00:00Z","numberOfOrders":"0","amountSpent":{"amount":"0.0"},"lastOrder":null}}
			],"pageInfo":{"hasNextPage":false,"endCursor":"c2"}}}}`))
		default:
			w.Write([]byte(`{"data":{"orders":{"edges":[
			  {"node":{"id":"gid://shopify/Order/10","createdAt":"2026-01-30T00:00:00Z","updatedAt":"2026-02-02T00:00:00Z","customer":{"id":"gid://shopify/Customer/1"},"totalPriceSet":{"shopMoney":{"amount":"100.00"}}}},
			  {"node":{"id":"gid://shopify/Order/11","createdAt":"","processedAt":"","updatedAt":"2026-02-02T00:00:00Z","customer":null,"totalPriceSet":{"shopMoney":{"amount":"5.00"}}}}
			],"pageInfo":{"hasNextPage":false,"endCursor":""}}}}`))
		}
	}))
	t.Cleanup(srv.Close)

	c := NewClient("")
	c.HTTP = srv.Client()
	c.BaseURL = func(string) string { return srv.URL }
	return c
}

func TestSync(t *testing.T) {
	var seen []gqlReq
	c := fakeAdmin(t, &seen)
	sink := &memSink{}

	res, err := c.Sync(context.Background(), "demo.myshopify.com", "tok", "2026-01-01T00:00:00Z", 100, sink)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Customers: 2, Orders: 1, Skipped: 1, LastSyncAt: "2026-02-03T00:00:00Z"}, res)

	require.Len(t, sink.customers, 2)
	assert.Equal(t, "1", sink.customers[0].ID)
	assert.Equal(t, 3, sink.customers[0].OrdersCount)
	require.NotNil(t, sink.customers[0].LastOrderDate)
	assert.Nil(t, sink.customers[1].LastOrderDate)

	require.Len(t, sink.orders, 1)
	assert.Equal(t, segment.Order{ID: "10", CustomerID: "1", TotalPrice: "100.00", CreatedAt: sink.orders[0].CreatedAt}, sink.orders[0])

	require.Len(t, seen, 3)
	assert.Equal(t, "updated_at:>=2026-01-01T00:00:00Z", seen[0].Variables["q"])
	assert.Equal(t, "c1", seen[1].Variables["after"])
}

func TestSync_Limit(t *testing.T) {
	var seen []gqlReq
	c := fakeAdmin(t, &seen)
	sink := &memSink{}

	res, err := c.Sync(context.Background(), "demo.myshopify.com", "tok", "", 1, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Customers)
	assert.Equal(t, 1, res.Orders)
	_, hasFilter := seen[0].Variables["q"]
	assert.False(t, hasFilter)
	assert.EqualValues(t, 1, seen[0].Variables["first"])
}

func TestSync_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null,"errors":[{"message":"Throttled","extensions":{"code":"THROTTLED"}}]}`))
	}))
	defer srv.Close()
	c := NewClient("2026-01")
	c.HTTP = srv.Client()
	c.BaseURL = func(string) string { return srv.URL }

	_, err := c.Sync(context.Background(), "demo.myshopify.com", "tok", "", 10, &memSink{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, []string{"Throttled (THROTTLED)"}, apiErr.Messages)

	var seen []gqlReq
	boom := errors.New("db down")
	_, err = fakeAdmin(t, &seen).Sync(context.Background(), "demo.myshopify.com", "tok", "", 10, &memSink{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestExchangeTokenAndSubscribe(t *testing.T) {
	var topics []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/oauth/access_token":
			w.Write([]byte(`{"access_token":"shpat_1","scope":"read_orders"}`))
		case "/admin/api/2026-01/webhooks.json":
			var body webhookCreateReq
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body.Webhook.Topic == "customers/update" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			topics = append(topics, body.Webhook.Topic)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := NewClient("2026-01")
	c.HTTP = srv.Client()
	c.BaseURL = func(string) string { return srv.URL }

	tok, scope, err := c.ExchangeToken(context.Background(), "demo.myshopify.com", "key", "secret", "code")
	require.NoError(t, err)
	assert.Equal(t, "shpat_1", tok)
	assert.Equal(t, "read_orders", scope)

	created, failed := c.SubscribeTopics(context.Background(), "demo.myshopify.com", tok, "arn:aws:events:partner")
	assert.Equal(t, []string{"orders/create", "orders/updated", "customers/create"}, created)
	require.Len(t, failed, 1)
	assert.Equal(t, "customers/update", failed[0]["topic"])
}
