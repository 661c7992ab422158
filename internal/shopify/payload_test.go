package shopify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventBridge(t *testing.T) {
	body := `{
	  "detail-type": "shopifyWebhook",
	  "source": "aws.partner/shopify.com/1/demo",
	  "detail": {
	    "metadata": {
	      "X-Shopify-Topic": "orders/create",
	      "X-Shopify-Shop-Domain": "Demo.myshopify.com",
	      "X-Shopify-Webhook-Id": "wh-1"
	    },
	    "payload": {"id": 5}
	  }
	}`
	ev, err := ParseEventBridge([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "orders/create", ev.Topic)
	assert.Equal(t, "demo.myshopify.com", ev.Shop)
	assert.Equal(t, "wh-1", ev.WebhookID)
	assert.JSONEq(t, `{"id":5}`, string(ev.Payload))

	_, err = ParseEventBridge([]byte("nope"))
	assert.Error(t, err)
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder([]byte(`{
	  "id": 820982911946154508,
	  "created_at": "2026-01-18T10:21:02-05:00",
	  "current_total_price": "199.00",
	  "total_price": "250.00",
	  "customer": {"id": 115310627314723954}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "820982911946154508", o.ID)
	assert.Equal(t, "115310627314723954", o.CustomerID)
	assert.Equal(t, "199.00", o.TotalPrice)
	assert.Equal(t, time.Date(2026, 1, 18, 15, 21, 2, 0, time.UTC), o.CreatedAt)
}

func TestParseOrder_Fallbacks(t *testing.T) {
	o, err := ParseOrder([]byte(`{
	  "id": "gid://shopify/Order/7",
	  "processed_at": "2026-02-01T00:00:00Z",
	  "total_price_set": {"shop_money": {"amount": "12.5", "currency_code": "EUR"}},
	  "customer": null
	}`))
	require.NoError(t, err)
	assert.Equal(t, "7", o.ID)
	assert.Equal(t, "", o.CustomerID)
	assert.Equal(t, "12.5", o.TotalPrice)

	_, err = ParseOrder([]byte(`{"created_at": "2026-02-01T00:00:00Z", "total_price": "1"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	_, err = ParseOrder([]byte(`{"id": 1, "total_price": "3"}`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
	_, err = ParseOrder([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestParseOrder_UnusableTotalIsZero(t *testing.T) {
	for name, body := range map[string]string{
		"missing": `{"id": 1, "created_at": "2026-02-01T00:00:00Z"}`,
		"text":    `{"id": 1, "created_at": "2026-02-01T00:00:00Z", "total_price": "N/A"}`,
		"nan":     `{"id": 1, "created_at": "2026-02-01T00:00:00Z", "total_price": "NaN"}`,
		"bad set": `{"id": 1, "created_at": "2026-02-01T00:00:00Z", "total_price_set": {"shop_money": {"amount": "free"}}}`,
	} {
		t.Run(name, func(t *testing.T) {
			o, err := ParseOrder([]byte(body))
			require.NoError(t, err)
			assert.Equal(t, "1", o.ID)
			assert.Equal(t, "0", o.TotalPrice)
		})
	}

	o, err := ParseOrder([]byte(`{"id": 2, "created_at": "2026-02-01T00:00:00Z", "total_price": "N/A", "total_price_set": {"shop_money": {"amount": "19.90"}}}`))
	require.NoError(t, err)
	assert.Equal(t, "19.90", o.TotalPrice)

	c, err := ParseCustomer([]byte(`{"id": 3, "total_spent": "unknown"}`))
	require.NoError(t, err)
	assert.Equal(t, "0", c.TotalSpent)
}

func TestParseCustomer(t *testing.T) {
	c, err := ParseCustomer([]byte(`{
	  "id": 706405506930370084,
	  "created_at": "2025-11-02T09:00:00Z",
	  "total_spent": "375.30",
	  "orders_count": 4
	}`))
	require.NoError(t, err)
	assert.Equal(t, "706405506930370084", c.ID)
	assert.Equal(t, "375.30", c.TotalSpent)
	assert.Equal(t, 4, c.OrdersCount)
	require.NotNil(t, c.CreatedAt)
	assert.Nil(t, c.LastOrderDate)

	c, err = ParseCustomer([]byte(`{"id": 9, "amount_spent": {"amount": "10.00"}, "number_of_orders": "2"}`))
	require.NoError(t, err)
	assert.Equal(t, "10.00", c.TotalSpent)
	assert.Equal(t, 2, c.OrdersCount)
	assert.Nil(t, c.CreatedAt)

	_, err = ParseCustomer([]byte(`{}`))
	assert.Error(t, err)
}

func TestTopics(t *testing.T) {
	assert.True(t, IsOrderTopic("orders/updated"))
	assert.True(t, IsCustomerTopic("customers/create"))
	assert.False(t, IsOrderTopic("refunds/create"))
	assert.Equal(t, "123", GIDTail("gid://shopify/Customer/123"))
}
