package shopify

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"shopmetrics/internal/segment"
)

var ErrUnsupportedTopic = errors.New("unsupported webhook topic")

// ErrMalformedPayload marks deliveries that can never be applied, however
// often they are redelivered.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Event is one webhook delivery, from either intake path.
type Event struct {
	Topic     string
	Shop      string
	WebhookID string
	Payload   json.RawMessage
}

type ebEvent struct {
	DetailType string `json:"detail-type"`
	Source     string `json:"source"`
	Time       string `json:"time"`
	Detail     struct {
		Metadata map[string]string `json:"metadata"`
		Payload  json.RawMessage   `json:"payload"`
	} `json:"detail"`
}

// ParseEventBridge unwraps the partner event bus envelope delivered via SQS.
func ParseEventBridge(body []byte) (Event, error) {
	var e ebEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return Event{}, fmt.Errorf("unmarshal eb event: %w", err)
	}
	meta := e.Detail.Metadata
	return Event{
		Topic:     strings.TrimSpace(meta["X-Shopify-Topic"]),
		Shop:      strings.ToLower(strings.TrimSpace(meta["X-Shopify-Shop-Domain"])),
		WebhookID: strings.TrimSpace(meta["X-Shopify-Webhook-Id"]),
		Payload:   e.Detail.Payload,
	}, nil
}

// IsOrderTopic and IsCustomerTopic split the subscribed topics by entity.
func IsOrderTopic(topic string) bool { return strings.HasPrefix(topic, "orders/") }
func IsCustomerTopic(topic string) bool { return strings.HasPrefix(topic, "customers/") }

func decode(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("empty payload")
	}
	return m, nil
}

// ParseOrder maps an orders/* payload. Guest checkouts come back with an
// empty CustomerID and are skipped by the extractor.
func ParseOrder(raw []byte) (segment.Order, error) {
	order, err := decode(raw)
	if err != nil {
		return segment.Order{}, fmt.Errorf("%w: order: %v", ErrMalformedPayload, err)
	}

	orderID := idString(pickAny(order, "id"))
	if orderID == "" {
		return segment.Order{}, fmt.Errorf("%w: missing order id", ErrMalformedPayload)
	}

	created := parseShopifyTime(pickString(order, "created_at", "processed_at", "updated_at"))
	if created.IsZero() {
		return segment.Order{}, fmt.Errorf("%w: order %s: missing created_at", ErrMalformedPayload, orderID)
	}

	return segment.Order{
		ID:         orderID,
		CustomerID: idString(pickAny(asMap(pickAny(order, "customer")), "id")),
		TotalPrice: extractOrderTotal(order),
		CreatedAt:  created,
	}, nil
}

// ParseCustomer maps a customers/* payload including the rollups Shopify keeps.
func ParseCustomer(raw []byte) (segment.Customer, error) {
	c, err := decode(raw)
	if err != nil {
		return segment.Customer{}, fmt.Errorf("%w: customer: %v", ErrMalformedPayload, err)
	}
	id := idString(pickAny(c, "id"))
	if id == "" {
		return segment.Customer{}, fmt.Errorf("%w: missing customer id", ErrMalformedPayload)
	}

	spent := pickString(c, "total_spent")
	if spent == "" {
		spent = pickString(asMap(pickAny(c, "amount_spent")), "amount")
	}

	out := segment.Customer{
		ID:          id,
		TotalSpent:  amountOrZero(spent),
		OrdersCount: intOf(pickAny(c, "orders_count", "number_of_orders")),
	}
	if t := parseShopifyTime(pickString(c, "created_at")); !t.IsZero() {
		out.CreatedAt = &t
	}
	return out, nil
}

// extractOrderTotal takes the first numeric total Shopify sent. Orders with
// none are stored at 0 rather than rejected.
func extractOrderTotal(order map[string]any) string {
	candidates := []string{
		pickString(order, "current_total_price"),
		pickString(order, "total_price"),
	}
	for _, k := range []string{"current_total_price_set", "total_price_set"} {
		candidates = append(candidates, pickString(asMap(asMap(pickAny(order, k))["shop_money"]), "amount"))
	}
	for _, s := range candidates {
		if v := amountOrZero(s); v != "0" {
			return v
		}
	}
	return "0"
}

// amountOrZero keeps a numeric money string as sent and maps anything else to "0".
func amountOrZero(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "0"
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "0"
	}
	return s
}

// parseShopifyTime returns the zero time when s is empty or malformed.
func parseShopifyTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// GIDTail turns gid://shopify/Order/123 into 123 so webhook and GraphQL ids match.
func GIDTail(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

func idString(v any) string {
	switch t := v.(type) {
	case json.Number:
		return t.String()
	case string:
		return GIDTail(strings.TrimSpace(t))
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func intOf(v any) int {
	switch t := v.(type) {
	case json.Number:
		n, _ := t.Int64()
		return int(n)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(t))
		return n
	case float64:
		return int(t)
	}
	return 0
}

func pickString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case json.Number:
				return s.String()
			}
		}
	}
	return ""
}

func pickAny(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			return v
		}
	}
	return nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
