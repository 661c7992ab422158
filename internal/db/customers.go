package db

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"shopmetrics/internal/segment"
)

// PK = SHOP#<domain>, SK = CUSTOMER#<id>
type customerItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	CustomerID  string `dynamodbav:"CustomerId"`
	TotalSpent  string `dynamodbav:"TotalSpent"`
	OrdersCount int    `dynamodbav:"OrdersCount"`
	LastOrderAt string `dynamodbav:"LastOrderAt,omitempty"`
	CreatedAt   string `dynamodbav:"CreatedAt,omitempty"`
	UpdatedAt   string `dynamodbav:"UpdatedAt"`
}

// PK = SHOP#<domain>, SK = ORDER#<id>
type orderItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	OrderID    string `dynamodbav:"OrderId"`
	CustomerID string `dynamodbav:"CustomerId,omitempty"`
	TotalPrice string `dynamodbav:"TotalPrice"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
}

// ShopData reads and writes the per-shop customer and order tables.
type ShopData struct {
	DDB            Client
	CustomersTable string
	OrdersTable    string
	Now            func() time.Time
}

func NewShopData(c Client, t Tables) *ShopData {
	return &ShopData{DDB: c, CustomersTable: t.Customers, OrdersTable: t.Orders, Now: time.Now}
}

func (s *ShopData) Customers(ctx context.Context, shop string) ([]segment.Customer, error) {
	items, err := QueryAll(ctx, s.DDB, &dynamodb.QueryInput{
		TableName:              aws.String(s.CustomersTable),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": S(ShopPK(shop)),
			":sk": S("CUSTOMER#"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}

	var rows []customerItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal customers: %w", err)
	}
	out := make([]segment.Customer, 0, len(rows))
	for _, r := range rows {
		out = append(out, segment.Customer{
			ID:            r.CustomerID,
			TotalSpent:    r.TotalSpent,
			OrdersCount:   r.OrdersCount,
			LastOrderDate: parseTime(r.LastOrderAt),
			CreatedAt:     parseTime(r.CreatedAt),
		})
	}
	return out, nil
}

// Orders reads every order of the shop and applies the range in memory;
// CreatedAt strings are not guaranteed to compare lexically across offsets.
func (s *ShopData) Orders(ctx context.Context, shop string, r segment.DateRange) ([]segment.Order, error) {
	items, err := QueryAll(ctx, s.DDB, &dynamodb.QueryInput{
		TableName:              aws.String(s.OrdersTable),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": S(ShopPK(shop)),
			":sk": S("ORDER#"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var rows []orderItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal orders: %w", err)
	}
	out := make([]segment.Order, 0, len(rows))
	for _, row := range rows {
		created := parseTime(row.CreatedAt)
		if created == nil {
			continue
		}
		out = append(out, segment.Order{
			ID:         row.OrderID,
			CustomerID: row.CustomerID,
			TotalPrice: row.TotalPrice,
			CreatedAt:  *created,
		})
	}
	return segment.FilterOrders(out, r), nil
}

// UpsertCustomer updates the rollups in place. LastOrderAt and CreatedAt are
// only written when known: customers/* payloads carry no last order date and
// must not clear the one the sync stored.
func (s *ShopData) UpsertCustomer(ctx context.Context, shop string, c segment.Customer) error {
	sets := []string{"CustomerId = :cid", "TotalSpent = :ts", "OrdersCount = :oc", "UpdatedAt = :u"}
	vals := map[string]types.AttributeValue{
		":cid": S(c.ID),
		":ts":  S(strings.TrimSpace(c.TotalSpent)),
		":oc":  &types.AttributeValueMemberN{Value: strconv.Itoa(c.OrdersCount)},
		":u":   S(s.Now().UTC().Format(time.RFC3339)),
	}
	if v := formatTime(c.LastOrderDate); v != "" {
		sets = append(sets, "LastOrderAt = :lo")
		vals[":lo"] = S(v)
	}
	if v := formatTime(c.CreatedAt); v != "" {
		sets = append(sets, "CreatedAt = :ca")
		vals[":ca"] = S(v)
	}
	if _, err := s.DDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.CustomersTable),
		Key: map[string]types.AttributeValue{
			"PK": S(ShopPK(shop)),
			"SK": S("CUSTOMER#" + c.ID),
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: vals,
	}); err != nil {
		return fmt.Errorf("ddb update customer: %w", err)
	}
	return nil
}

func (s *ShopData) UpsertOrder(ctx context.Context, shop string, o segment.Order) error {
	created := o.CreatedAt.UTC()
	it := orderItem{
		PK:         ShopPK(shop),
		SK:         "ORDER#" + o.ID,
		OrderID:    o.ID,
		CustomerID: strings.TrimSpace(o.CustomerID),
		TotalPrice: strings.TrimSpace(o.TotalPrice),
		CreatedAt:  formatTime(&created),
		UpdatedAt:  s.Now().UTC().Format(time.RFC3339),
	}
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if _, err := s.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.OrdersTable),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("ddb put order: %w", err)
	}
	return nil
}

func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
