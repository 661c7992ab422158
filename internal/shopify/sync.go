package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"shopmetrics/internal/segment"
)

// Sink receives synced rows. Both store backends implement it.
type Sink interface {
	UpsertCustomer(ctx context.Context, shop string, c segment.Customer) error
	UpsertOrder(ctx context.Context, shop string, o segment.Order) error
}

// APIError is a non-2xx status or a GraphQL error list from Shopify.
type APIError struct {
	Status   int
	Messages []string
}

func (e *APIError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("shopify graphql returned errors: %s", strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("shopify error status %d", e.Status)
}

type SyncResult struct {
	Customers  int    `json:"customers"`
	Orders     int    `json:"orders"`
	Skipped    int    `json:"skipped"`
	LastSyncAt string `json:"lastSyncAt"`
}

type pageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type connection[N any] struct {
	Edges []struct {
		Node N `json:"node"`
	} `json:"edges"`
	PageInfo pageInfo `json:"pageInfo"`
}

type money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type customerNode struct {
	ID             string      `json:"id"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
	NumberOfOrders json.Number `json:"numberOfOrders"`
	AmountSpent    money       `json:"amountSpent"`
	LastOrder      *struct {
		CreatedAt string `json:"createdAt"`
	} `json:"lastOrder"`
}

type customersPage struct {
	Customers connection[customerNode] `json:"customers"`
}

type orderNode struct {
	ID          string `json:"id"`
	CreatedAt   string `json:"createdAt"`
	ProcessedAt string `json:"processedAt"`
	UpdatedAt   string `json:"updatedAt"`
	Customer    *struct {
		ID string `json:"id"`
	} `json:"customer"`
	TotalPriceSet struct {
		ShopMoney money `json:"shopMoney"`
	} `json:"totalPriceSet"`
}

type ordersPage struct {
	Orders connection[orderNode] `json:"orders"`
}

const customersQuery = `
query CustomersSync($first: Int!, $after: String, $q: String) {
  customers(first: $first, after: $after, query: $q, sortKey: UPDATED_AT) {
    edges {
      node {
        id
        createdAt
        updatedAt
        numberOfOrders
        amountSpent { amount currencyCode }
        lastOrder { createdAt }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const ordersQuery = `
query OrdersSync($first: Int!, $after: String, $q: String) {
  orders(first: $first, after: $after, query: $q, sortKey: UPDATED_AT) {
    edges {
      node {
        id
        createdAt
        processedAt
        updatedAt
        customer { id }
        totalPriceSet { shopMoney { amount currencyCode } }
      }
    }
    pageInfo { hasNextPage endCursor }
  }
}`

// Sync pulls customers and orders updated at or after since (everything when
// since is empty) and upserts them into sink. limit caps each entity.
func (c *Client) Sync(ctx context.Context, shop, accessToken, since string, limit int, sink Sink) (SyncResult, error) {
	res := SyncResult{LastSyncAt: since}
	filter := ""
	if since != "" {
		filter = fmt.Sprintf("updated_at:>=%s", since)
	}
	advance := func(updatedAt string) {
		if updatedAt != "" && updatedAt > res.LastSyncAt {
			res.LastSyncAt = updatedAt
		}
	}

	err := eachPage(ctx, c, shop, accessToken, customersQuery, filter, limit,
		func(p customersPage) connection[customerNode] { return p.Customers },
		func(n customerNode) error {
			advance(n.UpdatedAt)
			cust := segment.Customer{
				ID:          GIDTail(n.ID),
				TotalSpent:  n.AmountSpent.Amount,
				OrdersCount: intOf(n.NumberOfOrders),
			}
			if t := parseShopifyTime(n.CreatedAt); !t.IsZero() {
				cust.CreatedAt = &t
			}
			if n.LastOrder != nil {
				if t := parseShopifyTime(n.LastOrder.CreatedAt); !t.IsZero() {
					cust.LastOrderDate = &t
				}
			}
			if err := sink.UpsertCustomer(ctx, shop, cust); err != nil {
				return err
			}
			res.Customers++
			return nil
		})
	if err != nil {
		return res, fmt.Errorf("sync customers: %w", err)
	}

	err = eachPage(ctx, c, shop, accessToken, ordersQuery, filter, limit,
		func(p ordersPage) connection[orderNode] { return p.Orders },
		func(n orderNode) error {
			advance(n.UpdatedAt)
			created := parseShopifyTime(n.CreatedAt)
			if created.IsZero() {
				created = parseShopifyTime(n.ProcessedAt)
			}
			if created.IsZero() {
				res.Skipped++
				return nil
			}
			o := segment.Order{
				ID:         GIDTail(n.ID),
				TotalPrice: n.TotalPriceSet.ShopMoney.Amount,
				CreatedAt:  created,
			}
			if n.Customer != nil {
				o.CustomerID = GIDTail(n.Customer.ID)
			}
			if err := sink.UpsertOrder(ctx, shop, o); err != nil {
				return err
			}
			res.Orders++
			return nil
		})
	if err != nil {
		return res, fmt.Errorf("sync orders: %w", err)
	}
	return res, nil
}

// eachPage walks a cursor-paginated connection until limit nodes were visited.
func eachPage[P any, N any](ctx context.Context, c *Client, shop, accessToken, query, filter string, limit int, conn func(P) connection[N], fn func(N) error) error {
	seen := 0
	var after *string
	for seen < limit {
		first := 50
		if limit-seen < first {
			first = limit - seen
		}
		vars := map[string]any{"first": first, "after": after}
		if filter != "" {
			vars["q"] = filter
		}

		resp, status, err := PostGraphQL[P](ctx, c, shop, accessToken, query, vars)
		if err != nil {
			return fmt.Errorf("shopify request failed: %w", err)
		}
		if status < 200 || status >= 300 {
			return &APIError{Status: status}
		}
		if len(resp.Errors) > 0 {
			return &APIError{Status: status, Messages: ErrorMessages(resp.Errors)}
		}

		page := conn(resp.Data)
		if len(page.Edges) == 0 {
			return nil
		}
		for _, e := range page.Edges {
			if err := fn(e.Node); err != nil {
				return err
			}
			seen++
			if seen >= limit {
				return nil
			}
		}
		if !page.PageInfo.HasNextPage || page.PageInfo.EndCursor == "" {
			return nil
		}
		cursor := page.PageInfo.EndCursor
		after = &cursor
	}
	return nil
}
