package db

import (
	"fmt"
	"strings"

	"shopmetrics/internal/config"
)

// Tables names every DynamoDB table the functions touch.
type Tables struct {
	Customers     string
	Orders        string
	Clusters      string
	Integrations  string
	OAuthState    string
	ShopToUser    string
	ShopToUserGSI string
	Users         string
	WebhookDedupe string
	InsightsCache string
	// AlertBaseline falls back to the Users table; its BASELINE# keys never
	// collide with USER# rows.
	AlertBaseline string
}

func TablesFrom(c *config.Config) Tables {
	baseline := c.AlertBaselineTable
	if strings.TrimSpace(baseline) == "" {
		baseline = c.UsersTable
	}
	return Tables{
		Customers:     c.CustomersTable,
		Orders:        c.OrdersTable,
		Clusters:      c.ClustersTable,
		Integrations:  c.IntegrationsTable,
		OAuthState:    c.OAuthStateTable,
		ShopToUser:    c.ShopToUserTable,
		ShopToUserGSI: c.ShopToUserGSI,
		Users:         c.UsersTable,
		WebhookDedupe: c.WebhookDedupeTable,
		InsightsCache: c.InsightsCacheTable,
		AlertBaseline: baseline,
	}
}

func ShopPK(shop string) string { return fmt.Sprintf("SHOP#%s", shop) }
func UserPK(sub string) string { return fmt.Sprintf("USER#%s", sub) }
