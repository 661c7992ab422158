package pg

import (
	"strings"
	"time"

	"shopmetrics/internal/segment"
)

func customerFromModel(m customerModel) segment.Customer {
	return segment.Customer{
		ID:            m.ID,
		TotalSpent:    m.TotalSpent,
		OrdersCount:   m.OrdersCount,
		LastOrderDate: m.LastOrderDate,
		CreatedAt:     m.CreatedAt,
	}
}

func customerToModel(shop string, c segment.Customer, now time.Time) customerModel {
	spent := strings.TrimSpace(c.TotalSpent)
	if spent == "" {
		spent = "0"
	}
	return customerModel{
		ShopID:        shop,
		ID:            c.ID,
		TotalSpent:    spent,
		OrdersCount:   c.OrdersCount,
		LastOrderDate: c.LastOrderDate,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     now,
	}
}

func orderFromModel(m orderModel) segment.Order {
	o := segment.Order{ID: m.ID, TotalPrice: m.TotalPrice, CreatedAt: m.CreatedAt}
	if m.CustomerID != nil {
		o.CustomerID = *m.CustomerID
	}
	return o
}

func orderToModel(shop string, o segment.Order, now time.Time) orderModel {
	m := orderModel{
		ShopID:     shop,
		ID:         o.ID,
		TotalPrice: strings.TrimSpace(o.TotalPrice),
		CreatedAt:  o.CreatedAt.UTC(),
		UpdatedAt:  now,
	}
	if m.TotalPrice == "" {
		m.TotalPrice = "0"
	}
	if cid := strings.TrimSpace(o.CustomerID); cid != "" {
		m.CustomerID = &cid
	}
	return m
}

func clusterToModel(r segment.Row) clusterModel {
	return clusterModel{
		TenantID:        r.TenantID,
		Scheme:          string(r.Scheme),
		CustomerID:      r.CustomerID,
		ClusterLabel:    string(r.ClusterLabel),
		ClusterFeatures: r.Features,
		Confidence:      r.Confidence,
		UpdatedAt:       r.UpdatedAt,
	}
}

func clusterFromModel(m clusterModel) segment.Row {
	return segment.Row{
		TenantID:     m.TenantID,
		Scheme:       segment.Scheme(m.Scheme),
		CustomerID:   m.CustomerID,
		ClusterLabel: segment.Label(m.ClusterLabel),
		Features:     m.ClusterFeatures,
		Confidence:   m.Confidence,
		UpdatedAt:    m.UpdatedAt,
	}
}
