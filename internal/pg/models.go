package pg

import (
	"time"

	"gorm.io/datatypes"
)

type customerModel struct {
	ShopID        string     `gorm:"column:shop_id;primaryKey"`
	ID            string     `gorm:"column:id;primaryKey"`
	TotalSpent    string     `gorm:"column:total_spent;type:numeric"`
	OrdersCount   int        `gorm:"column:orders_count"`
	LastOrderDate *time.Time `gorm:"column:last_order_date"`
	CreatedAt     *time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (customerModel) TableName() string { return "customers" }

type orderModel struct {
	ShopID     string    `gorm:"column:shop_id;primaryKey"`
	ID         string    `gorm:"column:id;primaryKey"`
	CustomerID *string   `gorm:"column:customer_id"`
	TotalPrice string    `gorm:"column:total_price;type:numeric"`
	CreatedAt  time.Time `gorm:"column:created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "orders" }

type clusterModel struct {
	TenantID        string         `gorm:"column:tenant_id;primaryKey"`
	Scheme          string         `gorm:"column:scheme;primaryKey"`
	CustomerID      string         `gorm:"column:customer_id;primaryKey"`
	ClusterLabel    string         `gorm:"column:cluster_label"`
	ClusterFeatures datatypes.JSON `gorm:"column:cluster_features;type:jsonb"`
	Confidence      float64        `gorm:"column:confidence"`
	UpdatedAt       time.Time      `gorm:"column:updated_at"`
}

func (clusterModel) TableName() string { return "customer_clusters" }
