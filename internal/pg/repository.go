package pg

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"shopmetrics/internal/segment"
)

const insertBatchSize = 500

// Repository is the Postgres source, store and webhook writer for segments.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

func (r *Repository) Customers(ctx context.Context, tenant string) ([]segment.Customer, error) {
	var rows []customerModel
	if err := r.db.WithContext(ctx).
		Where("shop_id = ?", tenant).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	out := make([]segment.Customer, 0, len(rows))
	for _, m := range rows {
		out = append(out, customerFromModel(m))
	}
	return out, nil
}

// Orders applies the date range in SQL; both ends are inclusive.
func (r *Repository) Orders(ctx context.Context, tenant string, rng segment.DateRange) ([]segment.Order, error) {
	q := r.db.WithContext(ctx).Where("shop_id = ?", tenant)
	if rng.Start != nil {
		q = q.Where("created_at >= ?", *rng.Start)
	}
	if rng.End != nil {
		q = q.Where("created_at <= ?", *rng.End)
	}
	var rows []orderModel
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	out := make([]segment.Order, 0, len(rows))
	for _, m := range rows {
		out = append(out, orderFromModel(m))
	}
	return out, nil
}

// Save replaces the tenant's rows for one scheme inside a single transaction,
// so readers see either the previous classification or the new one.
func (r *Repository) Save(ctx context.Context, tenant string, scheme segment.Scheme, records []segment.Classified) error {
	now := r.now().UTC()
	models := make([]clusterModel, 0, len(records))
	for _, c := range records {
		row, err := segment.ToRow(tenant, scheme, c, now)
		if err != nil {
			return err
		}
		models = append(models, clusterToModel(row))
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("tenant_id = ? AND scheme = ?", tenant, string(scheme)).
			Delete(&clusterModel{}).Error; err != nil {
			return fmt.Errorf("delete previous clusters: %w", err)
		}
		if len(models) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(&models, insertBatchSize).Error; err != nil {
			return fmt.Errorf("insert clusters: %w", err)
		}
		return nil
	})
}

func (r *Repository) Load(ctx context.Context, tenant string, scheme segment.Scheme) ([]segment.Classified, error) {
	var rows []clusterModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND scheme = ?", tenant, string(scheme)).
		Order("customer_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("select clusters: %w", err)
	}
	out := make([]segment.Classified, 0, len(rows))
	for _, m := range rows {
		c, err := segment.FromRow(clusterFromModel(m))
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *Repository) UpsertCustomer(ctx context.Context, tenant string, c segment.Customer) error {
	m := customerToModel(tenant, c, r.now().UTC())
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "shop_id"}, {Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"total_spent":     m.TotalSpent,
			"orders_count":    m.OrdersCount,
			// customers/* payloads carry no last order date; keep the synced one
			"last_order_date": gorm.Expr("COALESCE(EXCLUDED.last_order_date, customers.last_order_date)"),
			"created_at":      gorm.Expr("COALESCE(EXCLUDED.created_at, customers.created_at)"),
			"updated_at":      m.UpdatedAt,
		}),
	}).Create(&m).Error
}

func (r *Repository) UpsertOrder(ctx context.Context, tenant string, o segment.Order) error {
	m := orderToModel(tenant, o, r.now().UTC())
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "shop_id"}, {Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"customer_id": m.CustomerID,
			"total_price": m.TotalPrice,
			"created_at":  m.CreatedAt,
			"updated_at":  m.UpdatedAt,
		}),
	}).Create(&m).Error
}
