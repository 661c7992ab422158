package pg

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"

	"shopmetrics/internal/segment"
)

func TestUpsertCustomer_KeepsStoredLastOrderDate(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	gdb, err := Open(postgres.New(postgres.Config{Conn: sqlDB}))
	require.NoError(t, err)

	repo := NewRepository(gdb)
	repo.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "customers" .*ON CONFLICT .*DO UPDATE SET .*` +
		regexp.QuoteMeta(`"last_order_date"=COALESCE(EXCLUDED.last_order_date, customers.last_order_date)`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// a customers/update payload: rollups only, no last order date
	err = repo.UpsertCustomer(context.Background(), "demo.myshopify.com", segment.Customer{ID: "7", TotalSpent: "1500.00", OrdersCount: 12})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
