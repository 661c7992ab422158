package users

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shopmetrics/internal/db"
	"shopmetrics/internal/segment"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Baselines keeps the at-risk share the scheduled refresh last alerted
// against, one row per (shop, scheme) with PK = BASELINE#<shop>#<scheme>.
// Only the refresh writes it; webhook and sync persists never move it.
type Baselines struct {
	DDB   db.Client
	Table string
}

func NewBaselines(c db.Client, table string) *Baselines {
	return &Baselines{DDB: c, Table: table}
}

func baselinePK(shop string, scheme segment.Scheme) string {
	return fmt.Sprintf("BASELINE#%s#%s", shop, scheme)
}

// Load returns ok=false when the refresh has not run for the shop yet.
func (b *Baselines) Load(ctx context.Context, shop string, scheme segment.Scheme) (float64, bool, error) {
	if strings.TrimSpace(b.Table) == "" {
		return 0, false, nil
	}
	out, err := b.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(b.Table),
		Key:       map[string]types.AttributeValue{"PK": db.S(baselinePK(shop, scheme))},
	})
	if err != nil {
		return 0, false, fmt.Errorf("load alert baseline: %w", err)
	}
	if out.Item == nil {
		return 0, false, nil
	}
	n, ok := out.Item["AtRiskShare"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, false, nil
	}
	share, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, false, nil
	}
	return share, true, nil
}

// Store records the share of a completed refresh run. A run without
// customers leaves the previous baseline in place.
func (b *Baselines) Store(ctx context.Context, rep *segment.Report) error {
	if strings.TrimSpace(b.Table) == "" || rep == nil || rep.TotalCustomers == 0 {
		return nil
	}
	_, err := b.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(b.Table),
		Item: map[string]types.AttributeValue{
			"PK":          db.S(baselinePK(rep.Tenant, rep.Scheme)),
			"AtRiskShare": &types.AttributeValueMemberN{Value: strconv.FormatFloat(AtRiskShare(rep), 'f', -1, 64)},
			"Customers":   &types.AttributeValueMemberN{Value: strconv.Itoa(rep.TotalCustomers)},
			"UpdatedAt":   db.S(rep.GeneratedAt.UTC().Format(time.RFC3339)),
		},
	})
	if err != nil {
		return fmt.Errorf("store alert baseline: %w", err)
	}
	return nil
}
