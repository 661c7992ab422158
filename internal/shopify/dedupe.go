package shopify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopmetrics/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dedupe records are kept for 7 days (TTL attribute ExpiresAt)
const dedupeTTL = 7 * 24 * time.Hour

type Deduper struct {
	DDB   db.Client
	Table string
	Now   func() time.Time
}

func NewDeduper(c db.Client, table string) *Deduper {
	return &Deduper{DDB: c, Table: table, Now: time.Now}
}

// Claim returns (isDuplicate, error). If duplicate, caller should exit early.
func (d *Deduper) Claim(ctx context.Context, webhookID, shop, topic string) (bool, error) {
	if d == nil || strings.TrimSpace(d.Table) == "" {
		// If not configured, don't block processing
		return false, nil
	}
	webhookID = strings.TrimSpace(webhookID)
	if webhookID == "" {
		return false, nil
	}

	now := d.Now().UTC()
	_, err := d.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.Table),
		Item: map[string]types.AttributeValue{
			"PK":        db.S("WH#" + webhookID),
			"Shop":      db.S(shop),
			"Topic":     db.S(topic),
			"CreatedAt": db.S(now.Format(time.RFC3339)),
			"ExpiresAt": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(dedupeTTL).Unix())},
		},
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	})
	if err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// Release forgets a claim so a failed delivery can be processed on redelivery.
func (d *Deduper) Release(ctx context.Context, webhookID string) error {
	if d == nil || strings.TrimSpace(d.Table) == "" || strings.TrimSpace(webhookID) == "" {
		return nil
	}
	_, err := d.DDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.Table),
		Key:       map[string]types.AttributeValue{"PK": db.S("WH#" + strings.TrimSpace(webhookID))},
	})
	return err
}
