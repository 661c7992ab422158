package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type DDBClient interface {
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// ErrForbidden means the caller has no link to the requested shop.
var ErrForbidden = errors.New("shop not linked to user")

// ErrInvalidShop means the value is not a <name>.myshopify.com domain.
var ErrInvalidShop = errors.New("invalid shop (expected like your-store.myshopify.com)")

// Directory answers which shops a Cognito user may read, from the
// shop-to-user mapping table (PK SHOP#domain, SK USER#sub).
type Directory struct {
	DDB       DDBClient
	Table     string
	UserIndex string
}

func NewDirectory(ddb DDBClient, table, userIndex string) *Directory {
	if strings.TrimSpace(userIndex) == "" {
		userIndex = "GSI_UserSub"
	}
	return &Directory{DDB: ddb, Table: table, UserIndex: userIndex}
}

func (d *Directory) AllowedShops(ctx context.Context, userSub string) ([]string, error) {
	userSub = strings.TrimSpace(userSub)
	if userSub == "" {
		return nil, fmt.Errorf("empty userSub")
	}
	if d.Table == "" {
		return nil, fmt.Errorf("missing SHOP_TO_USER_TABLE")
	}

	shops := make([]string, 0, 4)
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := d.DDB.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.Table),
			IndexName:              aws.String(d.UserIndex),
			KeyConditionExpression: aws.String("#u = :u"),
			ExpressionAttributeNames: map[string]string{
				"#u": "UserSub",
				"#s": "Shop",
			},
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":u": &ddbtypes.AttributeValueMemberS{Value: userSub},
			},
			ProjectionExpression: aws.String("#s"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb query %s failed: %w", d.UserIndex, err)
		}
		shops = append(shops, shopsOf(out.Items)...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return uniqueStrings(shops), nil
}

// Authorize returns the normalized shop domain when userSub is linked to it.
func (d *Directory) Authorize(ctx context.Context, userSub, shop string) (string, error) {
	shop = NormalizeShop(shop)
	if !strings.HasSuffix(shop, ".myshopify.com") || strings.ContainsAny(shop, "/ '") {
		return "", ErrInvalidShop
	}
	allowed, err := d.AllowedShops(ctx, userSub)
	if err != nil {
		return "", err
	}
	for _, s := range allowed {
		if NormalizeShop(s) == shop {
			return shop, nil
		}
	}
	return "", ErrForbidden
}

// AllShops scans the mapping table for every connected shop. Used by the
// scheduled refresh and backfill jobs.
func (d *Directory) AllShops(ctx context.Context) ([]string, error) {
	shops := make([]string, 0, 64)
	var startKey map[string]ddbtypes.AttributeValue
	for {
		out, err := d.DDB.Scan(ctx, &dynamodb.ScanInput{
			TableName:            aws.String(d.Table),
			ExclusiveStartKey:    startKey,
			ProjectionExpression: aws.String("#shop"),
			ExpressionAttributeNames: map[string]string{
				"#shop": "Shop",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan %s: %w", d.Table, err)
		}
		shops = append(shops, shopsOf(out.Items)...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	return uniqueStrings(shops), nil
}

// NormalizeShop lowercases and trims a shop domain.
func NormalizeShop(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func shopsOf(items []map[string]ddbtypes.AttributeValue) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if v, ok := it["Shop"]; ok {
			if sv, ok2 := v.(*ddbtypes.AttributeValueMemberS); ok2 {
				val := strings.TrimSpace(sv.Value)
				if val != "" {
					out = append(out, val)
				}
			}
		}
	}
	return out
}

func uniqueStrings(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		k := strings.ToLower(strings.TrimSpace(v))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}
