package insights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"shopmetrics/internal/db"
	"shopmetrics/internal/segment"
)

const defaultTTL = 600 * time.Second

type CacheClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// Cache keeps one answer per (shop, scheme, segment fingerprint). Items carry
// ExpiresAt for the table's TTL; expired items that TTL has not reaped yet
// are treated as misses.
type Cache struct {
	DDB   CacheClient
	Table string
	TTL   time.Duration
	Now   func() time.Time
}

func NewCache(c CacheClient, table string, ttlSeconds int) *Cache {
	ttl := time.Duration(ttlSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{DDB: c, Table: table, TTL: ttl, Now: time.Now}
}

func (c *Cache) enabled() bool { return c != nil && c.DDB != nil && strings.TrimSpace(c.Table) != "" }

// Fingerprint changes whenever any summary changes, so a refreshed report
// never serves stale advice.
func Fingerprint(rep *segment.Report) string {
	parts := make([]string, 0, len(rep.Segments)+1)
	parts = append(parts, "scheme="+string(rep.Scheme))
	for _, s := range rep.Segments {
		parts = append(parts, fmt.Sprintf("%s=%d/%.2f/%.2f", s.Label, s.CustomerCount, s.TotalRevenue, s.AvgOrderValue))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func cacheKey(rep *segment.Report) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{
		"PK": db.S(db.ShopPK(rep.Tenant)),
		"SK": db.S("INSIGHT#" + Fingerprint(rep)),
	}
}

func (c *Cache) Get(ctx context.Context, rep *segment.Report) (*Result, bool, error) {
	if !c.enabled() {
		return nil, false, nil
	}
	out, err := c.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.Table),
		Key:            cacheKey(rep),
		ConsistentRead: aws.Bool(false),
	})
	if err != nil {
		return nil, false, fmt.Errorf("cache GetItem: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	if n, ok := out.Item["ExpiresAt"].(*ddbtypes.AttributeValueMemberN); ok {
		exp, err := strconv.ParseInt(n.Value, 10, 64)
		if err == nil && exp <= c.Now().UTC().Unix() {
			return nil, false, nil
		}
	}
	payload, ok := out.Item["Payload"].(*ddbtypes.AttributeValueMemberS)
	if !ok {
		return nil, false, nil
	}
	var res Result
	if err := json.Unmarshal([]byte(payload.Value), &res); err != nil {
		return nil, false, nil
	}
	return &res, true, nil
}

func (c *Cache) Put(ctx context.Context, rep *segment.Report, res *Result) error {
	if !c.enabled() {
		return nil
	}
	b, _ := json.Marshal(res)
	now := c.Now().UTC()

	item := cacheKey(rep)
	item["Payload"] = db.S(string(b))
	item["CreatedAt"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)}
	item["ExpiresAt"] = &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(now.Add(c.TTL).Unix(), 10)}

	_, err := c.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.Table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("cache PutItem: %w", err)
	}
	return nil
}
