package shopify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shopmetrics/internal/db"
	"shopmetrics/internal/security"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotConnected = errors.New("shop not connected")

// IntegrationItem mirrors DynamoDB structure.
// PK = USER#<sub>, SK = SHOPIFY#<shopDomain>
type IntegrationItem struct {
	PK                 string `dynamodbav:"PK"`
	SK                 string `dynamodbav:"SK"`
	Provider           string `dynamodbav:"Provider"`
	Shop               string `dynamodbav:"Shop"`
	AccessTokenEnc     string `dynamodbav:"AccessTokenEnc"`
	Scope              string `dynamodbav:"Scope"`
	CreatedAt          string `dynamodbav:"CreatedAt"`
	LastSyncAt         string `dynamodbav:"LastSyncAt,omitempty"`
	LastEventAt        string `dynamodbav:"LastEventAt,omitempty"`
	LastEventTopic     string `dynamodbav:"LastEventTopic,omitempty"`
	LastEventWebhookID string `dynamodbav:"LastEventWebhookId,omitempty"`
}

// Integrations owns the per-user connection records and the
// SHOP#<domain> / USER#<sub> mapping rows.
type Integrations struct {
	DDB        db.Client
	Table      string
	ShopToUser string
	Cipher     *security.TokenCipher
	Now        func() time.Time
}

// NewIntegrations builds the token cipher. keyB64 may be empty for
// functions that never touch access tokens.
func NewIntegrations(c db.Client, t db.Tables, keyB64 string) (*Integrations, error) {
	in := &Integrations{DDB: c, Table: t.Integrations, ShopToUser: t.ShopToUser, Now: time.Now}
	if strings.TrimSpace(keyB64) != "" {
		c, err := security.NewTokenCipher(keyB64)
		if err != nil {
			return nil, fmt.Errorf("invalid TOKEN_ENC_KEY_B64: %w", err)
		}
		in.Cipher = c
	}
	return in, nil
}

func integrationKey(sub, shop string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": db.S(db.UserPK(sub)),
		"SK": db.S("SHOPIFY#" + shop),
	}
}

// Connect stores the encrypted access token and links the shop to the user.
func (in *Integrations) Connect(ctx context.Context, sub, shop, accessToken, scope string) error {
	if in.Cipher == nil {
		return errors.New("TOKEN_ENC_KEY_B64 not set")
	}
	if strings.TrimSpace(in.Table) == "" {
		return errors.New("INTEGRATIONS_TABLE not set")
	}
	enc, err := in.Cipher.Seal(shop, accessToken)
	if err != nil {
		return fmt.Errorf("encrypt token: %w", err)
	}
	now := in.Now().UTC().Format(time.RFC3339)

	av, err := attributevalue.MarshalMap(IntegrationItem{
		PK:             db.UserPK(sub),
		SK:             "SHOPIFY#" + shop,
		Provider:       "shopify",
		Shop:           shop,
		AccessTokenEnc: enc,
		Scope:          scope,
		CreatedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("marshal integration: %w", err)
	}
	if _, err := in.DDB.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(in.Table), Item: av}); err != nil {
		return fmt.Errorf("put integration: %w", err)
	}

	if in.ShopToUser == "" {
		return nil
	}
	_, err = in.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(in.ShopToUser),
		Item: map[string]types.AttributeValue{
			"PK":        db.S(db.ShopPK(shop)),
			"SK":        db.S(db.UserPK(sub)),
			"Shop":      db.S(shop),
			"UserSub":   db.S(sub),
			"CreatedAt": db.S(now),
		},
	})
	if err != nil {
		return fmt.Errorf("put shop mapping: %w", err)
	}
	return nil
}

// Token loads the integration record and decrypts the access token.
func (in *Integrations) Token(ctx context.Context, sub, shop string) (string, *IntegrationItem, error) {
	if sub == "" {
		return "", nil, errors.New("missing sub")
	}
	if shop == "" {
		return "", nil, errors.New("missing shop domain")
	}
	if in.Cipher == nil {
		return "", nil, errors.New("TOKEN_ENC_KEY_B64 not set")
	}

	out, err := in.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(in.Table),
		Key:       integrationKey(sub, shop),
	})
	if err != nil {
		return "", nil, fmt.Errorf("get integration: %w", err)
	}
	if out.Item == nil {
		return "", nil, fmt.Errorf("%w: %s", ErrNotConnected, shop)
	}

	var integ IntegrationItem
	if err := attributevalue.UnmarshalMap(out.Item, &integ); err != nil {
		return "", nil, err
	}
	enc := strings.TrimSpace(integ.AccessTokenEnc)
	if enc == "" {
		return "", nil, errors.New("no AccessTokenEnc on record")
	}
	token, err := in.Cipher.Open(shop, enc)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decrypt token: %w", err)
	}
	return token, &integ, nil
}

// List returns the shops connected by one user.
func (in *Integrations) List(ctx context.Context, sub string) ([]IntegrationItem, error) {
	items, err := db.QueryAll(ctx, in.DDB, &dynamodb.QueryInput{
		TableName:              aws.String(in.Table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": db.S(db.UserPK(sub)),
			":sk": db.S("SHOPIFY#"),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query integrations: %w", err)
	}
	var out []IntegrationItem
	if err := attributevalue.UnmarshalListOfMaps(items, &out); err != nil {
		return nil, fmt.Errorf("unmarshal integrations: %w", err)
	}
	for i := range out {
		out[i].AccessTokenEnc = ""
	}
	return out, nil
}

// Disconnect removes the user's record and mapping row. Stored customers,
// orders and segments are left in place.
func (in *Integrations) Disconnect(ctx context.Context, sub, shop string) error {
	if _, err := in.DDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(in.Table),
		Key:       integrationKey(sub, shop),
	}); err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if in.ShopToUser == "" {
		return nil
	}
	if _, err := in.DDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(in.ShopToUser),
		Key: map[string]types.AttributeValue{
			"PK": db.S(db.ShopPK(shop)),
			"SK": db.S(db.UserPK(sub)),
		},
	}); err != nil {
		return fmt.Errorf("delete shop mapping: %w", err)
	}
	return nil
}

// MarkSynced advances LastSyncAt so the next sync resumes from there.
func (in *Integrations) MarkSynced(ctx context.Context, sub, shop, at string) error {
	_, err := in.DDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(in.Table),
		Key:              integrationKey(sub, shop),
		UpdateExpression: aws.String("SET LastSyncAt = :t"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":t": db.S(at),
		},
	})
	return err
}

// UpdateLastEvent updates per-user, per-shop "last event received" fields on the integrations item.
func (in *Integrations) UpdateLastEvent(ctx context.Context, sub, shop, topic, webhookID string) error {
	if strings.TrimSpace(sub) == "" || strings.TrimSpace(shop) == "" {
		return fmt.Errorf("missing userSub/shopDomain")
	}

	// Only set webhook id if present (avoid storing empty string forever).
	updateExpr := "SET LastEventAt=:a, LastEventTopic=:t"
	exprVals := map[string]types.AttributeValue{
		":a": db.S(in.Now().UTC().Format(time.RFC3339)),
		":t": db.S(topic),
	}
	if strings.TrimSpace(webhookID) != "" {
		updateExpr += ", LastEventWebhookId=:w"
		exprVals[":w"] = db.S(webhookID)
	}

	_, err := in.DDB.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(in.Table),
		Key:                       integrationKey(sub, shop),
		UpdateExpression:          aws.String(updateExpr),
		ExpressionAttributeValues: exprVals,
	})
	return err
}

// UsersForShop lists the subs linked to a shop (SK = USER#<sub>).
func (in *Integrations) UsersForShop(ctx context.Context, shop string) ([]string, error) {
	if strings.TrimSpace(in.ShopToUser) == "" {
		return nil, fmt.Errorf("SHOP_TO_USER_TABLE not set")
	}
	items, err := db.QueryAll(ctx, in.DDB, &dynamodb.QueryInput{
		TableName:              aws.String(in.ShopToUser),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": db.S(db.ShopPK(shop)),
			":sk": db.S("USER#"),
		},
	})
	if err != nil {
		return nil, err
	}

	var subs []string
	for _, it := range items {
		if s := strings.TrimPrefix(db.AttrS(it["SK"]), "USER#"); s != "" {
			subs = append(subs, s)
		}
	}
	return subs, nil
}

// AnyToken returns a usable access token for the shop from whichever linked
// user has one. Background jobs have no signed-in user to borrow it from.
func (in *Integrations) AnyToken(ctx context.Context, shop string) (string, *IntegrationItem, error) {
	subs, err := in.UsersForShop(ctx, shop)
	if err != nil {
		return "", nil, err
	}
	for _, sub := range subs {
		tok, integ, err := in.Token(ctx, sub, shop)
		if err == nil {
			return tok, integ, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %s", ErrNotConnected, shop)
}

// Sub is the Cognito user owning the record.
func (it IntegrationItem) Sub() string {
	return strings.TrimPrefix(it.PK, "USER#")
}
