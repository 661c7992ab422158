package shopify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shopmetrics/internal/db"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrInvalidState = errors.New("invalid or expired state")

const stateTTL = 10 * time.Minute

// States holds OAuth state nonces keyed by State, expiring via ExpiresAtEpoch.
type States struct {
	DDB   db.Client
	Table string
	Now   func() time.Time
}

func NewStates(c db.Client, table string) *States {
	return &States{DDB: c, Table: table, Now: time.Now}
}

func stateKey(state string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"State": db.S(state)}
}

// Issue stores a fresh nonce for (sub, shop) and returns it.
func (s *States) Issue(ctx context.Context, sub, shop string) (string, error) {
	if strings.TrimSpace(s.Table) == "" {
		return "", errors.New("OAUTH_STATE_TABLE not set")
	}
	state, err := RandomState(24)
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	exp := s.Now().UTC().Add(stateTTL).Unix()
	_, err = s.DDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.Table),
		Item: map[string]types.AttributeValue{
			"State":          db.S(state),
			"UserSub":        db.S(sub),
			"Shop":           db.S(shop),
			"ExpiresAtEpoch": &types.AttributeValueMemberN{Value: strconv.FormatInt(exp, 10)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, nil
}

// Consume deletes the nonce and validates what it held against the
// callback's shop. The conditional delete is the single-use check, so two
// callbacks racing on one state cannot both succeed. A state presented with
// the wrong shop is burned as well.
func (s *States) Consume(ctx context.Context, state, shop string) (string, error) {
	out, err := s.DDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.Table),
		Key:                 stateKey(state),
		ConditionExpression: aws.String("attribute_exists(State)"),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return "", ErrInvalidState
		}
		return "", fmt.Errorf("consume oauth state: %w", err)
	}
	if out.Attributes == nil {
		return "", ErrInvalidState
	}

	if n, ok := out.Attributes["ExpiresAtEpoch"].(*types.AttributeValueMemberN); ok {
		if exp, err := strconv.ParseInt(n.Value, 10, 64); err == nil && exp < s.Now().UTC().Unix() {
			return "", ErrInvalidState
		}
	}
	sub := db.AttrS(out.Attributes["UserSub"])
	if sub == "" || db.AttrS(out.Attributes["Shop"]) != shop {
		return "", fmt.Errorf("%w: shop mismatch", ErrInvalidState)
	}
	return sub, nil
}
