package tenancy

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type link struct{ shop, sub string }

type fakeDDB struct {
	links   []link
	err     error
	queries int
}

func item(shop string) map[string]ddbtypes.AttributeValue {
	return map[string]ddbtypes.AttributeValue{"Shop": &ddbtypes.AttributeValueMemberS{Value: shop}}
}

func (f *fakeDDB) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queries++
	if f.err != nil {
		return nil, f.err
	}
	sub := in.ExpressionAttributeValues[":u"].(*ddbtypes.AttributeValueMemberS).Value
	out := &dynamodb.QueryOutput{}
	for _, l := range f.links {
		if l.sub == sub {
			out.Items = append(out.Items, item(l.shop))
		}
	}
	return out, nil
}

// Scan returns one link per page.
func (f *fakeDDB) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := 0
	if in.ExclusiveStartKey != nil {
		for i < len(f.links) && f.links[i].shop != in.ExclusiveStartKey["Shop"].(*ddbtypes.AttributeValueMemberS).Value {
			i++
		}
		i++
	}
	if i >= len(f.links) {
		return &dynamodb.ScanOutput{}, nil
	}
	out := &dynamodb.ScanOutput{Items: []map[string]ddbtypes.AttributeValue{item(f.links[i].shop)}}
	if i+1 < len(f.links) {
		out.LastEvaluatedKey = item(f.links[i].shop)
	}
	return out, nil
}

func fixture() *fakeDDB {
	return &fakeDDB{links: []link{
		{"alpha.myshopify.com", "u1"},
		{"Alpha.myshopify.com", "u1"},
		{"beta.myshopify.com", "u1"},
		{"gamma.myshopify.com", "u2"},
	}}
}

func TestAllowedShops(t *testing.T) {
	d := NewDirectory(fixture(), "shop_to_user", "")
	assert.Equal(t, "GSI_UserSub", d.UserIndex)

	shops, err := d.AllowedShops(context.Background(), " u1 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.myshopify.com", "beta.myshopify.com"}, shops)

	_, err = d.AllowedShops(context.Background(), "")
	assert.Error(t, err)

	_, err = NewDirectory(fixture(), "", "").AllowedShops(context.Background(), "u1")
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	d := NewDirectory(fixture(), "shop_to_user", "GSI_UserSub")

	shop, err := d.Authorize(context.Background(), "u1", " BETA.myshopify.com ")
	require.NoError(t, err)
	assert.Equal(t, "beta.myshopify.com", shop)

	_, err = d.Authorize(context.Background(), "u1", "gamma.myshopify.com")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = d.Authorize(context.Background(), "u1", "")
	assert.ErrorIs(t, err, ErrInvalidShop)

	_, err = d.Authorize(context.Background(), "u1", "x' OR 1=1.myshopify.com")
	assert.ErrorIs(t, err, ErrInvalidShop)

	boom := errors.New("throttled")
	_, err = NewDirectory(&fakeDDB{err: boom}, "t", "").Authorize(context.Background(), "u1", "beta.myshopify.com")
	assert.ErrorIs(t, err, boom)
}

func TestAllShops(t *testing.T) {
	d := NewDirectory(fixture(), "shop_to_user", "")
	shops, err := d.AllShops(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha.myshopify.com", "beta.myshopify.com", "gamma.myshopify.com"}, shops)
}
