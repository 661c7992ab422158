// Package dbtest is an in-memory stand-in for the DynamoDB calls the
// repositories make. It understands only the expressions this module uses.
package dbtest

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type Memory struct {
	mu     sync.Mutex
	tables map[string]map[string]map[string]types.AttributeValue

	// PageSize > 0 splits Query and Scan results into pages.
	PageSize int
	// UnprocessedOnce makes the next BatchWriteItem call defer its last request.
	UnprocessedOnce bool
	// FailBatchWrite fails every BatchWriteItem call.
	FailBatchWrite error
	// FailQuery fails every Query call.
	FailQuery error

	BatchCalls int
}

func NewMemory() *Memory {
	return &Memory{tables: map[string]map[string]map[string]types.AttributeValue{}}
}

func str(av types.AttributeValue) string {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	}
	return ""
}

// keyOf builds the storage key from whichever key attributes are present.
func keyOf(item map[string]types.AttributeValue) string {
	if pk, ok := item["PK"]; ok {
		return str(pk) + "|" + str(item["SK"])
	}
	if st, ok := item["State"]; ok {
		return "STATE|" + str(st)
	}
	return ""
}

func (m *Memory) table(name string) map[string]map[string]types.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]types.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

// Items returns a copy of every item in a table, ordered by key.
func (m *Memory) Items(table string) []map[string]types.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(table)
}

func (m *Memory) sorted(table string) []map[string]types.AttributeValue {
	t := m.table(table)
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(t[k]))
	}
	return out
}

// Put stores an item directly, bypassing conditions.
func (m *Memory) Put(table string, item map[string]types.AttributeValue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.table(table)[keyOf(item)] = clone(item)
}

func (m *Memory) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.table(*in.TableName)[keyOf(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: clone(it)}, nil
}

func (m *Memory) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(*in.TableName)
	k := keyOf(in.Item)
	existing, exists := t[k]
	if in.ConditionExpression != nil {
		if !conditionHolds(*in.ConditionExpression, existing, exists, in.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{Message: stringPtr("conditional request failed")}
		}
	}
	t[k] = clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func conditionHolds(expr string, existing map[string]types.AttributeValue, exists bool, vals map[string]types.AttributeValue) bool {
	expr = strings.TrimSpace(expr)
	switch {
	case strings.HasPrefix(expr, "attribute_not_exists("):
		return !exists
	case strings.HasPrefix(expr, "attribute_exists("):
		return exists
	case strings.Contains(expr, "="):
		parts := strings.SplitN(expr, "=", 2)
		attr := strings.TrimSpace(parts[0])
		ref := strings.TrimSpace(parts[1])
		return exists && str(existing[attr]) == str(vals[ref])
	}
	return true
}

func (m *Memory) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(*in.TableName)
	k := keyOf(in.Key)
	it, ok := t[k]
	if !ok {
		it = clone(in.Key)
	}
	expr := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(*in.UpdateExpression), "SET"))
	for _, assign := range strings.Split(expr, ",") {
		parts := strings.SplitN(assign, "=", 2)
		if len(parts) != 2 {
			return nil, errors.New("dbtest: unsupported update expression")
		}
		it[strings.TrimSpace(parts[0])] = in.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
	}
	t[k] = it
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *Memory) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.table(*in.TableName)
	k := keyOf(in.Key)
	existing, exists := t[k]
	if in.ConditionExpression != nil {
		if !conditionHolds(*in.ConditionExpression, existing, exists, in.ExpressionAttributeValues) {
			return nil, &types.ConditionalCheckFailedException{Message: stringPtr("conditional request failed")}
		}
	}
	delete(t, k)
	out := &dynamodb.DeleteItemOutput{}
	if exists && in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = existing
	}
	return out, nil
}

// Query supports "PK = :pk" optionally followed by "AND begins_with(SK, :sk)".
func (m *Memory) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailQuery != nil {
		return nil, m.FailQuery
	}
	pk := str(in.ExpressionAttributeValues[":pk"])
	prefix := str(in.ExpressionAttributeValues[":sk"])

	var matched []map[string]types.AttributeValue
	for _, it := range m.sorted(*in.TableName) {
		if str(it["PK"]) != pk || !strings.HasPrefix(str(it["SK"]), prefix) {
			continue
		}
		matched = append(matched, it)
	}
	items, last := m.page(matched, in.ExclusiveStartKey)
	return &dynamodb.QueryOutput{Items: items, LastEvaluatedKey: last, Count: int32(len(items))}, nil
}

func (m *Memory) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items, last := m.page(m.sorted(*in.TableName), in.ExclusiveStartKey)
	return &dynamodb.ScanOutput{Items: items, LastEvaluatedKey: last, Count: int32(len(items))}, nil
}

func (m *Memory) page(all []map[string]types.AttributeValue, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	if len(start) > 0 {
		sk := keyOf(start)
		for i, it := range all {
			if keyOf(it) == sk {
				all = all[i+1:]
				break
			}
		}
	}
	if m.PageSize <= 0 || len(all) <= m.PageSize {
		return all, nil
	}
	page := all[:m.PageSize]
	lastItem := page[len(page)-1]
	last := map[string]types.AttributeValue{"PK": lastItem["PK"], "SK": lastItem["SK"]}
	return page, last
}

func (m *Memory) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.BatchCalls++
	if m.FailBatchWrite != nil {
		return nil, m.FailBatchWrite
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for name, reqs := range in.RequestItems {
		if len(reqs) > 25 {
			return nil, errors.New("dbtest: batch larger than 25")
		}
		if m.UnprocessedOnce && len(reqs) > 0 {
			m.UnprocessedOnce = false
			out.UnprocessedItems[name] = reqs[len(reqs)-1:]
			reqs = reqs[:len(reqs)-1]
		}
		t := m.table(name)
		for _, r := range reqs {
			switch {
			case r.PutRequest != nil:
				t[keyOf(r.PutRequest.Item)] = clone(r.PutRequest.Item)
			case r.DeleteRequest != nil:
				delete(t, keyOf(r.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func stringPtr(s string) *string { return &s }
