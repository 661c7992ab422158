package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"shopmetrics/internal/retry"
	"shopmetrics/internal/segment"
)

const (
	batchWriteMax = 25
	currentSK     = "CURRENT"
)

// ErrConcurrentSave means another run replaced the pointer while this one was writing.
var ErrConcurrentSave = errors.New("classification replaced concurrently")

// Rows of one run live under
//
//	PK = TENANT#<shop>#SCHEME#<scheme>
//	SK = RUN#<runId>#CUSTOMER#<customerId>
//
// and the item SK = CURRENT names the run readers should follow.
type clusterItem struct {
	PK              string  `dynamodbav:"PK"`
	SK              string  `dynamodbav:"SK"`
	RunID           string  `dynamodbav:"RunId"`
	TenantID        string  `dynamodbav:"TenantId"`
	Scheme          string  `dynamodbav:"Scheme"`
	CustomerID      string  `dynamodbav:"CustomerId"`
	ClusterLabel    string  `dynamodbav:"ClusterLabel"`
	ClusterFeatures string  `dynamodbav:"ClusterFeatures"`
	Confidence      float64 `dynamodbav:"Confidence"`
	UpdatedAt       string  `dynamodbav:"UpdatedAt"`
}

type pointerItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	RunID     string `dynamodbav:"RunId"`
	Count     int    `dynamodbav:"Count"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// ClusterStore persists classifications with a generation swap: new rows are
// written under a fresh run id, the CURRENT pointer is flipped, and only then
// is the previous run deleted.
type ClusterStore struct {
	DDB   Client
	Table string
	Log   *logrus.Logger
	Now   func() time.Time
	NewID func() string
	Retry retry.Policy
}

func NewClusterStore(c Client, table string, log *logrus.Logger) *ClusterStore {
	return &ClusterStore{
		DDB:   c,
		Table: table,
		Log:   log,
		Now:   time.Now,
		NewID: uuid.NewString,
		Retry: retry.Policy{Attempts: 5, Delay: 200 * time.Millisecond, Backoff: retry.Linear},
	}
}

func clusterPK(shop string, scheme segment.Scheme) string {
	return fmt.Sprintf("TENANT#%s#SCHEME#%s", shop, scheme)
}

func runPrefix(runID string) string { return "RUN#" + runID + "#" }

func (s *ClusterStore) Save(ctx context.Context, shop string, scheme segment.Scheme, records []segment.Classified) error {
	pk := clusterPK(shop, scheme)
	prev, err := s.pointer(ctx, pk)
	if err != nil {
		return err
	}

	now := s.Now().UTC()
	runID := s.NewID()
	writes := make([]types.WriteRequest, 0, len(records))
	for _, c := range records {
		row, err := segment.ToRow(shop, scheme, c, now)
		if err != nil {
			return err
		}
		av, err := attributevalue.MarshalMap(clusterItem{
			PK:              pk,
			SK:              runPrefix(runID) + "CUSTOMER#" + row.CustomerID,
			RunID:           runID,
			TenantID:        row.TenantID,
			Scheme:          string(row.Scheme),
			CustomerID:      row.CustomerID,
			ClusterLabel:    string(row.ClusterLabel),
			ClusterFeatures: string(row.Features),
			Confidence:      row.Confidence,
			UpdatedAt:       now.Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("marshal cluster row: %w", err)
		}
		writes = append(writes, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}

	if err := s.batchWrite(ctx, writes); err != nil {
		s.dropRun(ctx, pk, runID)
		return fmt.Errorf("write run %s: %w", runID, err)
	}

	if err := s.flip(ctx, pk, prev, runID, len(records), now); err != nil {
		s.dropRun(ctx, pk, runID)
		return err
	}

	if prev != "" {
		s.dropRun(ctx, pk, prev)
	}
	return nil
}

func (s *ClusterStore) Load(ctx context.Context, shop string, scheme segment.Scheme) ([]segment.Classified, error) {
	pk := clusterPK(shop, scheme)
	runID, err := s.pointer(ctx, pk)
	if err != nil {
		return nil, err
	}
	if runID == "" {
		return []segment.Classified{}, nil
	}

	items, err := QueryAll(ctx, s.DDB, &dynamodb.QueryInput{
		TableName:              aws.String(s.Table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": S(pk),
			":sk": S(runPrefix(runID)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("query run %s: %w", runID, err)
	}

	var rows []clusterItem
	if err := attributevalue.UnmarshalListOfMaps(items, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal cluster rows: %w", err)
	}
	out := make([]segment.Classified, 0, len(rows))
	for _, r := range rows {
		updated, _ := time.Parse(time.RFC3339, r.UpdatedAt)
		c, err := segment.FromRow(segment.Row{
			TenantID:     r.TenantID,
			Scheme:       segment.Scheme(r.Scheme),
			CustomerID:   r.CustomerID,
			ClusterLabel: segment.Label(r.ClusterLabel),
			Features:     []byte(r.ClusterFeatures),
			Confidence:   r.Confidence,
			UpdatedAt:    updated,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *ClusterStore) pointer(ctx context.Context, pk string) (string, error) {
	out, err := s.DDB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.Table),
		Key:            map[string]types.AttributeValue{"PK": S(pk), "SK": S(currentSK)},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get current pointer: %w", err)
	}
	if out.Item == nil {
		return "", nil
	}
	var p pointerItem
	if err := attributevalue.UnmarshalMap(out.Item, &p); err != nil {
		return "", fmt.Errorf("unmarshal current pointer: %w", err)
	}
	return p.RunID, nil
}

// flip moves CURRENT to runID, but only if it still points at prev.
func (s *ClusterStore) flip(ctx context.Context, pk, prev, runID string, count int, now time.Time) error {
	av, err := attributevalue.MarshalMap(pointerItem{
		PK:        pk,
		SK:        currentSK,
		RunID:     runID,
		Count:     count,
		UpdatedAt: now.Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal pointer: %w", err)
	}
	in := &dynamodb.PutItemInput{TableName: aws.String(s.Table), Item: av}
	if prev == "" {
		in.ConditionExpression = aws.String("attribute_not_exists(PK)")
	} else {
		in.ConditionExpression = aws.String("RunId = :prev")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":prev": S(prev)}
	}

	if _, err := s.DDB.PutItem(ctx, in); err != nil {
		var cfe *types.ConditionalCheckFailedException
		if errors.As(err, &cfe) {
			return ErrConcurrentSave
		}
		return fmt.Errorf("put current pointer: %w", err)
	}
	return nil
}

func (s *ClusterStore) batchWrite(ctx context.Context, writes []types.WriteRequest) error {
	for start := 0; start < len(writes); start += batchWriteMax {
		end := start + batchWriteMax
		if end > len(writes) {
			end = len(writes)
		}
		pending := writes[start:end]
		err := retry.Do(ctx, s.Retry, func(ctx context.Context) error {
			out, err := s.DDB.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.Table: pending},
			})
			if err != nil {
				return err
			}
			pending = out.UnprocessedItems[s.Table]
			if len(pending) > 0 {
				return fmt.Errorf("%d unprocessed items", len(pending))
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// dropRun deletes every row of a run. Failures are logged only: rows of a run
// nobody points at are invisible to Load.
func (s *ClusterStore) dropRun(ctx context.Context, pk, runID string) {
	log := s.Log.WithFields(logrus.Fields{"pk": pk, "run": runID})
	items, err := QueryAll(ctx, s.DDB, &dynamodb.QueryInput{
		TableName:              aws.String(s.Table),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": S(pk),
			":sk": S(runPrefix(runID)),
		},
		ProjectionExpression: aws.String("PK, SK"),
	})
	if err != nil {
		log.WithError(err).Warn("list stale run failed")
		return
	}
	deletes := make([]types.WriteRequest, 0, len(items))
	for _, it := range items {
		deletes = append(deletes, types.WriteRequest{DeleteRequest: &types.DeleteRequest{
			Key: map[string]types.AttributeValue{"PK": it["PK"], "SK": it["SK"]},
		}})
	}
	if err := s.batchWrite(ctx, deletes); err != nil {
		log.WithError(err).Warn("delete stale run failed")
		return
	}
	log.WithField("rows", len(deletes)).Debug("stale run deleted")
}
