package snapshot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
)

type AthenaClient interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type AthenaRunOptions struct {
	Database       string
	Workgroup      string
	OutputLocation string // s3://.../athena-results/
	MaxWait        time.Duration
	PollInterval   time.Duration
	MaxResultRows  int
}

type AthenaResult struct {
	QueryExecutionID string
	Columns          []string
	Rows             []map[string]any
	ScannedBytes     int64
}

type AthenaError struct {
	State            string
	Reason           string
	QueryExecutionID string
}

func (e *AthenaError) Error() string {
	if e.QueryExecutionID != "" {
		return fmt.Sprintf("athena %s: %s (qid=%s)", e.State, e.Reason, e.QueryExecutionID)
	}
	return fmt.Sprintf("athena %s: %s", e.State, e.Reason)
}

func RunAthenaQuery(ctx context.Context, c AthenaClient, sql string, opt AthenaRunOptions) (*AthenaResult, error) {
	if strings.TrimSpace(opt.Database) == "" {
		return nil, fmt.Errorf("missing athena database")
	}
	if strings.TrimSpace(opt.Workgroup) == "" {
		return nil, fmt.Errorf("missing athena workgroup")
	}
	if strings.TrimSpace(opt.OutputLocation) == "" {
		return nil, fmt.Errorf("missing athena output location")
	}
	if opt.MaxWait == 0 {
		opt.MaxWait = 25 * time.Second
	}
	if opt.PollInterval == 0 {
		opt.PollInterval = 700 * time.Millisecond
	}
	if opt.MaxResultRows == 0 {
		opt.MaxResultRows = 1000
	}

	startOut, err := c.StartQueryExecution(ctx, &athena.StartQueryExecutionInput{
		QueryString: aws.String(sql),
		QueryExecutionContext: &athenatypes.QueryExecutionContext{
			Database: aws.String(opt.Database),
		},
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(opt.OutputLocation),
		},
		WorkGroup: aws.String(opt.Workgroup),
	})
	if err != nil {
		return nil, fmt.Errorf("athena StartQueryExecution: %w", err)
	}
	qid := aws.ToString(startOut.QueryExecutionId)

	exec, err := waitForQuery(ctx, c, qid, opt)
	if err != nil {
		return nil, err
	}

	// Fetch results (first row is headers)
	var (
		nextToken *string
		allRows   []athenatypes.Row
		colInfo   []athenatypes.ColumnInfo
	)
	for {
		resOut, err := c.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(qid),
			NextToken:        nextToken,
			MaxResults:       aws.Int32(1000),
		})
		if err != nil {
			return nil, fmt.Errorf("athena GetQueryResults: %w", err)
		}
		if resOut.ResultSet == nil {
			break
		}
		if colInfo == nil && resOut.ResultSet.ResultSetMetadata != nil {
			colInfo = resOut.ResultSet.ResultSetMetadata.ColumnInfo
		}
		allRows = append(allRows, resOut.ResultSet.Rows...)
		if aws.ToString(resOut.NextToken) == "" || len(allRows) > opt.MaxResultRows {
			break
		}
		nextToken = resOut.NextToken
	}

	cols := make([]string, 0, len(colInfo))
	for _, c := range colInfo {
		cols = append(cols, aws.ToString(c.Name))
	}

	outRows := make([]map[string]any, 0, len(allRows))
	for i, r := range allRows {
		if i == 0 {
			continue // header row
		}
		if len(outRows) >= opt.MaxResultRows {
			break
		}
		m := map[string]any{}
		for ci, d := range r.Data {
			if ci >= len(cols) {
				continue
			}
			m[cols[ci]] = coerceScalar(aws.ToString(d.VarCharValue))
		}
		outRows = append(outRows, m)
	}

	var scanned int64
	if exec.Statistics != nil {
		scanned = aws.ToInt64(exec.Statistics.DataScannedInBytes)
	}
	return &AthenaResult{
		QueryExecutionID: qid,
		Columns:          cols,
		Rows:             outRows,
		ScannedBytes:     scanned,
	}, nil
}

func waitForQuery(ctx context.Context, c AthenaClient, qid string, opt AthenaRunOptions) (*athenatypes.QueryExecution, error) {
	deadline := time.Now().Add(opt.MaxWait)
	for {
		if time.Now().After(deadline) {
			return nil, &AthenaError{State: "TIMEOUT", Reason: "query timed out", QueryExecutionID: qid}
		}
		getOut, err := c.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(qid),
		})
		if err != nil {
			return nil, fmt.Errorf("athena GetQueryExecution: %w", err)
		}
		exec := getOut.QueryExecution
		switch exec.Status.State {
		case athenatypes.QueryExecutionStateSucceeded:
			return exec, nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return nil, &AthenaError{State: string(exec.Status.State), Reason: aws.ToString(exec.Status.StateChangeReason), QueryExecutionID: qid}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(opt.PollInterval):
		}
	}
}

func coerceScalar(v string) any {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// RepairPartitions asks Athena to discover dt/shop_id partitions that were
// written but never registered in Glue.
func RepairPartitions(ctx context.Context, c AthenaClient, table string, opt AthenaRunOptions) (string, error) {
	if opt.MaxWait == 0 {
		opt.MaxWait = 60 * time.Second
	}
	if opt.PollInterval == 0 {
		opt.PollInterval = 2 * time.Second
	}
	res, err := RunAthenaQuery(ctx, c, fmt.Sprintf("MSCK REPAIR TABLE %s", table), opt)
	if err != nil {
		return "", fmt.Errorf("repair %s: %w", table, err)
	}
	return res.QueryExecutionID, nil
}
