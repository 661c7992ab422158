package snapshot

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	gluetypes "github.com/aws/aws-sdk-go-v2/service/glue/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/writer"

	"shopmetrics/internal/segment"
)

type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type GlueAPI interface {
	GetTable(ctx context.Context, params *glue.GetTableInput, optFns ...func(*glue.Options)) (*glue.GetTableOutput, error)
	CreatePartition(ctx context.Context, params *glue.CreatePartitionInput, optFns ...func(*glue.Options)) (*glue.CreatePartitionOutput, error)
}

// Exporter writes one Parquet object per (day, shop, scheme):
//
//	<prefix>dt=YYYY-MM-DD/shop_id=<shop>/<scheme>.parquet
//
// Re-running a day overwrites the object, so the partition never holds two
// snapshots of the same scheme.
type Exporter struct {
	S3       S3API
	Glue     GlueAPI
	Bucket   string
	Prefix   string
	Database string
	Table    string
	Log      *logrus.Logger
}

func (e *Exporter) Enabled() bool {
	return e != nil && strings.TrimSpace(e.Bucket) != ""
}

func (e *Exporter) Key(dt, shop string, scheme segment.Scheme) string {
	return fmt.Sprintf("%s%s%s.parquet", ensureTrailingSlash(e.Prefix), partitionPath(dt, shop), scheme)
}

func partitionPath(dt, shop string) string {
	return fmt.Sprintf("dt=%s/shop_id=%s/", dt, shop)
}

// Export writes the report's summaries and registers the partition.
func (e *Exporter) Export(ctx context.Context, rep *segment.Report) (string, error) {
	if !e.Enabled() {
		return "", errors.New("missing env ANALYTICS_BUCKET")
	}
	dt := DateOf(rep.GeneratedAt)
	key := e.Key(dt, rep.Tenant, rep.Scheme)

	data, err := encodeParquet(RowsFrom(rep))
	if err != nil {
		return "", err
	}
	_, err = e.S3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		ACL:         s3types.ObjectCannedACLPrivate,
	})
	if err != nil {
		return "", fmt.Errorf("s3 putobject failed: %w", err)
	}

	if err := e.ensurePartition(ctx, dt, rep.Tenant); err != nil {
		// the object is in place; MSCK REPAIR can still pick it up
		e.Log.WithError(err).WithFields(logrus.Fields{"shop": rep.Tenant, "dt": dt}).Warn("glue partition not registered")
	}
	return key, nil
}

// ensurePartition adds (dt, shop_id) to the Glue table, reusing the table's
// storage descriptor with the partition's own location.
func (e *Exporter) ensurePartition(ctx context.Context, dt, shop string) error {
	if e.Glue == nil || e.Database == "" || e.Table == "" {
		return nil
	}
	out, err := e.Glue.GetTable(ctx, &glue.GetTableInput{
		DatabaseName: aws.String(e.Database),
		Name:         aws.String(e.Table),
	})
	if err != nil {
		return fmt.Errorf("glue GetTable %s.%s: %w", e.Database, e.Table, err)
	}
	if out.Table == nil || out.Table.StorageDescriptor == nil {
		return fmt.Errorf("glue table %s.%s has no storage descriptor", e.Database, e.Table)
	}

	sd := *out.Table.StorageDescriptor
	sd.Location = aws.String(ensureTrailingSlash(aws.ToString(sd.Location)) + partitionPath(dt, shop))

	_, err = e.Glue.CreatePartition(ctx, &glue.CreatePartitionInput{
		DatabaseName: aws.String(e.Database),
		TableName:    aws.String(e.Table),
		PartitionInput: &gluetypes.PartitionInput{
			Values:            []string{dt, shop},
			StorageDescriptor: &sd,
		},
	})
	if err != nil {
		var exists *gluetypes.AlreadyExistsException
		if errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("glue CreatePartition: %w", err)
	}
	return nil
}

func encodeParquet(rows []Row) ([]byte, error) {
	localPath := filepath.Join(os.TempDir(), "segment_snapshot_"+randHex(8)+".parquet")
	defer func() { _ = os.Remove(localPath) }()

	fw, err := local.NewLocalFileWriter(localPath)
	if err != nil {
		return nil, fmt.Errorf("parquet file writer: %w", err)
	}

	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet writer: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.PageSize = 8 * 1024
	pw.CompressionType = 0 // no snappy

	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			_ = pw.WriteStop()
			_ = fw.Close()
			return nil, fmt.Errorf("parquet write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("parquet write stop: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("parquet close: %w", err)
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return nil, fmt.Errorf("read parquet tmp: %w", err)
	}
	return data, nil
}

func ensureTrailingSlash(s string) string {
	if s == "" {
		return ""
	}
	if strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}

func randHex(nBytes int) string {
	b := make([]byte, nBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
