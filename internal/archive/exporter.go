// Package archive exports aged execution records to object storage so
// the hot audit table stays bounded.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"ad-automation-engine/internal/config"
	"ad-automation-engine/internal/store"
	"ad-automation-engine/internal/telemetry"
)

// objectStore is the slice of the S3 API the exporter uses.
type objectStore interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Exporter periodically moves execution records older than the
// retention window to S3 as JSON lines, then prunes the exported rows.
type Exporter struct {
	st        store.RuleStore
	client    objectStore
	bucket    string
	retention time.Duration
	interval  time.Duration
	batchSize int
}

// New builds the exporter, or returns nil when no bucket is configured.
func New(ctx context.Context, cfg config.Config, st store.RuleStore) (*Exporter, error) {
	if cfg.ArchiveBucket == "" {
		return nil, nil
	}
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Exporter{
		st:        st,
		client:    client,
		bucket:    cfg.ArchiveBucket,
		retention: cfg.ArchiveRetention,
		interval:  cfg.ArchiveInterval,
		batchSize: cfg.ArchiveBatchSize,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ArchiveRegion),
	}
	if cfg.ArchiveEndpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ArchiveEndpoint,
					HostnameImmutable: cfg.ArchivePathStyle,
					SigningRegion:     cfg.ArchiveRegion,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ArchivePathStyle
	}), nil
}

// Run sweeps on a fixed interval until the context is cancelled.
func (e *Exporter) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := e.Sweep(ctx); err != nil {
				log.Printf("archive sweep: %v", err)
			} else if n > 0 {
				log.Printf("archived %d execution records", n)
			}
		}
	}
}

// Sweep exports one batch of aged records and prunes them. Returns the
// number of records archived. The delete only happens after a
// successful upload, so a failed sweep re-exports the same batch later.
func (e *Exporter) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-e.retention)
	records, err := e.st.ExecutionsBefore(ctx, cutoff, e.batchSize)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return 0, fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		ids = append(ids, rec.ID)
	}

	key := fmt.Sprintf("executions/%s/%s.jsonl",
		records[0].At.UTC().Format("2006/01/02"),
		time.Now().UTC().Format("20060102T150405"))
	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return 0, fmt.Errorf("upload archive %s: %w", key, err)
	}

	if err := e.st.DeleteExecutions(ctx, ids); err != nil {
		return 0, fmt.Errorf("prune archived records: %w", err)
	}
	telemetry.RecordsArchived.Add(float64(len(ids)))
	return len(ids), nil
}
