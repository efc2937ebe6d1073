package sink

import (
	"bytes"
	"context"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-enrich/internal/model"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Uploader is the subset of *manager.Uploader used by S3Sink.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Sink uploads the output workbook to s3://bucket/prefix/<run-id>/<name>.
// Re-uploading a run overwrites the same key.
type S3Sink struct {
	uploader Uploader
	bucket   string
	prefix   string
}

// NewS3Sink builds an S3Sink from the default AWS credential chain.
func NewS3Sink(ctx context.Context, region, bucket, prefix string) (*S3Sink, error) {
	if bucket == "" {
		return nil, eris.New("s3: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, eris.Wrap(err, "s3: load aws config")
	}
	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 8 * 1024 * 1024
		u.Concurrency = 2
	})
	return NewS3SinkWithUploader(uploader, bucket, prefix), nil
}

// NewS3SinkWithUploader creates an S3Sink around an existing uploader.
func NewS3SinkWithUploader(u Uploader, bucket, prefix string) *S3Sink {
	return &S3Sink{uploader: u, bucket: bucket, prefix: prefix}
}

func (s *S3Sink) Name() string { return "s3" }

// Key returns the object key for a run.
func (s *S3Sink) Key(meta Metadata) string {
	return path.Join(s.prefix, meta.RunID, OutputName(meta.Filename, meta.Partial))
}

func (s *S3Sink) Persist(ctx context.Context, results []model.ProcessedResult, meta Metadata) (*PersistResult, error) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, results, meta.Columns); err != nil {
		return nil, err
	}

	key := s.Key(meta)
	completed := meta.CompletedAt
	if completed.IsZero() {
		completed = time.Now()
	}
	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String(xlsxContentType),
		Metadata: map[string]string{
			"run-id":    meta.RunID,
			"source":    meta.Filename,
			"owner":     meta.Owner,
			"records":   strconv.Itoa(len(results)),
			"tier":      meta.Config.Tier,
			"partial":   strconv.FormatBool(meta.Partial),
			"completed": completed.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "s3: upload s3://%s/%s", s.bucket, key)
	}

	loc := "s3://" + s.bucket + "/" + key
	if out != nil && out.Location != "" {
		loc = out.Location
	}
	return &PersistResult{Location: loc, Rows: len(results)}, nil
}
