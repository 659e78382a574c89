package deadletter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
)

// ObjectAPI is the subset of the S3 client the archive needs.
type ObjectAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// Archive stores permanently failed jobs as JSON objects in a bucket.
type Archive struct {
	api    ObjectAPI
	bucket string
	prefix string
}

// NewS3Client builds an S3 client for the dead-letter bucket. A custom
// endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Client(ctx context.Context, cfg config.DeadLetterConfig) (*s3.Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("dead-letter archive is disabled")
	}

	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	}), nil
}

func NewArchive(api ObjectAPI, bucket, prefix string) *Archive {
	return &Archive{api: api, bucket: bucket, prefix: prefix}
}

// EnsureBucket checks the bucket and creates it outside production.
func (a *Archive) EnsureBucket(ctx context.Context, region string, createMissing bool) error {
	_, err := a.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	if !createMissing {
		return fmt.Errorf("bucket %s not accessible: %w", a.bucket, err)
	}

	log.Warnf("[DeadLetter] Bucket %s not found, attempting to create it", a.bucket)
	input := &s3.CreateBucketInput{Bucket: aws.String(a.bucket)}
	if region != "" && region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}
	if _, err := a.api.CreateBucket(ctx, input); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}
	log.Infof("[DeadLetter] Created bucket: %s", a.bucket)
	return nil
}

// ObjectKey is <prefix>/<queue>/<job id>.json.
func (a *Archive) ObjectKey(job *jobqueue.Job) string {
	return path.Join(a.prefix, job.Queue, job.ID+".json")
}

// Archive implements jobqueue.DeadLetterSink.
func (a *Archive) Archive(ctx context.Context, job *jobqueue.Job) error {
	body, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}
	key := a.ObjectKey(job)

	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String("application/json"),
		ContentLength: aws.Int64(int64(len(body))),
		Metadata: map[string]string{
			"job-name": job.Name,
			"attempts": strconv.Itoa(job.Attempts),
			"source":   "payfox-dead-letter",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload dead letter %s: %w", key, err)
	}

	log.Infof("[DeadLetter] Archived job %s to s3://%s/%s", job.ID, a.bucket, key)
	return nil
}

// Exists reports whether job was archived already.
func (a *Archive) Exists(ctx context.Context, job *jobqueue.Job) (bool, error) {
	_, err := a.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.ObjectKey(job)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check dead letter: %w", err)
	}
	return true, nil
}
