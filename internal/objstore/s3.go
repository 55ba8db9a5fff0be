package objstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/permauri/permauri/internal/snapshot"
)

// defaultCallTimeout bounds individual store calls so a hung listing can
// never stall the scheduler forever.
const defaultCallTimeout = 30 * time.Second

// S3Config configures the S3 client. Endpoint is required for
// S3-compatible services (DigitalOcean Spaces, MinIO); leave it empty for
// AWS proper.
type S3Config struct {
	Endpoint    string
	Region      string
	Bucket      string
	Prefix      string // optional sub-prefix to index; empty means the whole bucket
	AccessKey   string
	SecretKey   string
	CallTimeout time.Duration
}

// S3Store implements Store against any S3-compatible service via the AWS
// SDK.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3Store builds an S3-backed store from cfg.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// S3-compatible services rarely support virtual-hosted buckets.
			o.UsePathStyle = true
		}
	})

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		timeout: timeout,
	}, nil
}

// List walks the bucket with the ListObjectsV2 paginator. Directory
// markers and .DS_Store droppings are skipped; every remaining key is
// recorded with its ETag fingerprint and size. All entries share one
// observation timestamp: the snapshot is a view of one instant, not a
// per-object history.
func (s *S3Store) List(ctx context.Context) (snap snapshot.Snapshot, err error) {
	observedAt := time.Now().UTC()
	snap = snapshot.Snapshot{}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := s.nextPage(ctx, paginator)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrStoreUnavailable, s.bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			if skipKey(key) {
				continue
			}
			snap[key] = snapshot.Entry{
				Key:         key,
				Fingerprint: strings.Trim(aws.ToString(obj.ETag), `"`),
				Size:        aws.ToInt64(obj.Size),
				ObservedAt:  observedAt,
			}
		}
	}
	return snap, nil
}

func (s *S3Store) nextPage(ctx context.Context, p *s3.ListObjectsV2Paginator) (*s3.ListObjectsV2Output, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return p.NextPage(callCtx)
}

// Exists checks key with a HeadObject call.
func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.HeadObject(callCtx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: head %s: %v", ErrStoreUnavailable, key, err)
	}
	return true, nil
}

// PresignGet signs a GET for key valid for expiry.
func (s *S3Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return "", fmt.Errorf("%w: presign %s: %v", ErrStoreUnavailable, key, err)
	}
	return req.URL, nil
}

// skipKey filters listing entries that are not real objects: directory
// markers and macOS .DS_Store files.
func skipKey(key string) bool {
	if strings.HasSuffix(key, "/") {
		return true
	}
	lower := strings.ToLower(key)
	return lower == ".ds_store" || strings.HasSuffix(lower, "/.ds_store")
}
